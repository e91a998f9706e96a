package modbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockSink collects batches delivered by the poller.
type mockSink struct {
	mu      sync.Mutex
	batches []Batch
}

func (m *mockSink) HandleBatch(ctx context.Context, batch Batch) {
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockSink) last() (Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return Batch{}, false
	}
	return m.batches[len(m.batches)-1], true
}

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func testTarget(interval time.Duration) PollTarget {
	return PollTarget{
		DeviceID: "meter-001",
		Params:   testParams,
		Interval: interval,
		Registers: []RegisterDescriptor{
			{Name: "temperature", Address: 10, Kind: KindHoldingRegister, DataType: TypeInt16, Scaling: 0.1},
			{Name: "energy", Address: 20, Kind: KindHoldingRegister, DataType: TypeUint32},
		},
	}
}

func TestPoller_DeliversBatches(t *testing.T) {
	client := newFakeClient()
	client.setRegister(10, 0x00FA) // 250 raw, 25.0 scaled
	client.setRegister(20, 0x0000, 0x03E8)

	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{Connector: fakeConnector(client, &dials)})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{})
	defer poller.Stop()

	poller.StartPolling(testTarget(20 * time.Millisecond))

	if !waitFor(t, 2*time.Second, func() bool { return sink.count() >= 2 }) {
		t.Fatalf("expected at least 2 batches, got %d", sink.count())
	}

	batch, _ := sink.last()
	if batch.DeviceID != "meter-001" {
		t.Errorf("batch device = %s, want meter-001", batch.DeviceID)
	}
	if len(batch.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(batch.Readings))
	}
	if batch.Readings[0].Key != "temperature" || batch.Readings[0].Value != float64(25) {
		t.Errorf("reading 0 = %+v, want temperature=25", batch.Readings[0])
	}
	if batch.Readings[1].Key != "energy" || batch.Readings[1].Value != float64(1000) {
		t.Errorf("reading 1 = %+v, want energy=1000", batch.Readings[1])
	}
	if len(batch.Errors) != 0 {
		t.Errorf("expected no errors, got %v", batch.Errors)
	}
}

func TestPoller_RegisterErrorDoesNotAbortBatch(t *testing.T) {
	client := newFakeClient()
	client.setRegister(10, 0x00FA)
	client.setRegister(20, 0x0000, 0x03E8)

	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{Connector: fakeConnector(client, &dials)})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{})
	defer poller.Stop()

	target := testTarget(20 * time.Millisecond)
	// Register with a bogus data type fails decode but must not sink the batch.
	target.Registers = append(target.Registers, RegisterDescriptor{
		Name: "broken", Address: 30, Kind: KindHoldingRegister, DataType: "decimal",
	})

	poller.StartPolling(target)

	if !waitFor(t, 2*time.Second, func() bool { return sink.count() >= 1 }) {
		t.Fatal("expected a batch")
	}

	batch, _ := sink.last()
	if len(batch.Readings) != 2 {
		t.Errorf("expected 2 readings alongside the failure, got %d", len(batch.Readings))
	}
	if len(batch.Errors) != 1 || batch.Errors[0].Key != "broken" {
		t.Errorf("expected one error for key broken, got %v", batch.Errors)
	}
}

func TestPoller_StartTwiceSingleTimer(t *testing.T) {
	client := newFakeClient()
	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{Connector: fakeConnector(client, &dials)})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{})
	defer poller.Stop()

	poller.StartPolling(testTarget(15 * time.Millisecond))
	poller.StartPolling(testTarget(15 * time.Millisecond))

	poller.mu.Lock()
	taskCount := len(poller.tasks)
	poller.mu.Unlock()
	if taskCount != 1 {
		t.Fatalf("expected exactly 1 poll task after double start, got %d", taskCount)
	}

	// Batch rate must match a single timer: in ~150ms a 15ms timer delivers
	// at most ~11 batches (immediate poll plus ticks); two timers would
	// deliver roughly double.
	time.Sleep(150 * time.Millisecond)
	if got := sink.count(); got > 14 {
		t.Errorf("batch count %d suggests more than one active timer", got)
	}
}

func TestPoller_StopPolling(t *testing.T) {
	client := newFakeClient()
	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{Connector: fakeConnector(client, &dials)})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{})
	defer poller.Stop()

	poller.StartPolling(testTarget(10 * time.Millisecond))
	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 1 })

	poller.StopPolling("meter-001")
	stopped := sink.count()

	time.Sleep(60 * time.Millisecond)
	if got := sink.count(); got != stopped {
		t.Errorf("batches continued after stop: %d -> %d", stopped, got)
	}

	if _, ok := registry.Info("meter-001"); ok {
		t.Error("expected session released after stop")
	}
}

func TestPoller_StopPollingUnknownDevice(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Connector: failingConnector})
	poller := NewPoller(registry, &mockSink{}, PollerConfig{})
	defer poller.Stop()

	// Must not panic or block.
	poller.StopPolling("never-started")
}

func TestPoller_UnreachableDeviceSkipsTick(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Connector: failingConnector})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{})
	defer poller.Stop()

	poller.StartPolling(testTarget(10 * time.Millisecond))

	time.Sleep(60 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Errorf("expected no batches for unreachable device, got %d", got)
	}
}

func TestPoller_SweepReconnects(t *testing.T) {
	client := newFakeClient()
	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{
		Connector:        fakeConnector(client, &dials),
		FailureThreshold: 1,
	})
	sink := &mockSink{}
	poller := NewPoller(registry, sink, PollerConfig{
		SweepInterval: 20 * time.Millisecond,
	})
	defer poller.Stop()

	// Long poll interval so the sweep, not the poll loop, drives recovery.
	poller.StartPolling(testTarget(time.Hour))
	waitFor(t, 2*time.Second, func() bool { return sink.count() >= 1 })

	// Break the device: the sweep's health check tears the session down and
	// dials a replacement, so the dial count rising proves the teardown.
	client.setFailReads(true)
	poller.StartSweep()

	if !waitFor(t, 2*time.Second, func() bool { return dials.Load() >= 2 }) {
		t.Fatal("expected sweep to tear down and redial the failing session")
	}

	client.setFailReads(false)
	if !waitFor(t, 2*time.Second, func() bool {
		info, ok := registry.Info("meter-001")
		return ok && info.State == StateOpen
	}) {
		t.Fatal("expected sweep to reconnect the recovered device")
	}
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	client := newFakeClient()
	var dials atomic.Int32
	registry := NewRegistry(RegistryConfig{Connector: fakeConnector(client, &dials)})
	poller := NewPoller(registry, &mockSink{}, PollerConfig{})

	poller.StartPolling(testTarget(10 * time.Millisecond))
	poller.StartSweep()

	poller.Stop()
	poller.Stop()
}
