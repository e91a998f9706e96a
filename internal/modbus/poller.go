package modbus

import (
	"context"
	"sync"
	"time"
)

// BatchReading is one successfully decoded register value within a batch.
type BatchReading struct {
	Key   string
	Value any
}

// BatchError records a register that failed within a batch. A failing
// register never aborts the rest of the batch.
type BatchError struct {
	Key string
	Err error
}

// Batch is the result of one poll tick for one device. Readings and
// Errors sit side by side: a batch may carry both.
type Batch struct {
	DeviceID  string
	Timestamp time.Time
	Readings  []BatchReading
	Errors    []BatchError
}

// BatchSink receives completed poll batches. Implemented by the telemetry
// ingestion service.
type BatchSink interface {
	HandleBatch(ctx context.Context, batch Batch)
}

// PollTarget describes one device to poll.
type PollTarget struct {
	DeviceID  string
	Params    ConnectParams
	Interval  time.Duration
	Registers []RegisterDescriptor
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// DefaultInterval applies when a target specifies no interval.
	DefaultInterval time.Duration

	// SweepInterval is the period of the health sweep.
	SweepInterval time.Duration

	// IdleThreshold is how long a session may sit idle before the sweep
	// probes it even when polling appears healthy. Zero disables the check.
	IdleThreshold time.Duration

	// Logger for poller operations. Defaults to a no-op logger.
	Logger Logger
}

// pollTask is one running per-device poll loop.
type pollTask struct {
	target PollTarget
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller drives periodic register reads for registered devices and emits
// one batch per tick to its sink. Each device has at most one active poll
// task; starting polling for a device that already has a task replaces it.
//
// A separate health sweep probes every polled device on its own interval,
// independent of the per-device tick, and re-acquires sessions that the
// sweep tore down.
type Poller struct {
	registry *Registry
	sink     BatchSink

	defaultInterval time.Duration
	sweepInterval   time.Duration
	idleThreshold   time.Duration
	logger          Logger

	mu    sync.Mutex
	tasks map[string]*pollTask

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	stopOnce    sync.Once
}

// NewPoller creates a poller bound to a registry and a batch sink.
func NewPoller(registry *Registry, sink BatchSink, cfg PollerConfig) *Poller {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Poller{
		registry:        registry,
		sink:            sink,
		defaultInterval: cfg.DefaultInterval,
		sweepInterval:   cfg.SweepInterval,
		idleThreshold:   cfg.IdleThreshold,
		logger:          cfg.Logger,
		tasks:           make(map[string]*pollTask),
	}
}

// StartPolling begins (or restarts) periodic polling for a device.
//
// If a poll task already exists for the device it is cancelled and its
// goroutine drained before the new one starts, so a device never has two
// active timers. A target interval of zero uses the poller default.
func (p *Poller) StartPolling(target PollTarget) {
	if target.Interval <= 0 {
		target.Interval = p.defaultInterval
	}

	p.mu.Lock()
	if existing, ok := p.tasks[target.DeviceID]; ok {
		existing.cancel()
		<-existing.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &pollTask{
		target: target,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.tasks[target.DeviceID] = task
	p.mu.Unlock()

	p.logger.Info("polling started",
		"device_id", target.DeviceID,
		"interval", target.Interval,
		"registers", len(target.Registers))

	go p.run(ctx, task)
}

// StopPolling cancels the device's poll task and waits for it to finish.
// No-op when the device is not being polled. The device's session is
// released so a later StartPolling reconnects cleanly.
func (p *Poller) StopPolling(deviceID string) {
	p.mu.Lock()
	task, ok := p.tasks[deviceID]
	if ok {
		delete(p.tasks, deviceID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	task.cancel()
	<-task.done

	if err := p.registry.Release(deviceID); err != nil {
		p.logger.Warn("error releasing session on poll stop",
			"device_id", deviceID, "error", err)
	}

	p.logger.Info("polling stopped", "device_id", deviceID)
}

// run is the per-device poll loop. One immediate poll, then one per tick.
func (p *Poller) run(ctx context.Context, task *pollTask) {
	defer close(task.done)

	p.pollOnce(ctx, task.target)

	ticker := time.NewTicker(task.target.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, task.target)
		}
	}
}

// pollOnce reads every configured register for one device and hands the
// resulting batch to the sink. Register failures are captured per register
// and never abort the batch; an acquire failure skips the tick entirely
// (the health sweep owns recovery).
func (p *Poller) pollOnce(ctx context.Context, target PollTarget) {
	sess, err := p.registry.Acquire(ctx, target.DeviceID, target.Params)
	if err != nil {
		p.logger.Warn("poll skipped, device unreachable",
			"device_id", target.DeviceID, "error", err)
		return
	}

	batch := Batch{
		DeviceID:  target.DeviceID,
		Timestamp: time.Now().UTC(),
	}

	for _, reg := range target.Registers {
		value, err := sess.ReadValue(reg)
		if err != nil {
			batch.Errors = append(batch.Errors, BatchError{Key: reg.Name, Err: err})
			p.logger.Warn("register read failed",
				"device_id", target.DeviceID,
				"register", reg.Name,
				"address", reg.Address,
				"error", err)
			continue
		}
		batch.Readings = append(batch.Readings, BatchReading{Key: reg.Name, Value: value})
	}

	if len(batch.Readings) == 0 && len(batch.Errors) == 0 {
		return
	}

	p.sink.HandleBatch(ctx, batch)
}

// StartSweep launches the health sweep loop. The sweep probes every polled
// device, and re-acquires sessions the registry tore down so devices come
// back without waiting for the next poll tick to fail.
func (p *Poller) StartSweep() {
	ctx, cancel := context.WithCancel(context.Background())
	p.sweepCancel = cancel
	p.sweepDone = make(chan struct{})

	go func() {
		defer close(p.sweepDone)

		ticker := time.NewTicker(p.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep(ctx)
			}
		}
	}()

	p.logger.Info("health sweep started", "interval", p.sweepInterval)
}

// sweep probes every polled device once.
func (p *Poller) sweep(ctx context.Context) {
	p.mu.Lock()
	targets := make([]PollTarget, 0, len(p.tasks))
	for _, task := range p.tasks {
		targets = append(targets, task.target)
	}
	p.mu.Unlock()

	for _, target := range targets {
		if ctx.Err() != nil {
			return
		}

		if info, ok := p.registry.Info(target.DeviceID); ok {
			if p.idleThreshold > 0 && time.Since(info.LastActiveAt) < p.idleThreshold {
				// Recently active; skip the probe.
				continue
			}
		}

		if p.registry.HealthCheck(ctx, target.DeviceID) {
			continue
		}

		// Unhealthy or torn down: attempt one reconnect. Failures are
		// retried on the next sweep.
		if _, err := p.registry.Acquire(ctx, target.DeviceID, target.Params); err != nil {
			p.logger.Warn("sweep reconnect failed",
				"device_id", target.DeviceID, "error", err)
		}
	}
}

// Stop cancels the sweep and every poll task, waits for them to drain,
// and releases all sessions. Safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.sweepCancel != nil {
			p.sweepCancel()
			<-p.sweepDone
		}

		p.mu.Lock()
		tasks := make(map[string]*pollTask, len(p.tasks))
		for id, task := range p.tasks {
			tasks[id] = task
		}
		p.tasks = make(map[string]*pollTask)
		p.mu.Unlock()

		for id, task := range tasks {
			task.cancel()
			<-task.done
			if err := p.registry.Release(id); err != nil {
				p.logger.Warn("error releasing session during shutdown",
					"device_id", id, "error", err)
			}
		}

		p.logger.Info("poller stopped")
	})
}
