package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// Logger interface for registry logging.
// Allows injection of the application's structured logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output (used when no logger is injected).
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Connector dials a device endpoint and returns a register client plus a
// function that releases the transport. Injected in tests; production uses
// the goburrow TCP client.
type Connector func(params ConnectParams, timeout time.Duration) (RegisterClient, func() error, error)

// StatusReporter records device-level health transitions in the device
// directory. Implemented by the device repository.
type StatusReporter interface {
	MarkError(ctx context.Context, deviceID string) error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Connector dials endpoints. Defaults to the goburrow TCP client.
	Connector Connector

	// ConnectTimeout bounds each dial and each register operation.
	ConnectTimeout time.Duration

	// FailureThreshold is the number of consecutive health-check failures
	// after which the device is marked errored and its session torn down.
	FailureThreshold int

	// HealthAddress is the holding register probed by health checks.
	HealthAddress uint16

	// Status receives device error transitions. Optional.
	Status StatusReporter

	// OnSessionChange is invoked after a session opens or closes. Optional;
	// used to publish connectivity events. Called outside registry locks.
	OnSessionChange func(deviceID string, state SessionState)

	// Logger for registry operations. Defaults to a no-op logger.
	Logger Logger
}

// Registry owns every live device session. It guarantees at most one
// non-closed session per device identifier and serialises connection
// attempts per device so concurrent acquirers share one dial.
type Registry struct {
	connector        Connector
	connectTimeout   time.Duration
	failureThreshold int
	healthAddress    uint16
	status           StatusReporter
	onSessionChange  func(deviceID string, state SessionState)
	logger           Logger

	// mu protects the maps only; per-device serialisation uses locks.
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewRegistry creates a session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Connector == nil {
		cfg.Connector = dialTCP
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	return &Registry{
		connector:        cfg.Connector,
		connectTimeout:   cfg.ConnectTimeout,
		failureThreshold: cfg.FailureThreshold,
		healthAddress:    cfg.HealthAddress,
		status:           cfg.Status,
		onSessionChange:  cfg.OnSessionChange,
		logger:           cfg.Logger,
	}
}

// dialTCP is the production connector backed by goburrow/modbus.
func dialTCP(params ConnectParams, timeout time.Duration) (RegisterClient, func() error, error) {
	handler := gomodbus.NewTCPClientHandler(params.Address())
	handler.Timeout = timeout
	handler.SlaveId = params.UnitID

	if err := handler.Connect(); err != nil {
		return nil, nil, err
	}
	return gomodbus.NewClient(handler), handler.Close, nil
}

// lockFor returns the per-device mutex, creating it on first use.
// Device locks are never removed; the set of devices is small and stable.
func (r *Registry) lockFor(deviceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := r.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[deviceID] = lock
	}
	return lock
}

// get returns the stored session for a device, or nil.
func (r *Registry) get(deviceID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[deviceID]
}

// store replaces the stored session for a device.
func (r *Registry) store(deviceID string, sess *Session) {
	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*Session)
	}
	r.sessions[deviceID] = sess
	r.mu.Unlock()
}

// remove deletes the stored session if it is still the given one.
func (r *Registry) remove(deviceID string, sess *Session) {
	r.mu.Lock()
	if r.sessions[deviceID] == sess {
		delete(r.sessions, deviceID)
	}
	r.mu.Unlock()
}

// Acquire returns a healthy session for the device, connecting if needed.
//
// An existing open or degraded session is reused with its activity
// timestamp refreshed. A closed or missing session triggers a dial under
// the device's lock, so concurrent acquirers for the same device wait for
// the first attempt instead of racing duplicate connections.
//
// Connection failures are returned immediately. The caller (or the health
// sweep) decides when to retry; Acquire never loops.
//
// Parameters:
//   - ctx: Cancellation for the dial
//   - deviceID: Device identifier owning the session
//   - params: Endpoint to dial when no live session exists
//
// Returns:
//   - *Session: Live session for register operations
//   - error: ErrConnectionFailed (wrapped) or ctx.Err()
func (r *Registry) Acquire(ctx context.Context, deviceID string, params ConnectParams) (*Session, error) {
	lock := r.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if existing := r.get(deviceID); existing != nil {
		if existing.State() != StateClosed {
			// Refresh activity only. Clearing the failure count here
			// would let routine poll-tick reuse outrun the health sweep
			// and keep an unreachable device below the error threshold.
			existing.refresh()
			return existing, nil
		}
		// Stale closed session still mapped; drop it before dialing.
		r.remove(deviceID, existing)
	}

	r.logger.Debug("connecting to device", "device_id", deviceID, "address", params.Address())

	client, closer, err := r.connector(params, r.connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %s: %v", ErrConnectionFailed, deviceID, params.Address(), err)
	}

	sess := &Session{
		deviceID:     deviceID,
		params:       params,
		client:       client,
		closer:       closer,
		state:        StateOpen,
		lastActiveAt: time.Now().UTC(),
	}
	r.store(deviceID, sess)

	r.logger.Info("device session opened", "device_id", deviceID, "address", params.Address())
	r.notify(deviceID, StateOpen)

	return sess, nil
}

// Release closes and removes the device's session. Idempotent: releasing
// a device with no session is a no-op.
func (r *Registry) Release(deviceID string) error {
	lock := r.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	return r.releaseLocked(deviceID)
}

// releaseLocked closes the session while the device lock is held.
func (r *Registry) releaseLocked(deviceID string) error {
	sess := r.get(deviceID)
	if sess == nil {
		return nil
	}

	err := sess.close()
	r.remove(deviceID, sess)

	r.logger.Info("device session closed", "device_id", deviceID)
	r.notify(deviceID, StateClosed)

	if err != nil {
		return fmt.Errorf("closing session for %s: %w", deviceID, err)
	}
	return nil
}

// HealthCheck probes the device's session with a lightweight read and
// returns whether the session is healthy.
//
// A successful probe clears the failure count and restores a degraded
// session to open. A failed probe increments the count; once it reaches
// the failure threshold the device is marked errored in the directory and
// the session is torn down so the next Acquire reconnects.
//
// Devices without a session report unhealthy without side effects.
func (r *Registry) HealthCheck(ctx context.Context, deviceID string) bool {
	lock := r.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	sess := r.get(deviceID)
	if sess == nil || sess.State() == StateClosed {
		return false
	}

	err := sess.ping(r.healthAddress)
	if err == nil {
		sess.touch()
		return true
	}

	failures := sess.recordFailure()
	r.logger.Warn("device health check failed",
		"device_id", deviceID,
		"consecutive_failures", failures,
		"error", err)

	if failures >= r.failureThreshold {
		r.logger.Error("device unreachable, tearing down session",
			"device_id", deviceID,
			"consecutive_failures", failures)

		if r.status != nil {
			if markErr := r.status.MarkError(ctx, deviceID); markErr != nil {
				r.logger.Error("failed to mark device errored",
					"device_id", deviceID, "error", markErr)
			}
		}
		if relErr := r.releaseLocked(deviceID); relErr != nil {
			r.logger.Warn("error releasing failed session",
				"device_id", deviceID, "error", relErr)
		}
	}
	return false
}

// Info returns a health snapshot for the device's session.
func (r *Registry) Info(deviceID string) (SessionInfo, bool) {
	sess := r.get(deviceID)
	if sess == nil {
		return SessionInfo{}, false
	}
	return sess.Info(), true
}

// ActiveSessions returns snapshots of every live session.
func (r *Registry) ActiveSessions() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// Close releases every session. Called during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	deviceIDs := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		deviceIDs = append(deviceIDs, id)
	}
	r.mu.Unlock()

	for _, id := range deviceIDs {
		if err := r.Release(id); err != nil {
			r.logger.Warn("error releasing session during shutdown",
				"device_id", id, "error", err)
		}
	}
}

// notify invokes the session-change callback if configured.
func (r *Registry) notify(deviceID string, state SessionState) {
	if r.onSessionChange != nil {
		r.onSessionChange(deviceID, state)
	}
}
