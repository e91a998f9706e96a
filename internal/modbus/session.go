package modbus

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// RegisterClient is the subset of the goburrow/modbus client interface
// this package uses. It is satisfied by modbus.NewClient and faked in tests.
//
// Implementations are NOT required to be safe for concurrent use; the
// Session serialises all operations.
type RegisterClient interface {
	ReadHoldingRegisters(address, quantity uint16) (results []byte, err error)
	ReadInputRegisters(address, quantity uint16) (results []byte, err error)
	ReadCoils(address, quantity uint16) (results []byte, err error)
	ReadDiscreteInputs(address, quantity uint16) (results []byte, err error)
	WriteSingleRegister(address, value uint16) (results []byte, err error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) (results []byte, err error)
	WriteSingleCoil(address, value uint16) (results []byte, err error)
}

// Coil wire values per the Modbus specification.
const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// Session is a live transport connection to one device, owned exclusively
// by the Registry. All other components obtain sessions through the
// Registry and must never hold a reference across a reconnect.
type Session struct {
	deviceID string
	params   ConnectParams

	// opMu serialises register operations - the underlying client is not
	// thread-safe.
	opMu   sync.Mutex
	client RegisterClient
	closer func() error

	// mu protects the health fields below.
	mu                  sync.RWMutex
	state               SessionState
	lastActiveAt        time.Time
	consecutiveFailures int
}

// DeviceID returns the owning device identifier.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the session's health.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		DeviceID:            s.deviceID,
		State:               s.state,
		LastActiveAt:        s.lastActiveAt,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}

// touch records successful device I/O: refreshes lastActiveAt, clears
// the failure count, and restores a degraded session to open. Only call
// sites that actually reached the device may use it; see refresh.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now().UTC()
	s.consecutiveFailures = 0
	if s.state == StateDegraded {
		s.state = StateOpen
	}
	s.mu.Unlock()
}

// refresh updates the activity timestamp without touching health state.
// Session reuse is not evidence the device is reachable, so the failure
// count accumulated by health probes must survive it.
func (s *Session) refresh() {
	s.mu.Lock()
	s.lastActiveAt = time.Now().UTC()
	s.mu.Unlock()
}

// recordFailure increments the failure count, marks the session degraded,
// and returns the new count.
func (s *Session) recordFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.state == StateOpen {
		s.state = StateDegraded
	}
	return s.consecutiveFailures
}

// close transitions the session to closed and releases the transport.
// Idempotent: closing a closed session is a no-op.
func (s *Session) close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	closer := s.closer
	s.mu.Unlock()

	if closer != nil {
		return closer()
	}
	return nil
}

// ReadRegister reads the raw words for one descriptor.
//
// The read is scoped by register kind: holding/input registers return the
// descriptor's full width; coils and discrete inputs return a single word
// of 0 or 1.
//
// Returns:
//   - []uint16: Raw words, most significant first for two-word types
//   - error: ErrSessionClosed, ErrUnsupportedKind, or the transport error
func (s *Session) ReadRegister(d RegisterDescriptor) ([]uint16, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch d.Kind {
	case KindHoldingRegister:
		data, err := s.client.ReadHoldingRegisters(d.Address, d.Words())
		if err != nil {
			return nil, fmt.Errorf("reading holding register %d: %w", d.Address, err)
		}
		return bytesToWords(data, d.Words())

	case KindInputRegister:
		data, err := s.client.ReadInputRegisters(d.Address, d.Words())
		if err != nil {
			return nil, fmt.Errorf("reading input register %d: %w", d.Address, err)
		}
		return bytesToWords(data, d.Words())

	case KindCoil:
		data, err := s.client.ReadCoils(d.Address, 1)
		if err != nil {
			return nil, fmt.Errorf("reading coil %d: %w", d.Address, err)
		}
		return bitToWord(data), nil

	case KindDiscreteInput:
		data, err := s.client.ReadDiscreteInputs(d.Address, 1)
		if err != nil {
			return nil, fmt.Errorf("reading discrete input %d: %w", d.Address, err)
		}
		return bitToWord(data), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}
}

// ReadValue reads and decodes one descriptor into an engineering value.
// The session's activity timestamp is refreshed on success.
func (s *Session) ReadValue(d RegisterDescriptor) (any, error) {
	raw, err := s.ReadRegister(d)
	if err != nil {
		return nil, err
	}

	value, err := Decode(raw, d)
	if err != nil {
		return nil, err
	}

	s.touch()
	return value, nil
}

// WriteValue encodes and writes one engineering value.
//
// Input registers and discrete inputs are read-only; attempting to write
// them is an error. Encode failures write nothing to the device.
func (s *Session) WriteValue(d RegisterDescriptor, value any) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	words, err := Encode(value, d)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	switch d.Kind {
	case KindHoldingRegister:
		if len(words) == 1 {
			if _, err := s.client.WriteSingleRegister(d.Address, words[0]); err != nil {
				return fmt.Errorf("writing register %d: %w", d.Address, err)
			}
		} else {
			if _, err := s.client.WriteMultipleRegisters(d.Address, uint16(len(words)), wordsToBytes(words)); err != nil {
				return fmt.Errorf("writing registers %d-%d: %w", d.Address, int(d.Address)+len(words)-1, err)
			}
		}

	case KindCoil:
		wire := uint16(coilOff)
		if words[0] != 0 {
			wire = coilOn
		}
		if _, err := s.client.WriteSingleCoil(d.Address, wire); err != nil {
			return fmt.Errorf("writing coil %d: %w", d.Address, err)
		}

	case KindInputRegister, KindDiscreteInput:
		return fmt.Errorf("%s registers are read-only", d.Kind)

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}

	s.touch()
	return nil
}

// ping issues a lightweight single-register read for health checking.
func (s *Session) ping(address uint16) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if _, err := s.client.ReadHoldingRegisters(address, 1); err != nil {
		return fmt.Errorf("health read at %d: %w", address, err)
	}
	return nil
}

// bytesToWords converts a big-endian byte response into register words.
func bytesToWords(data []byte, want uint16) ([]uint16, error) {
	if len(data) < int(want)*2 {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrWordCount, want*2, len(data))
	}

	words := make([]uint16, want)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return words, nil
}

// wordsToBytes converts register words into a big-endian byte payload.
func wordsToBytes(words []uint16) []byte {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(data[i*2:], w)
	}
	return data
}

// bitToWord converts a packed-bit response into a single 0/1 word.
func bitToWord(data []byte) []uint16 {
	if len(data) > 0 && data[0]&0x01 != 0 {
		return []uint16{1}
	}
	return []uint16{0}
}
