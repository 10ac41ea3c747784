package connection

import "time"

// State represents the lifecycle state of a shared-memory connection.
type State string

// Connection states.
const (
	StateDisconnected State = "disconnected" // No mapping, nothing pending
	StateConnecting   State = "connecting"   // Opening and validating a region
	StateConnected    State = "connected"    // Mapped and validated
	StateReconnecting State = "reconnecting" // Health check failed, recovery pending
	StateError        State = "error"        // Last attempt failed or retries exhausted
)

// Status is the externally visible connection state.
type Status struct {
	State   State  `json:"state"`
	ShmName string `json:"shm_name,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s Status) String() string {
	switch s.State {
	case StateConnected:
		return "connected to " + s.ShmName
	case StateError:
		return "error: " + s.Error
	default:
		return string(s.State)
	}
}

// Policy controls reconnect behaviour and health checking.
type Policy struct {
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	FrameTimeout         time.Duration `json:"frame_timeout"`
}

// Policy defaults.
const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultFrameTimeout         = 5 * time.Second
)

// DefaultPolicy returns the default reconnect policy.
func DefaultPolicy() Policy {
	return Policy{
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		FrameTimeout:         DefaultFrameTimeout,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ReconnectDelay <= 0 {
		p.ReconnectDelay = d.ReconnectDelay
	}
	if p.MaxReconnectAttempts <= 0 {
		p.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if p.FrameTimeout <= 0 {
		p.FrameTimeout = d.FrameTimeout
	}
	return p
}

// Config identifies the region to attach to and how to treat it.
type Config struct {
	ShmName string `json:"shm_name"`
	Policy  Policy `json:"policy"`
	Verbose bool   `json:"verbose"`
}
