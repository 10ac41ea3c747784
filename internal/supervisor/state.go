package supervisor

import "time"

// State represents the lifecycle state of the supervised process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started
	StateStarting State = "starting" // Launching
	StateRunning  State = "running"  // Active
	StateWaiting  State = "waiting"  // Exited, restart pending
	StateStopping State = "stopping" // Being stopped
	StateStopped  State = "stopped"  // Stopped on request
	StateFailed   State = "failed"   // Restart limit reached or command invalid
)

// Info is a snapshot of the supervised process.
type Info struct {
	Command      string    `json:"command"`
	State        State     `json:"state"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	Restarts     int       `json:"restarts"`
	LastExitCode int       `json:"last_exit_code"`
	LastError    string    `json:"last_error,omitempty"`
}
