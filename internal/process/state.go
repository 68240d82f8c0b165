package process

import "time"

// State represents the current state of a managed process.
type State string

// Process states.
const (
	StateIdle     State = "idle"     // Not started or exited cleanly
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Stop signal sent
	StateError    State = "error"    // Failed to start or exited non-zero
)

// Info is a point-in-time view of a Process.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}
