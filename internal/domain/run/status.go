package run

// Status represents the lifecycle status of a WorkflowRun
type Status string

const (
	StatusPending              Status = "pending"
	StatusRunning              Status = "running"
	StatusAwaitingConfirmation Status = "awaiting-confirmation"
	StatusBlocked              Status = "blocked"
	StatusCompleted            Status = "completed"
	StatusAborted              Status = "aborted"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true once the run can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// IsSuspended returns true if the run waits for a human decision
func (s Status) IsSuspended() bool {
	return s == StatusAwaitingConfirmation || s == StatusBlocked
}

// IsValid returns true if the status is one of the known values
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusAwaitingConfirmation, StatusBlocked, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

// PhaseStatus represents the status of a single phase
type PhaseStatus string

const (
	PhaseNotStarted PhaseStatus = "not-started"
	PhaseRunning    PhaseStatus = "running"
	PhaseDone       PhaseStatus = "done"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped" // optional phase whose skip predicate held
)

// String returns the string representation of the phase status
func (s PhaseStatus) String() string {
	return string(s)
}

// IsSettled returns true if the phase no longer blocks advancing
func (s PhaseStatus) IsSettled() bool {
	return s == PhaseDone || s == PhaseSkipped
}

// WorkerStatus represents the status of a worker invocation
type WorkerStatus string

const (
	WorkerSpawned WorkerStatus = "spawned"
	WorkerRunning WorkerStatus = "running"
	WorkerDone    WorkerStatus = "done"
	WorkerFailed  WorkerStatus = "failed"
)

// IsTerminal returns true if the worker finished, successfully or not
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerDone || s == WorkerFailed
}
