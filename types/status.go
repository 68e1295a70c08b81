package types

// Status is the lifecycle state of an order.
//
// Transitions are strictly monotonic:
//
//	queued -> running -> succeeded | failed | timed_out
//	queued -> failed              (dependency doomed)
//
// No order ever leaves a terminal state.
type Status string

// Order status constants.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// IsTerminal returns true if the status is one of the three terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// ExecutionTarget selects the backend an order is dispatched to.
type ExecutionTarget string

// Execution backend constants. All three honour the same callback contract.
const (
	TargetInline      ExecutionTarget = "inline"
	TargetContainer   ExecutionTarget = "container"
	TargetRemoteAgent ExecutionTarget = "remote-agent"
)

// Valid reports whether t is a known execution target.
func (t ExecutionTarget) Valid() bool {
	switch t {
	case TargetInline, TargetContainer, TargetRemoteAgent:
		return true
	}
	return false
}

// ExecutionTargets lists the known targets, for validation messages.
func ExecutionTargets() []ExecutionTarget {
	return []ExecutionTarget{TargetContainer, TargetInline, TargetRemoteAgent}
}

// Event type constants for the order events collection.
const (
	EventJobStarted       = "job_started"
	EventJobCompleted     = "job_completed"
	EventDispatched       = "dispatched"
	EventCompleted        = "completed"
	EventDependencyFailed = "dependency_failed"
)

// JobOrderName is the reserved order name used for job-level events.
const JobOrderName = "_job"

// StartOrderNum is the reserved order number of the admission start marker.
// A callback result written under this number kicks off the first
// orchestrator pass; it never corresponds to a real order.
const StartOrderNum = "0000"
