package interactions

import "time"

// State is a step of the interaction request lifecycle. States are strictly
// ordered; a failed gate is terminal.
type State int

const (
	StateReceived State = iota
	StateMethodChecked
	StateOriginChecked
	StateBodyRead
	StateParsed
	StateContextPresent
	StateTokenVerified
	StateActionIdentified
	StateDispatched
	StatePostUpdated
	StateResponded
)

var stateNames = [...]string{
	"received",
	"method_checked",
	"origin_checked",
	"body_read",
	"parsed",
	"context_present",
	"token_verified",
	"action_identified",
	"dispatched",
	"post_updated",
	"responded",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// GateError is a terminal rejection owned by the gate that produced it.
type GateError struct {
	// Gate is the state that could not be reached.
	Gate    State
	Status  int
	Message string
}

func (e *GateError) Error() string {
	return "interactions: rejected at " + e.Gate.String() + ": " + e.Message
}

// StepResult reports a best-effort step. Err is logged by the handler and
// never changes the response.
type StepResult struct {
	Step     string
	Skipped  bool
	Reason   string
	Err      error
	Duration time.Duration
}

// OK reports whether the step ran and succeeded.
func (r StepResult) OK() bool { return !r.Skipped && r.Err == nil }

// Outcome summarizes one handled request.
type Outcome struct {
	AccountID string
	ActionID  string
	// Reached is the last state entered.
	Reached   State
	Status    int
	Duration  time.Duration
	Rejection *GateError
	Aborted   bool
	Dispatch  StepResult
	Update    StepResult
}
