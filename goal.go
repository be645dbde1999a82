package aubo_arm

import "sync"

// GoalOutcome is the terminal disposition of a trajectory goal.
type GoalOutcome int

const (
	GoalPending GoalOutcome = iota
	GoalAccepted
	GoalRejected
	GoalCanceled
	GoalSucceeded
)

func (o GoalOutcome) String() string {
	switch o {
	case GoalPending:
		return "pending"
	case GoalAccepted:
		return "accepted"
	case GoalRejected:
		return "rejected"
	case GoalCanceled:
		return "canceled"
	case GoalSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// GoalHandle is how the follower reports a goal's fate back to whoever
// submitted it. Exactly one terminal callback (rejected, canceled or
// succeeded) fires per goal; SetAccepted precedes a canceled or succeeded
// outcome.
type GoalHandle interface {
	SetAccepted()
	SetRejected(reason string)
	SetCanceled()
	SetSucceeded()
}

// goalResult is a GoalHandle the arm API bridge blocks on. Terminal
// callbacks latch the first outcome and close done; later calls are ignored.
type goalResult struct {
	mu       sync.Mutex
	outcome  GoalOutcome
	reason   string
	accepted bool
	done     chan struct{}
}

func newGoalResult() *goalResult {
	return &goalResult{done: make(chan struct{})}
}

func (g *goalResult) SetAccepted() {
	g.mu.Lock()
	g.accepted = true
	g.mu.Unlock()
}

func (g *goalResult) SetRejected(reason string) { g.finish(GoalRejected, reason) }
func (g *goalResult) SetCanceled()              { g.finish(GoalCanceled, "") }
func (g *goalResult) SetSucceeded()             { g.finish(GoalSucceeded, "") }

func (g *goalResult) finish(outcome GoalOutcome, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outcome != GoalPending {
		return
	}
	g.outcome = outcome
	g.reason = reason
	close(g.done)
}

// Done is closed once the goal reaches a terminal outcome.
func (g *goalResult) Done() <-chan struct{} { return g.done }

// Result returns the terminal outcome and, for rejections, the reason.
func (g *goalResult) Result() (GoalOutcome, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome, g.reason
}
