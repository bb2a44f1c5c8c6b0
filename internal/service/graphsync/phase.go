package graphsync

import "fmt"

// Phase is the lifecycle state of one store call.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWalking
	PhaseBatched
	PhaseCommitted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWalking:
		return "walking"
	case PhaseBatched:
		return "batched"
	case PhaseCommitted:
		return "committed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseFailed
}

var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:    {PhaseWalking},
	PhaseWalking: {PhaseBatched, PhaseFailed},
	PhaseBatched: {PhaseCommitted, PhaseFailed},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Phase) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PhaseObserver is told about every phase change of every store call.
type PhaseObserver func(callID string, from, to Phase)

type storeCall struct {
	id       string
	phase    Phase
	observer PhaseObserver
}

func (c *storeCall) transition(to Phase) error {
	from := c.phase
	if !CanTransition(from, to) {
		return fmt.Errorf("store call %s: illegal transition %s -> %s", c.id, from, to)
	}
	c.phase = to
	if c.observer != nil {
		c.observer(c.id, from, to)
	}
	return nil
}
