package explorer

import (
	"fmt"
	"sync/atomic"
)

// State is the stage of the evaluation a worker is performing.
type State int32

const (
	Idle State = iota
	Generating
	Building
	Running
	Measuring
	Recording
	Done
)

var stateNames = [...]string{"idle", "generating", "building", "running", "measuring", "recording", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// transitions lists the legal successors of each state. Failed and pruned
// points skip straight to Recording.
var transitions = map[State][]State{
	Idle:       {Generating, Done},
	Generating: {Building, Recording},
	Building:   {Running, Recording},
	Running:    {Measuring, Recording},
	Measuring:  {Recording},
	Recording:  {Generating, Done},
}

// TransitionError reports a move the state machine does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Lifecycle tracks the state of one worker. It is safe to read from other
// goroutines while the worker advances it.
type Lifecycle struct {
	state atomic.Int32
}

// State atomically returns the current state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// Transition moves to the next state if the move is legal.
func (l *Lifecycle) Transition(to State) error {
	for {
		from := l.State()
		if !allowed(from, to) {
			return &TransitionError{From: from, To: to}
		}
		if l.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
