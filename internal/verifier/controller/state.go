package controller

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/obdverify/internal/pkg/util/fsm"
	"github.com/autopeer-io/obdverify/internal/pkg/metrics"
)

// State is the state of a run.
type State string

const (
	// StateIdle is the state before the first execution.
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

var allStates = []string{
	string(StateIdle),
	string(StateRunning),
	string(StateCompleted),
	string(StateStopped),
	string(StateAborted),
	string(StateFailed),
}

// Interrupted reports whether s forces the run to unwind.
func (s State) Interrupted() bool {
	return s == StateStopped || s == StateAborted || s == StateFailed
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s.Interrupted()
}

const (
	EventComplete = "event_complete"
	EventStop     = "event_stop"
	EventAbort    = "event_abort"
	EventFail     = "event_fail"
)

func newStateMachine() *fsm.FSM {
	running := string(StateRunning)
	events := fsm.Events{
		{Name: EventComplete, Src: []string{running}, Dst: string(StateCompleted)},
		// A stop racing the end of the body still wins until the run is finalized.
		{Name: EventStop, Src: []string{running, string(StateCompleted)}, Dst: string(StateStopped)},
		{Name: EventAbort, Src: []string{running}, Dst: string(StateAborted)},
		{Name: EventFail, Src: []string{running}, Dst: string(StateFailed)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(_ context.Context, e *fsm.Event) error {
			metrics.SetRunState(e.Dst, allStates)
			return nil
		}),
	}

	metrics.SetRunState(running, allStates)
	return fsm.NewFSM(running, events, callbacks)
}
