package link

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State is the link layer state.
type State string

const (
	StateDown       State = "down"
	StateConnecting State = "connecting"
	StateUp         State = "up"
)

type trigger string

const (
	triggerAssociate   trigger = "associate"
	triggerEstablished trigger = "established"
	triggerDrop        trigger = "drop"
	triggerShutdown    trigger = "shutdown"
)

// newMachine builds the link state machine. onTransition runs after every
// state change.
func newMachine(onTransition func(from, to State)) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateDown)

	sm.Configure(StateDown).
		Permit(triggerAssociate, StateConnecting).
		Ignore(triggerShutdown)

	sm.Configure(StateConnecting).
		Permit(triggerEstablished, StateUp).
		Permit(triggerShutdown, StateDown).
		Ignore(triggerAssociate)

	sm.Configure(StateUp).
		Permit(triggerDrop, StateConnecting).
		Permit(triggerShutdown, StateDown)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		onTransition(t.Source.(State), t.Destination.(State))
	})

	return sm
}
