package session

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State is the session layer state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateEstablished  State = "established"
)

type trigger string

const (
	triggerAttempt   trigger = "attempt"
	triggerConnected trigger = "connected"
	triggerFailed    trigger = "failed"
	triggerLost      trigger = "lost"
	triggerClose     trigger = "close"
)

func newMachine(onTransition func(from, to State)) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateDisconnected)

	sm.Configure(StateDisconnected).
		Permit(triggerAttempt, StateConnecting).
		Ignore(triggerClose)

	sm.Configure(StateConnecting).
		Permit(triggerConnected, StateEstablished).
		Permit(triggerFailed, StateDisconnected).
		Permit(triggerClose, StateDisconnected)

	sm.Configure(StateEstablished).
		Permit(triggerLost, StateDisconnected).
		Permit(triggerClose, StateDisconnected)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		onTransition(t.Source.(State), t.Destination.(State))
	})

	return sm
}
