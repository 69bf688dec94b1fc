package escalation

import "errors"

var (
	// ErrRestart is returned by the run loop once a reset has been latched.
	ErrRestart = errors.New("escalation: device restart requested")

	// ErrRestartReturned is returned when a Restarter comes back instead of
	// replacing or ending the process.
	ErrRestartReturned = errors.New("escalation: restart did not take effect")

	// ErrUnknownMode is returned for an unrecognised reset mode.
	ErrUnknownMode = errors.New("escalation: unknown reset mode")
)
