// Package escalation is the node's single path to a device restart.
//
// Every unrecoverable condition (link timeout, session retry budget spent,
// reboot and factory-reset commands, operator reboot from the portal) ends
// in Controller.ResetDevice. The controller says a best-effort goodbye to
// the broker, latches a terminal state and reports Restart to the run loop,
// which stops ticking and hands over to a platform Restarter.
//
// Nothing in this package restarts the device by itself; that keeps every
// component testable with a fake resetter.
package escalation
