// Package node ties the connectivity components into one run loop.
//
// A Node owns the link monitor, session manager, heartbeat publisher,
// command dispatcher, escalation controller and collaborator scheduler.
// Tick runs one pass over them in order:
//
//	link → session → heartbeat → inbound commands → collaborators
//
// Layers above a down link are skipped; collaborators always run. Once the
// escalation controller latches a reset, Tick returns escalation.Restart
// and Run returns escalation.ErrRestart without ticking again.
//
// Goroutines other than the run loop never mutate component state:
// inbound broker messages go through a bounded inbox, portal actions
// through an action queue drained by the "portal" scheduler task, and
// settings changes through the settings store's change channel.
package node
