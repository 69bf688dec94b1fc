// Package link keeps the node's wireless link up.
//
// The Monitor is a tick-driven state machine over Down, Connecting and Up.
// It asks its Driver to associate, waits for both association and a usable
// local address, and watches for drops once Up. An attempt that outlives
// its timeout escalates to a device reset; nothing in this package sleeps.
//
//	Down ──associate──▶ Connecting ──established──▶ Up
//	                        ▲                        │
//	                        └─────────drop───────────┘
//
// The first attempt after boot is bounded by the connect timeout (300 s by
// default); re-association after a drop by the much shorter reconnect
// timeout, because a node that had a link and lost it is better served by
// a clean restart than by a long wait.
package link
