// Package heartbeat publishes the node's periodic status document.
//
// While the session is established the Publisher sends a retained JSON
// status document to the telemetry topic every interval (five minutes by
// default) and reasserts presence ON on the status topic. A status request
// command publishes the same document immediately and restarts the
// interval.
package heartbeat
