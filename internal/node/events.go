package node

import "time"

// Event types sent to observers.
const (
	EventLink          = "link"
	EventSession       = "session"
	EventConnectFailed = "connect_failed"
	EventHeartbeat     = "heartbeat"
	EventCommand       = "command"
	EventPassthrough   = "passthrough"
	EventSettings      = "settings"
	EventReset         = "reset"
	EventInboxDropped  = "inbox_dropped"
)

// Event is a connectivity event for observers such as the portal event
// stream, metrics and the time-series recorder.
type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Observer receives events. Observers run on the goroutine that raised
// the event, usually the run loop, and must not block.
type Observer func(Event)
