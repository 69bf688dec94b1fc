package heartbeat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Availability values of Status.Status.
const (
	Available   = "available"
	Unavailable = "unavailable"
)

// Status is the document published on the telemetry topic.
type Status struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Uptime         int64  `json:"uptime"`
	SignalStrength int    `json:"signalStrength"`
	IP             string `json:"ip"`
	MemFree        uint64 `json:"memFree"`
	Platform       string `json:"platform"`
	Kernel         string `json:"kernel"`
	BootID         string `json:"bootId"`
	SessionRC      string `json:"sessionRc"`
}

// Marshal encodes the document.
func (s Status) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Fields flattens the document for time-series recorders.
func (s Status) Fields() map[string]any {
	return map[string]any{
		"status":          s.Status,
		"version":         s.Version,
		"uptime":          s.Uptime,
		"signal_strength": s.SignalStrength,
		"ip":              s.IP,
		"mem_free":        s.MemFree,
		"boot_id":         s.BootID,
		"session_rc":      s.SessionRC,
	}
}

// ParseStatus decodes a status document. Unknown fields and documents
// without an availability value are rejected.
func ParseStatus(data []byte) (Status, error) {
	var s Status
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}
	if s.Status != Available && s.Status != Unavailable {
		return Status{}, fmt.Errorf("%w: status %q", ErrInvalidStatus, s.Status)
	}
	return s, nil
}
