package session

import (
	"net"
	"strconv"
	"strings"
)

// DefaultPrefix is the first topic level used when none is configured.
const DefaultPrefix = "esp"

// Presence payloads on the status topic.
const (
	PresenceOn  = "ON"
	PresenceOff = "OFF"
)

// Topics is the immutable topic set for one connect attempt.
type Topics struct {
	Command      string
	GroupCommand string
	State        string
	StateJSON    string
	Status       string
	Telemetry    string
}

// NewTopics builds the topic set for node and group under prefix.
func NewTopics(prefix, node, group string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	base := prefix + "/" + node
	return Topics{
		Command:      base + "/command",
		GroupCommand: prefix + "/" + group + "/command",
		State:        base + "/state",
		StateJSON:    base + "/state/json",
		Status:       base + "/status",
		Telemetry:    base + "/sensor",
	}
}

// Subscriptions returns the patterns subscribed on every connect.
func (t Topics) Subscriptions() []string {
	return []string{
		t.Command + "/#",
		t.GroupCommand + "/#",
		t.Status,
	}
}

// IsZero reports whether no attempt has built topics yet.
func (t Topics) IsZero() bool {
	return t.Command == ""
}

// ClientID returns the session id: the node name, a dash, and the
// hardware address as lowercase hex with no separators or zero padding.
func ClientID(node string, hw net.HardwareAddr) string {
	var b strings.Builder
	b.WriteString(node)
	b.WriteByte('-')
	for _, octet := range hw {
		b.WriteString(strconv.FormatUint(uint64(octet), 16))
	}
	return b.String()
}
