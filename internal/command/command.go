package command

import (
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/session"
)

// Kind identifies what a message asks for.
type Kind int

const (
	KindIgnored Kind = iota
	KindStatusRequest
	KindReboot
	KindFactoryReset
	KindPresenceHeal
	KindPassthrough
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindStatusRequest:
		return "status_request"
	case KindReboot:
		return "reboot"
	case KindFactoryReset:
		return "factory_reset"
	case KindPresenceHeal:
		return "presence_heal"
	case KindPassthrough:
		return "passthrough"
	default:
		return "ignored"
	}
}

// Command suffixes below a command topic.
const (
	suffixStatusUpdate = "statusupdate"
	suffixReboot       = "reboot"
	suffixFactoryReset = "factoryreset"
)

// Command is one interpreted message.
type Command struct {
	Kind  Kind
	Topic string
	// Suffix is the topic remainder below the command topic, without the
	// leading slash. Empty for the command topic itself.
	Suffix  string
	Payload []byte
	// Group is true when the message arrived on the group command topic.
	Group bool
}

// Parse interprets a message against the topic set in effect.
func Parse(topics session.Topics, topic string, payload []byte) Command {
	cmd := Command{Kind: KindIgnored, Topic: topic, Payload: payload}
	if topics.IsZero() {
		return cmd
	}

	suffix, group, onCommand := commandSuffix(topics, topic)
	cmd.Suffix = suffix
	cmd.Group = group

	switch {
	case onCommand && suffix == "" && len(payload) == 0:
		cmd.Kind = KindStatusRequest
	case onCommand && suffix == suffixStatusUpdate:
		cmd.Kind = KindStatusRequest
	case onCommand && suffix == suffixReboot:
		cmd.Kind = KindReboot
	case onCommand && suffix == suffixFactoryReset:
		cmd.Kind = KindFactoryReset
	case topic == topics.Status && string(payload) == session.PresenceOff:
		cmd.Kind = KindPresenceHeal
	case onCommand:
		cmd.Kind = KindPassthrough
	}
	return cmd
}

// commandSuffix matches topic against the node then the group command
// topic.
func commandSuffix(topics session.Topics, topic string) (suffix string, group, ok bool) {
	if s, ok := below(topics.Command, topic); ok {
		return s, false, true
	}
	if s, ok := below(topics.GroupCommand, topic); ok {
		return s, true, true
	}
	return "", false, false
}

func below(base, topic string) (string, bool) {
	if topic == base {
		return "", true
	}
	if rest, ok := strings.CutPrefix(topic, base+"/"); ok {
		return rest, true
	}
	return "", false
}
