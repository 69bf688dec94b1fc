package settings

import (
	"errors"
	"strconv"
	"strings"
)

// Field limits.
const (
	maxNameLen         = 15
	maxHostLen         = 63
	maxCredentialLen   = 31
	maxSSIDLen         = 32
	minWPAPassphrase   = 8
	maxWPAPassphrase   = 63
	maxPortDigits      = 5
	maxPortNumber      = 65535
	mqttWildcards      = "+#/"
	nodeNameCharacters = "abcdefghijklmnopqrstuvwxyz0123456789_"
)

// Validate checks every field and returns the failures joined, or nil.
func (s Settings) Validate() error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &FieldError{Field: field, Reason: reason})
	}

	switch {
	case s.NodeName == "":
		add("node_name", "is required")
	case len(s.NodeName) > maxNameLen:
		add("node_name", "must be at most 15 characters")
	case strings.Trim(s.NodeName, nodeNameCharacters) != "":
		add("node_name", "may contain only a-z, 0-9 and _")
	}

	switch {
	case s.GroupName == "":
		add("group_name", "is required")
	case len(s.GroupName) > maxNameLen:
		add("group_name", "must be at most 15 characters")
	case strings.ContainsAny(s.GroupName, mqttWildcards):
		add("group_name", "must not contain +, # or /")
	}

	if len(s.WiFiSSID) > maxSSIDLen {
		add("wifi_ssid", "must be at most 32 bytes")
	}
	if p := len(s.WiFiPassword); p != 0 && (p < minWPAPassphrase || p > maxWPAPassphrase) {
		add("wifi_password", "must be empty or 8 to 63 characters")
	}

	if len(s.BrokerHost) > maxHostLen {
		add("mqtt_host", "must be at most 63 characters")
	}
	if s.BrokerHost != "" && strings.ContainsAny(s.BrokerHost, " /") {
		add("mqtt_host", "must be a host name or address")
	}
	if _, ok := parsePort(s.BrokerPort); !ok {
		add("mqtt_port", "must be a port between 1 and 65535")
	}
	if len(s.BrokerUser) > maxCredentialLen {
		add("mqtt_user", "must be at most 31 characters")
	}
	if len(s.BrokerPassword) > maxCredentialLen {
		add("mqtt_password", "must be at most 31 characters")
	}

	if s.PortalUser == "" {
		add("portal_user", "is required")
	} else if len(s.PortalUser) > maxCredentialLen {
		add("portal_user", "must be at most 31 characters")
	}

	return errors.Join(errs...)
}

func parsePort(v string) (int, bool) {
	if v == "" || len(v) > maxPortDigits {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxPortNumber {
		return 0, false
	}
	return n, true
}
