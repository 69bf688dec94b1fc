// Package session maintains the node's broker session.
//
// The Manager is driven by Tick from the run loop. Each connect attempt
// rebuilds the topic set and client ID from the current identity, so a
// node or group rename saved through the portal takes effect on the next
// attempt without a restart. Failed attempts wait a flat backoff; when the
// retry ceiling is exceeded the Manager hands over to the escalation
// controller and stops trying.
//
// Topic layout (prefix "esp" by default):
//
//	esp/<node>/command[/...]   inbound, subscribed as esp/<node>/command/#
//	esp/<group>/command[/...]  inbound, subscribed as esp/<group>/command/#
//	esp/<node>/status          presence ON/OFF, retained, last will OFF
//	esp/<node>/sensor          status document, retained
//	esp/<node>/state[/...]     outbound state
//	esp/<node>/state/json      outbound JSON events
//
// Publishing is safe from any goroutine; Tick, ConfigChanged and
// Disconnect belong to the run loop.
package session
