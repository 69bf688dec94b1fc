package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stateEvent is the payload on the structured state topic.
type stateEvent struct {
	Event string `json:"event"`
	Value string `json:"value"`
}

// publish sends on the current session. Non-retained QoS 0 unless stated.
func (m *Manager) publish(topic string, payload []byte, retained bool, qos byte) error {
	if !m.IsEstablished() {
		return ErrNotEstablished
	}
	if err := m.transport.Publish(topic, payload, retained, qos); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	m.logger.Debug("published", "topic", topic, "bytes", len(payload), "retained", retained)
	return nil
}

// PublishState publishes msg on the state topic.
func (m *Manager) PublishState(msg string) error {
	return m.publish(m.Topics().State, []byte(msg), false, 0)
}

// PublishStatus publishes msg on the status topic, not retained.
func (m *Manager) PublishStatus(msg string) error {
	return m.publish(m.Topics().Status, []byte(msg), false, 0)
}

// PublishStateSubTopic publishes msg below the state topic.
func (m *Manager) PublishStateSubTopic(sub, msg string) error {
	sub = strings.TrimPrefix(sub, "/")
	if sub == "" {
		return m.PublishState(msg)
	}
	return m.publish(m.Topics().State+"/"+sub, []byte(msg), false, 0)
}

// PublishStateJSON publishes {"event":event,"value":value} on the
// structured state topic.
func (m *Manager) PublishStateJSON(event, value string) error {
	payload, err := json.Marshal(stateEvent{Event: event, Value: value})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return m.publish(m.Topics().StateJSON, payload, false, 0)
}

// PublishPresence publishes v (ON or OFF) on the status topic, retained.
func (m *Manager) PublishPresence(v string) error {
	return m.publish(m.Topics().Status, []byte(v), true, m.cfg.QoS)
}

// PublishTelemetry publishes a status document on the telemetry topic,
// retained.
func (m *Manager) PublishTelemetry(doc []byte) error {
	return m.publish(m.Topics().Telemetry, doc, true, m.cfg.QoS)
}
