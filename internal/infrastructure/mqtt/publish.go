package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single publish. Status documents are well under 1 KiB.
const maxPayloadSize = 64 << 10

// Publish sends payload to topic and waits up to the ack timeout for the
// acknowledgement.
//
// Parameters:
//   - topic: Destination topic
//   - payload: Message body
//   - retained: Whether the broker keeps it for late subscribers
//   - qos: 0, 1 or 2
//
// Returns:
//   - error: nil on success, or a wrapped ErrPublishFailed / ErrNotConnected.
//     ErrAckPending means the message is queued but not yet acknowledged.
func (c *Client) Publish(topic string, payload []byte, retained bool, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	client, err := c.current()
	if err != nil {
		return err
	}

	return c.await(client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// await waits for token for at most the ack timeout.
func (c *Client) await(token pahomqtt.Token, failed error) error {
	timeout := c.ackTimeout()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrAckPending, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failed, err)
	}
	return nil
}

func (c *Client) ackTimeout() time.Duration {
	if d := c.cfg.GetAckTimeout(); d > 0 {
		return d
	}
	return defaultAckTimeout
}
