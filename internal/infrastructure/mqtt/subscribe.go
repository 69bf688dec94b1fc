package mqtt

// Subscribe subscribes to pattern at the configured QoS. Messages are
// delivered to the handler registered with OnMessage.
//
// Subscriptions are not restored on reconnect: every session starts clean
// and the session manager subscribes again after each handshake.
//
// Returns:
//   - error: nil on success, or a wrapped ErrSubscribeFailed / ErrNotConnected
//     / ErrAckPending
func (c *Client) Subscribe(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}
	qos := byte(c.cfg.QoS)
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	client, err := c.current()
	if err != nil {
		return err
	}

	return c.await(client.Subscribe(pattern, qos, c.deliver), ErrSubscribeFailed)
}
