// Package mqtt provides the broker transport for the node's session.
//
// This package manages:
//   - A single paho client per connect attempt, built fresh each time
//   - Last Will registration ahead of the handshake
//   - QoS-bounded publishing and wildcard subscriptions
//   - Inbound message delivery through one registered handler
//   - The CONNACK result code of the last attempt, for diagnostics
//
// # Architecture
//
// Unlike a hub service, a field node must not let its MQTT library decide
// when to reconnect. Auto-reconnect and connect-retry are disabled here;
// the session state machine owns every attempt, its backoff and the retry
// ceiling that escalates to a device restart.
//
//	session.Manager → Client.Connect → (paho) → broker
//	                ← result channel  ←
//
// Connect never blocks. It returns a channel that yields exactly one
// result, which the session polls once per tick.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The message handler is invoked
// on paho's goroutines; callers that need single-threaded processing must
// queue messages themselves.
//
// # Usage
//
//	client := mqtt.New(cfg.Session, logger)
//	client.SetOptions(30*time.Second, true)
//	client.SetLastWill("esp/dev1/status", "OFF")
//	result := client.Connect("broker.local", 1883, "dev1-a1b2c3", "", "")
//	...
//	select {
//	case err := <-result:
//	    // established, or failed with client.LastErrorCode()
//	default:
//	    // still handshaking
//	}
package mqtt
