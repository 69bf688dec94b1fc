package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// defaultAckTimeout bounds how long a publish or subscribe waits for its
	// acknowledgement when session.ack_timeout is unset. Calls come from the
	// run loop, so this is also how long one of them can hold a tick.
	defaultAckTimeout = 50 * time.Millisecond

	// defaultDisconnectQuiesce is the time allowed for in-flight work on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// connectParams is everything that varies between connect attempts.
type connectParams struct {
	host      string
	port      int
	clientID  string
	username  string
	password  string
	keepAlive time.Duration
	clean     bool
	will      *lastWill
}

type lastWill struct {
	topic   string
	payload string
}

// brokerURL formats the paho server URL for host and port.
func brokerURL(host string, port int, useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// buildClientOptions creates paho options for one connect attempt.
//
// This configures:
//   - Broker URL (tcp:// or ssl://)
//   - Client ID, credentials and clean session
//   - Keep-alive and connect timeout
//   - Last Will (retained, QoS 1) when one has been set
//   - No library-driven reconnection
func (c *Client) buildClientOptions(p connectParams) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(p.host, p.port, c.cfg.TLS))
	opts.SetClientID(p.clientID)

	if p.username != "" {
		opts.SetUsername(p.username)
		opts.SetPassword(p.password)
	}

	opts.SetCleanSession(p.clean)
	opts.SetKeepAlive(p.keepAlive)
	opts.SetConnectTimeout(c.cfg.GetConnectTimeout())

	// The session state machine owns reconnection and its retry budget.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if p.will != nil {
		opts.SetWill(p.will.topic, p.will.payload, 1, true)
	}

	if c.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warn("broker connection lost", "error", err)
	})

	return opts
}
