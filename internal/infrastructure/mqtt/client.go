package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

// Client is the node's broker transport.
//
// A fresh paho client is built for every Connect so that the client ID,
// credentials and last will always reflect the identity current at the
// time of the attempt.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cfg    config.SessionConfig
	logger Logger

	// newClient is swapped in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu        sync.Mutex
	client    pahomqtt.Client
	keepAlive time.Duration
	clean     bool
	will      *lastWill

	handlerMu sync.RWMutex
	handler   MessageHandler

	lastCode atomic.Int32
}

// Logger is the logging surface the transport needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives every inbound message, on a paho goroutine.
type MessageHandler func(topic string, payload []byte)

// New creates a disconnected transport.
//
// Parameters:
//   - cfg: Session configuration (QoS, TLS, handshake timeout)
//   - logger: Optional logger; nil discards
//
// Returns:
//   - *Client: Transport ready for SetOptions/SetLastWill/Connect
func New(cfg config.SessionConfig, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		newClient: pahomqtt.NewClient,
		keepAlive: cfg.GetKeepAlive(),
		clean:     cfg.CleanSession,
	}
	c.lastCode.Store(CodeNeverTried)
	return c
}

// SetOptions sets keep-alive and clean-session for subsequent connects.
func (c *Client) SetOptions(keepAlive time.Duration, cleanSession bool) {
	c.mu.Lock()
	c.keepAlive = keepAlive
	c.clean = cleanSession
	c.mu.Unlock()
}

// SetLastWill registers the retained QoS 1 message the broker publishes if
// this node vanishes. Applies to subsequent connects.
func (c *Client) SetLastWill(topic, payload string) {
	c.mu.Lock()
	c.will = &lastWill{topic: topic, payload: payload}
	c.mu.Unlock()
}

// OnMessage registers the handler for all inbound messages.
func (c *Client) OnMessage(handler func(topic string, payload []byte)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// Connect starts a handshake with the broker and returns immediately.
//
// Any previous paho client is closed first. The returned channel yields
// exactly one value, nil on success or an error wrapping
// ErrConnectionFailed, and is then closed.
//
// Parameters:
//   - host, port: Broker endpoint
//   - clientID: Session identifier presented to the broker
//   - username, password: Optional credentials (empty username means anonymous)
//
// Returns:
//   - <-chan error: Result of the attempt
func (c *Client) Connect(host string, port int, clientID, username, password string) <-chan error {
	result := make(chan error, 1)

	if host == "" || port <= 0 {
		c.lastCode.Store(CodeNetworkError)
		result <- fmt.Errorf("%w: %w", ErrConnectionFailed, ErrInvalidEndpoint)
		close(result)
		return result
	}

	c.mu.Lock()
	if c.client != nil {
		c.client.Disconnect(0)
	}
	opts := c.buildClientOptions(connectParams{
		host:      host,
		port:      port,
		clientID:  clientID,
		username:  username,
		password:  password,
		keepAlive: c.keepAlive,
		clean:     c.clean,
		will:      c.will,
	})
	client := c.newClient(opts)
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	go func() {
		result <- c.awaitConnect(token)
		close(result)
	}()
	return result
}

// awaitConnect blocks until the handshake token resolves and records the
// CONNACK code.
func (c *Client) awaitConnect(token pahomqtt.Token) error {
	// paho's own connect timeout normally fires first; the margin only
	// covers a token that never resolves.
	if !token.WaitTimeout(c.cfg.GetConnectTimeout() + time.Second) {
		c.lastCode.Store(CodeTimeout)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ErrTimeout)
	}

	err := token.Error()
	c.lastCode.Store(int32(returnCode(token, err)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// returnCode maps a finished connect token to a LastErrorCode value.
func returnCode(token pahomqtt.Token, err error) int {
	if err == nil {
		return CodeAccepted
	}
	if ct, ok := token.(*pahomqtt.ConnectToken); ok {
		if rc := ct.ReturnCode(); rc >= 1 && rc <= 5 {
			return int(rc)
		}
	}
	return CodeNetworkError
}

// LastErrorCode returns the result code of the most recent connect attempt.
func (c *Client) LastErrorCode() int {
	return int(c.lastCode.Load())
}

// Connected reports whether the underlying connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Disconnect closes the session, allowing a short quiesce for in-flight
// publishes. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// current returns the live paho client, or ErrNotConnected.
func (c *Client) current() (pahomqtt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || !c.client.IsConnectionOpen() {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// deliver hands an inbound message to the registered handler with panic recovery.
func (c *Client) deliver(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
		}
	}()

	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()

	if h == nil {
		c.logger.Debug("message dropped, no handler", "topic", msg.Topic())
		return
	}
	h(msg.Topic(), msg.Payload())
}
