package session

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qmuntal/stateless"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
)

// handshakeGrace is added to the transport's own connect timeout before
// the Manager abandons an attempt.
const handshakeGrace = time.Second

// Transport is the broker client. Implemented by infrastructure/mqtt.Client.
type Transport interface {
	SetOptions(keepAlive time.Duration, cleanSession bool)
	SetLastWill(topic, payload string)
	// Connect starts a handshake and delivers its result on the channel.
	Connect(host string, port int, clientID, username, password string) <-chan error
	Subscribe(pattern string) error
	Publish(topic string, payload []byte, retained bool, qos byte) error
	Disconnect()
	Connected() bool
	LastErrorCode() int
	OnMessage(handler func(topic string, payload []byte))
}

// ConfigSource supplies broker and identity settings. Read on every
// attempt.
type ConfigSource interface {
	// BrokerEndpoint returns the broker host and port. An empty host means
	// no broker is configured yet.
	BrokerEndpoint() (host string, port int)
	BrokerCredentials() (username, password string)
	NodeName() string
	GroupName() string
}

// HardwareSource supplies the address used in the client ID.
type HardwareSource interface {
	HardwareAddress() net.HardwareAddr
}

// Logger is the logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config tunes the connect procedure.
type Config struct {
	TopicPrefix    string
	KeepAlive      time.Duration
	CleanSession   bool
	ConnectTimeout time.Duration
	RetryBackoff   time.Duration
	// RetryCeiling is the number of failed attempts tolerated; the next
	// failure escalates.
	RetryCeiling int
	// QoS applies to retained presence and telemetry publishes.
	QoS byte
}

// Manager owns the session state.
type Manager struct {
	transport Transport
	source    ConfigSource
	hardware  HardwareSource
	resetter  escalation.Resetter
	cfg       Config
	logger    Logger
	sm        *stateless.StateMachine
	backoff   backoff.BackOff

	// Run loop only.
	pending       <-chan error
	deadline      time.Time
	retryAt       time.Time
	changed       bool
	waitingLogged bool
	gaveUp        bool
	firstDone     bool
	attemptID     string

	state       atomic.Value // State
	established atomic.Bool
	closed      atomic.Bool
	sessionID   atomic.Value // string
	lastCode    atomic.Int32
	failures    atomic.Int32
	topics      atomic.Pointer[Topics]

	onChange  atomic.Value // func(State)
	onFailure atomic.Value // func(failures, code int)
}

// NewManager creates a disconnected manager.
func NewManager(transport Transport, source ConfigSource, hardware HardwareSource,
	resetter escalation.Resetter, cfg Config, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultPrefix
	}
	m := &Manager{
		transport: transport,
		source:    source,
		hardware:  hardware,
		resetter:  resetter,
		cfg:       cfg,
		logger:    logger,
		backoff: backoff.WithMaxRetries(
			backoff.NewConstantBackOff(cfg.RetryBackoff), uint64(max(cfg.RetryCeiling, 0))),
	}
	m.state.Store(StateDisconnected)
	m.sessionID.Store("")
	m.lastCode.Store(-1)
	m.topics.Store(&Topics{})
	m.onChange.Store(func(State) {})
	m.onFailure.Store(func(int, int) {})
	m.sm = newMachine(m.transitioned)
	return m
}

// OnChange registers a callback for state changes. It runs on the run loop.
func (m *Manager) OnChange(fn func(State)) {
	m.onChange.Store(fn)
}

// OnFailure registers a callback for failed attempts. It runs on the run loop.
func (m *Manager) OnFailure(fn func(failures, code int)) {
	m.onFailure.Store(fn)
}

func (m *Manager) transitioned(from, to State) {
	m.state.Store(to)
	m.established.Store(to == StateEstablished)
	m.logger.Info("session state changed", "from", from, "to", to)
	m.onChange.Load().(func(State))(to)
}

func (m *Manager) fire(t trigger) {
	if err := m.sm.Fire(t); err != nil {
		m.logger.Error("session transition rejected", "trigger", t, "state", m.State(), "error", err)
	}
}

// ConfigChanged tells the manager broker or identity settings changed.
// A waiting manager attempts on the next tick; an established session is
// closed and re-established with the new settings. The failure count and
// retry budget carry over: only a successful connect clears them.
func (m *Manager) ConfigChanged() {
	m.changed = true
}

// LinkLost is called on ticks where the link is not up and Tick is
// skipped. An Established session whose transport has gone is demoted so
// status reads do not report a dead session. The next attempt runs as soon
// as the link returns.
func (m *Manager) LinkLost() {
	if m.gaveUp || m.closed.Load() || m.State() != StateEstablished {
		return
	}
	if m.transport.Connected() {
		return
	}
	m.logger.Warn("session lost with link", "session_id", m.SessionID())
	m.fire(triggerLost)
	m.retryAt = time.Time{}
}

// Tick advances the connect procedure and reports whether the session is
// Established afterwards. Tick never blocks.
func (m *Manager) Tick(now time.Time) bool {
	if m.gaveUp || m.closed.Load() {
		return false
	}

	if m.changed {
		m.changed = false
		m.waitingLogged = false
		m.retryAt = time.Time{}
		switch m.State() {
		case StateEstablished:
			m.logger.Info("settings changed, reconnecting")
			m.close("settings changed")
		case StateConnecting:
			m.abandon()
		}
	}

	switch m.State() {
	case StateEstablished:
		if m.transport.Connected() {
			return true
		}
		m.logger.Warn("session lost", "session_id", m.SessionID())
		m.fire(triggerLost)
		m.retryAt = time.Time{}
		return m.attempt(now)

	case StateConnecting:
		return m.poll(now)

	default:
		return m.attempt(now)
	}
}

// attempt starts a connect if configuration and backoff allow it.
func (m *Manager) attempt(now time.Time) bool {
	if now.Before(m.retryAt) {
		return false
	}

	host, port := m.source.BrokerEndpoint()
	if host == "" {
		if !m.waitingLogged {
			m.logger.Warn("no broker configured, waiting for settings")
			m.waitingLogged = true
		}
		return false
	}
	m.waitingLogged = false

	node := m.source.NodeName()
	topics := NewTopics(m.cfg.TopicPrefix, node, m.source.GroupName())
	m.topics.Store(&topics)

	var hw net.HardwareAddr
	if m.hardware != nil {
		hw = m.hardware.HardwareAddress()
	}
	m.attemptID = ClientID(node, hw)
	username, password := m.source.BrokerCredentials()

	m.logger.Info("connecting to broker",
		"host", host, "port", port, "client_id", m.attemptID, "attempt", m.Failures()+1)

	m.transport.SetOptions(m.cfg.KeepAlive, m.cfg.CleanSession)
	m.transport.SetLastWill(topics.Status, PresenceOff)
	m.pending = m.transport.Connect(host, port, m.attemptID, username, password)
	m.deadline = now.Add(m.cfg.ConnectTimeout + handshakeGrace)
	m.fire(triggerAttempt)

	return m.poll(now)
}

// poll checks an in-flight handshake.
func (m *Manager) poll(now time.Time) bool {
	select {
	case err := <-m.pending:
		m.pending = nil
		m.lastCode.Store(int32(m.transport.LastErrorCode()))
		if err != nil {
			m.failed(now, err)
			return false
		}
		m.connected()
		return true
	default:
	}

	if !now.Before(m.deadline) {
		m.abandon()
		m.failed(now, ErrHandshakeTimeout)
	}
	return false
}

// abandon drops an in-flight handshake without counting it.
func (m *Manager) abandon() {
	m.pending = nil
	m.transport.Disconnect()
	if m.State() == StateConnecting {
		m.fire(triggerClose)
	}
}

func (m *Manager) connected() {
	topics := m.Topics()

	for _, pattern := range topics.Subscriptions() {
		if err := m.transport.Subscribe(pattern); err != nil {
			m.logger.Warn("subscribe failed", "pattern", pattern, "error", err)
			continue
		}
		m.logger.Debug("subscribed", "pattern", pattern)
	}

	// The first session after boot announces OFF so subscribers see a
	// transition; the retained OFF echoed back on the status subscription
	// is healed to ON by the command dispatcher.
	presence := PresenceOn
	if !m.firstDone {
		presence = PresenceOff
		m.firstDone = true
	}
	if err := m.transport.Publish(topics.Status, []byte(presence), true, m.cfg.QoS); err != nil {
		m.logger.Warn("presence publish failed", "topic", topics.Status, "error", err)
	}

	m.failures.Store(0)
	m.backoff.Reset()
	m.sessionID.Store(m.attemptID)
	m.fire(triggerConnected)
	m.logger.Info("session established", "client_id", m.attemptID, "presence", presence)
}

func (m *Manager) failed(now time.Time, err error) {
	if m.State() == StateConnecting {
		m.fire(triggerFailed)
	}
	n := int(m.failures.Add(1))
	code := int(m.lastCode.Load())
	m.onFailure.Load().(func(int, int))(n, code)

	wait := m.backoff.NextBackOff()
	if wait == backoff.Stop {
		m.gaveUp = true
		m.logger.Error("broker connect failed, giving up",
			"attempt", n, "rc", code, "error", err)
		m.resetter.ResetDevice(fmt.Sprintf("broker unreachable after %d attempts (rc %d)", n, code))
		return
	}

	m.retryAt = now.Add(wait)
	m.logger.Warn("broker connect failed",
		"attempt", n, "rc", code, "retry_in", wait, "error", err)
}

// Disconnect ends the session for good. When established it first
// publishes presence OFF and an unavailable status document, both
// retained. Safe to call from any goroutine; later Ticks are no-ops.
func (m *Manager) Disconnect(reason string) {
	m.closed.Store(true)
	m.goodbye()
	m.transport.Disconnect()
	m.state.Store(StateDisconnected)
	m.established.Store(false)
	m.logger.Info("session closed", "reason", reason)
}

// close ends the session from the run loop so the next attempt can start.
func (m *Manager) close(reason string) {
	m.goodbye()
	m.pending = nil
	m.transport.Disconnect()
	m.fire(triggerClose)
	m.logger.Info("session closed", "reason", reason)
}

func (m *Manager) goodbye() {
	if !m.IsEstablished() || !m.transport.Connected() {
		return
	}
	topics := m.Topics()
	if err := m.transport.Publish(topics.Status, []byte(PresenceOff), true, m.cfg.QoS); err != nil {
		m.logger.Warn("goodbye presence failed", "error", err)
	}
	if err := m.transport.Publish(topics.Telemetry, []byte(`{"status":"unavailable"}`), true, m.cfg.QoS); err != nil {
		m.logger.Warn("goodbye status failed", "error", err)
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	return m.state.Load().(State)
}

// IsEstablished reports whether the session is Established.
func (m *Manager) IsEstablished() bool {
	return m.established.Load()
}

// SessionID returns the client ID of the last established session.
func (m *Manager) SessionID() string {
	return m.sessionID.Load().(string)
}

// LastErrorCode returns the transport's result code from the last attempt.
func (m *Manager) LastErrorCode() string {
	return strconv.Itoa(int(m.lastCode.Load()))
}

// Failures returns consecutive failed attempts.
func (m *Manager) Failures() int {
	return int(m.failures.Load())
}

// Topics returns the topic set of the latest attempt.
func (m *Manager) Topics() Topics {
	return *m.topics.Load()
}
