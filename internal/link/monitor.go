package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
)

// Driver is the platform's wireless interface.
type Driver interface {
	// Associate requests association with the given network. It returns
	// once the request is issued, not when association completes.
	Associate(ssid, passphrase string) error
	Disassociate() error
	IsAssociated() bool
	LocalAddress() netip.Addr
	HardwareAddress() net.HardwareAddr
	// SignalQuality returns the received signal level in dBm.
	SignalQuality() int
}

// Credentials supplies the network to join. Read on every attempt so a
// change saved through the portal applies to the next association.
type Credentials interface {
	WiFiCredentials() (ssid, passphrase string)
}

// Logger is the logging surface the monitor needs.
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

// Config bounds the monitor's attempts.
type Config struct {
	// ConnectTimeout bounds the first attempt after boot.
	ConnectTimeout time.Duration
	// ReconnectTimeout bounds attempts after a drop.
	ReconnectTimeout time.Duration
	// RetryInterval is how often association is re-requested within an attempt.
	RetryInterval time.Duration
	// PollInterval limits how often an Up link is re-checked. Zero checks every tick.
	PollInterval time.Duration
}

// Monitor owns the link state. Tick-side methods (EnsureUp, CheckHealth,
// Tick, Shutdown) must be called from the run loop only; the accessors are
// safe from any goroutine.
type Monitor struct {
	driver   Driver
	creds    Credentials
	resetter escalation.Resetter
	cfg      Config
	logger   Logger
	sm       *stateless.StateMachine

	// Run loop only.
	attemptStart time.Time
	attemptLimit time.Duration
	lastRequest  time.Time
	lastPoll     time.Time
	everUp       bool
	gaveUp       bool
	reassociate  bool
	noNetwork    bool
	now          time.Time

	state     atomic.Value // State
	changedAt atomic.Int64 // unix nanoseconds
	attempts  atomic.Int32
	localAddr atomic.Value // netip.Addr
	hwAddr    atomic.Value // net.HardwareAddr

	onChange atomic.Value // func(State)
}

// NewMonitor creates a monitor in the Down state.
func NewMonitor(driver Driver, creds Credentials, resetter escalation.Resetter, cfg Config, logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Monitor{
		driver:   driver,
		creds:    creds,
		resetter: resetter,
		cfg:      cfg,
		logger:   logger,
	}
	m.state.Store(StateDown)
	m.localAddr.Store(netip.Addr{})
	m.hwAddr.Store(net.HardwareAddr(nil))
	m.onChange.Store(func(State) {})
	m.sm = newMachine(m.transitioned)
	return m
}

// OnChange registers a callback for state changes. It runs on the run loop.
func (m *Monitor) OnChange(fn func(State)) {
	m.onChange.Store(fn)
}

func (m *Monitor) transitioned(from, to State) {
	m.state.Store(to)
	m.changedAt.Store(m.now.UnixNano())
	m.logger.Info("link state changed", "from", from, "to", to)
	m.onChange.Load().(func(State))(to)
}

func (m *Monitor) fire(t trigger, now time.Time) {
	m.now = now
	if err := m.sm.Fire(t); err != nil {
		m.logger.Error("link transition rejected", "trigger", t, "state", m.State(), "error", err)
	}
}

// Tick runs one step of link supervision and reports whether the link is
// usable for the layers above it.
func (m *Monitor) Tick(now time.Time) bool {
	if m.State() == StateUp {
		if m.CheckHealth(now) {
			return true
		}
	}
	return m.EnsureUp(now)
}

// EnsureUp advances association. It returns true once the link is Up.
// When the current attempt exceeds its timeout the device reset is
// requested once and EnsureUp returns false from then on.
func (m *Monitor) EnsureUp(now time.Time) bool {
	if m.gaveUp {
		return false
	}

	switch m.State() {
	case StateUp:
		return true
	case StateDown:
		m.reassociate = false
		m.beginAttempt(now)
		m.fire(triggerAssociate, now)
	case StateConnecting:
		if m.reassociate {
			m.reassociate = false
			m.requestAssociation(now)
		}
	}

	return m.pollAttempt(now)
}

// CheckHealth verifies an Up link is still associated with a usable
// address. On a drop it disassociates, moves to Connecting and starts a
// reconnect attempt, returning false.
func (m *Monitor) CheckHealth(now time.Time) bool {
	if m.State() != StateUp {
		return false
	}
	if m.reassociate {
		m.reassociate = false
		m.logger.Info("credentials changed, re-associating")
		m.drop(now)
		return false
	}
	if m.cfg.PollInterval > 0 && now.Sub(m.lastPoll) < m.cfg.PollInterval {
		return true
	}
	m.lastPoll = now

	associated := m.driver.IsAssociated()
	addr := m.driver.LocalAddress()
	if associated && usable(addr) {
		m.localAddr.Store(addr)
		return true
	}

	m.logger.Warn("link dropped", "associated", associated, "address", addr.String())
	m.drop(now)
	return false
}

// drop tears the association down and starts a reconnect attempt.
func (m *Monitor) drop(now time.Time) {
	if err := m.driver.Disassociate(); err != nil {
		m.logger.Warn("disassociate failed", "error", err)
	}
	m.localAddr.Store(netip.Addr{})
	m.fire(triggerDrop, now)
	m.beginAttempt(now)
}

// CredentialsChanged makes the monitor associate with the current
// credentials on the next tick, dropping an Up link first.
func (m *Monitor) CredentialsChanged() {
	m.reassociate = true
}

func (m *Monitor) beginAttempt(now time.Time) {
	m.attemptStart = now
	m.attemptLimit = m.cfg.ConnectTimeout
	if m.everUp {
		m.attemptLimit = m.cfg.ReconnectTimeout
	}
	m.requestAssociation(now)
}

func (m *Monitor) requestAssociation(now time.Time) {
	m.lastRequest = now
	n := m.attempts.Add(1)

	ssid, passphrase := "", ""
	if m.creds != nil {
		ssid, passphrase = m.creds.WiFiCredentials()
	}
	m.logger.Debug("requesting association", "ssid", ssid, "attempt", n)
	err := m.driver.Associate(ssid, passphrase)
	switch {
	case err == nil:
		m.noNetwork = false
	case ssid == "":
		// Logged once per outage; the driver refuses every retry the same way.
		if !m.noNetwork {
			m.noNetwork = true
			m.logger.Warn("no WiFi network configured, waiting for settings",
				"reset_in", m.attemptLimit-now.Sub(m.attemptStart), "error", err)
		}
	default:
		m.noNetwork = false
		m.logger.Warn("association request failed", "ssid", ssid, "error", err)
	}
}

func (m *Monitor) pollAttempt(now time.Time) bool {
	if m.driver.IsAssociated() {
		if addr := m.driver.LocalAddress(); usable(addr) {
			m.established(now, addr)
			return true
		}
	}

	if elapsed := now.Sub(m.attemptStart); elapsed >= m.attemptLimit {
		m.gaveUp = true
		m.logger.Error("link not established in time",
			"elapsed", elapsed, "timeout", m.attemptLimit, "attempts", m.Attempts())
		reason := fmt.Sprintf("link not established within %s", m.attemptLimit)
		if m.noNetwork {
			reason += " (no WiFi network configured)"
		}
		m.resetter.ResetDevice(reason)
		return false
	}

	if m.cfg.RetryInterval > 0 && now.Sub(m.lastRequest) >= m.cfg.RetryInterval && !m.driver.IsAssociated() {
		m.requestAssociation(now)
	}
	return false
}

func (m *Monitor) established(now time.Time, addr netip.Addr) {
	m.everUp = true
	m.lastPoll = now
	m.localAddr.Store(addr)
	if hw := m.driver.HardwareAddress(); hw != nil {
		m.hwAddr.Store(hw)
	}
	m.logger.Info("link established",
		"address", addr.String(),
		"hardware_address", m.HardwareAddress().String(),
		"attempts", m.Attempts(),
		"took", now.Sub(m.attemptStart),
	)
	m.attempts.Store(0)
	m.fire(triggerEstablished, now)
}

// Shutdown disassociates and returns to Down. Used on clean process exit.
func (m *Monitor) Shutdown(now time.Time) {
	if m.State() == StateDown {
		return
	}
	if err := m.driver.Disassociate(); err != nil {
		m.logger.Warn("disassociate failed", "error", err)
	}
	m.localAddr.Store(netip.Addr{})
	m.fire(triggerShutdown, now)
}

// usable reports whether addr is a real, assigned address.
func usable(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified()
}

// State returns the current link state.
func (m *Monitor) State() State {
	return m.state.Load().(State)
}

// IsUp reports whether the link is Up.
func (m *Monitor) IsUp() bool {
	return m.State() == StateUp
}

// ChangedAt returns when the state last changed (zero before the first change).
func (m *Monitor) ChangedAt() time.Time {
	ns := m.changedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Attempts returns the association requests made in the current outage.
func (m *Monitor) Attempts() int {
	return int(m.attempts.Load())
}

// LocalAddress returns the address recorded when the link came up.
func (m *Monitor) LocalAddress() netip.Addr {
	return m.localAddr.Load().(netip.Addr)
}

// HardwareAddress returns the interface's hardware address, or nil before
// the first successful association.
func (m *Monitor) HardwareAddress() net.HardwareAddr {
	return m.hwAddr.Load().(net.HardwareAddr)
}

// SignalQuality reads the current signal level from the driver.
func (m *Monitor) SignalQuality() int {
	return m.driver.SignalQuality()
}

// ErrNoLink can be wrapped by callers that need a link to proceed.
var ErrNoLink = fmt.Errorf("link: not up")

// WaitUp blocks until the link is Up or ctx is done. For tools and tests
// outside the run loop; the run loop itself never blocks on the link.
func (m *Monitor) WaitUp(ctx context.Context, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for !m.IsUp() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNoLink, ctx.Err())
		case <-t.C:
		}
	}
	return nil
}
