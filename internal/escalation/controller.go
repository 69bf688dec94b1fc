package escalation

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is what one tick of the run loop tells its caller.
type Outcome int

const (
	// Continue means keep ticking.
	Continue Outcome = iota

	// Restart is terminal: no further ticks may run.
	Restart
)

func (o Outcome) String() string {
	if o == Restart {
		return "restart"
	}
	return "continue"
}

// Resetter is implemented by Controller and consumed by every component
// that can decide the device must restart.
type Resetter interface {
	ResetDevice(reason string)
}

// Disconnector is the session's goodbye.
type Disconnector interface {
	Disconnect(reason string)
}

// Logger is the logging surface the controller needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// goodbyeReason is what the broker-side logs see for every reset.
const goodbyeReason = "shutting down"

// Controller latches the first reset request and ignores the rest.
type Controller struct {
	timeout time.Duration
	logger  Logger

	mu      sync.RWMutex
	session Disconnector
	onReset []func(reason string)

	terminal atomic.Bool
	reason   atomic.Value
	requests atomic.Int32
}

// NewController creates a controller whose goodbye is bounded by timeout.
func NewController(timeout time.Duration, logger Logger) *Controller {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Controller{timeout: timeout, logger: logger}
	c.reason.Store("")
	return c
}

// Attach sets the session to disconnect on reset. The session also needs
// the controller, so one side is wired after construction.
func (c *Controller) Attach(session Disconnector) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// OnReset registers a hook run after the goodbye, before the run loop sees
// the terminal state. Used for metrics and the boot log.
func (c *Controller) OnReset(fn func(reason string)) {
	c.mu.Lock()
	c.onReset = append(c.onReset, fn)
	c.mu.Unlock()
}

// ResetDevice latches the terminal state. Only the first call has any
// effect; it disconnects the session (bounded by the controller timeout)
// and runs the OnReset hooks.
func (c *Controller) ResetDevice(reason string) {
	c.requests.Add(1)
	if !c.terminal.CompareAndSwap(false, true) {
		c.logger.Warn("reset already pending, ignoring", "reason", reason, "pending_reason", c.Reason())
		return
	}
	c.reason.Store(reason)
	c.logger.Warn("device reset requested", "reason", reason)

	c.mu.RLock()
	session := c.session
	hooks := append([]func(string){}, c.onReset...)
	c.mu.RUnlock()

	if session != nil {
		c.goodbye(session)
	}
	for _, fn := range hooks {
		fn(reason)
	}
}

// goodbye runs the session disconnect on its own goroutine so a hung
// transport cannot hold the restart past the timeout.
func (c *Controller) goodbye(session Disconnector) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("goodbye panicked", "panic", r)
			}
		}()
		session.Disconnect(goodbyeReason)
	}()

	select {
	case <-done:
	case <-time.After(c.timeout):
		c.logger.Warn("goodbye timed out, restarting anyway", "timeout", c.timeout)
	}
}

// Terminal reports whether a reset has been latched.
func (c *Controller) Terminal() bool {
	return c.terminal.Load()
}

// Outcome maps the terminal state to a run loop outcome.
func (c *Controller) Outcome() Outcome {
	if c.Terminal() {
		return Restart
	}
	return Continue
}

// Reason returns the reason given with the latched reset, or "".
func (c *Controller) Reason() string {
	return c.reason.Load().(string)
}

// Requests returns how many times ResetDevice was called, including ignored calls.
func (c *Controller) Requests() int {
	return int(c.requests.Load())
}
