package command

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
	"github.com/nerrad567/gray-logic-node/internal/heartbeat"
	"github.com/nerrad567/gray-logic-node/internal/session"
)

// Session is the part of the broker session the dispatcher uses.
type Session interface {
	Topics() session.Topics
	PublishPresence(v string) error
}

// StatusPublisher answers status requests.
type StatusPublisher interface {
	PublishNow(now time.Time) (heartbeat.Status, error)
}

// FactoryResetter wipes persisted settings and requests a device reset.
type FactoryResetter interface {
	ClearAllAndReset(ctx context.Context) error
}

// Logger is the logging surface the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// factoryResetTimeout bounds the settings wipe.
const factoryResetTimeout = 5 * time.Second

// Dispatcher executes commands on the run loop.
type Dispatcher struct {
	session  Session
	status   StatusPublisher
	resetter escalation.Resetter
	factory  FactoryResetter
	logger   Logger

	now         func() time.Time
	passthrough func(Command)
	observers   []func(Command)
}

// NewDispatcher creates a dispatcher. Passthrough commands are logged
// until SetPassthrough installs a consumer.
func NewDispatcher(s Session, status StatusPublisher, resetter escalation.Resetter,
	factory FactoryResetter, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Dispatcher{
		session:  s,
		status:   status,
		resetter: resetter,
		factory:  factory,
		logger:   logger,
		now:      time.Now,
	}
	d.passthrough = func(cmd Command) {
		d.logger.Info("passthrough command", "topic", cmd.Topic, "suffix", cmd.Suffix, "bytes", len(cmd.Payload))
	}
	return d
}

// SetPassthrough installs the consumer for unrecognised command topics.
func (d *Dispatcher) SetPassthrough(fn func(Command)) {
	d.passthrough = fn
}

// Observe registers fn to see every interpreted command, ignored ones
// included. Observers run before the command is executed.
func (d *Dispatcher) Observe(fn func(Command)) {
	d.observers = append(d.observers, fn)
}

// OnMessage interprets and executes one inbound message synchronously.
func (d *Dispatcher) OnMessage(topic string, payload []byte) Command {
	cmd := Parse(d.session.Topics(), topic, payload)
	for _, fn := range d.observers {
		fn(cmd)
	}
	d.execute(cmd)
	return cmd
}

func (d *Dispatcher) execute(cmd Command) {
	switch cmd.Kind {
	case KindStatusRequest:
		if _, err := d.status.PublishNow(d.now()); err != nil {
			d.logger.Warn("status request failed", "topic", cmd.Topic, "error", err)
		}

	case KindReboot:
		d.logger.Info("reboot requested", "topic", cmd.Topic)
		d.resetter.ResetDevice("reboot command on " + cmd.Topic)

	case KindFactoryReset:
		d.logger.Info("factory reset requested", "topic", cmd.Topic)
		ctx, cancel := context.WithTimeout(context.Background(), factoryResetTimeout)
		defer cancel()
		if err := d.factory.ClearAllAndReset(ctx); err != nil {
			d.logger.Warn("factory reset incomplete", "error", err)
		}

	case KindPresenceHeal:
		d.logger.Debug("healing stale presence", "topic", cmd.Topic)
		if err := d.session.PublishPresence(session.PresenceOn); err != nil {
			d.logger.Warn("presence heal failed", "error", err)
		}

	case KindPassthrough:
		d.passthrough(cmd)

	default:
		d.logger.Debug("message ignored", "topic", cmd.Topic)
	}
}
