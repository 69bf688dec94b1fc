package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/command"
	"github.com/nerrad567/gray-logic-node/internal/escalation"
	"github.com/nerrad567/gray-logic-node/internal/heartbeat"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/scheduler"
	"github.com/nerrad567/gray-logic-node/internal/session"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// ErrActionQueueFull is returned when portal actions arrive faster than
// the run loop drains them.
var ErrActionQueueFull = errors.New("node: action queue full")

const (
	defaultInboxSize   = 64
	defaultMaxMessages = 8
	actionQueueSize    = 4
	factoryResetBound  = 5 * time.Second
)

// Settings is what the node needs from the settings store.
type Settings interface {
	session.ConfigSource
	link.Credentials
	command.FactoryResetter
	Changes() <-chan struct{}
	TakeChanges() settings.ChangeSet
}

// Config configures a Node.
type Config struct {
	Link    link.Config
	Session session.Config

	HeartbeatInterval time.Duration
	ResetTimeout      time.Duration

	// InboxSize bounds queued inbound messages; MaxMessagesPerTick bounds
	// how many are handled per tick.
	InboxSize          int
	MaxMessagesPerTick int

	Version   string
	BootID    string
	StartedAt time.Time
}

// Deps are the platform pieces a Node drives.
type Deps struct {
	Driver    link.Driver
	Transport session.Transport
	Settings  Settings
	System    heartbeat.SystemInfo
	Logger    *logging.Logger

	// Escalation is created by New when nil. Pass one when something built
	// before the node, such as the settings store, must request resets.
	Escalation *escalation.Controller
}

type message struct {
	topic   string
	payload []byte
}

type actionKind int

const (
	actionReset actionKind = iota
	actionFactoryReset
)

type action struct {
	kind   actionKind
	reason string
}

// Node is the connectivity context object. It is created once at boot
// and passed explicitly to everything that needs it.
type Node struct {
	cfg       Config
	logger    *logging.Logger
	settings  Settings
	transport session.Transport

	Escalation *escalation.Controller
	Link       *link.Monitor
	Session    *session.Manager
	Heartbeat  *heartbeat.Publisher
	Commands   *command.Dispatcher
	Scheduler  *scheduler.Scheduler

	inbox   chan message
	actions chan action

	ticks   atomic.Uint64
	dropped atomic.Uint64

	obsMu     sync.RWMutex
	observers []Observer
	onTick    func(time.Duration)
}

// New builds every component and wires them together.
func New(cfg Config, deps Deps) *Node {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.MaxMessagesPerTick <= 0 {
		cfg.MaxMessagesPerTick = defaultMaxMessages
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}

	n := &Node{
		cfg:       cfg,
		logger:    logger.Component("node"),
		settings:  deps.Settings,
		transport: deps.Transport,
		inbox:     make(chan message, cfg.InboxSize),
		actions:   make(chan action, actionQueueSize),
	}

	n.Escalation = deps.Escalation
	if n.Escalation == nil {
		n.Escalation = escalation.NewController(cfg.ResetTimeout, logger.Component("escalation"))
	}
	n.Link = link.NewMonitor(deps.Driver, deps.Settings, n.Escalation, cfg.Link, logger.Component("link"))
	n.Session = session.NewManager(deps.Transport, deps.Settings, n.Link, n.Escalation, cfg.Session, logger.Component("session"))
	n.Escalation.Attach(n.Session)
	n.Heartbeat = heartbeat.NewPublisher(n.Session, n.Link, deps.System, heartbeat.Config{
		Interval:  cfg.HeartbeatInterval,
		Version:   cfg.Version,
		BootID:    cfg.BootID,
		StartedAt: cfg.StartedAt,
	}, logger.Component("heartbeat"))
	n.Commands = command.NewDispatcher(n.Session, n.Heartbeat, n.Escalation, deps.Settings, logger.Component("command"))
	n.Scheduler = scheduler.New(logger.Component("scheduler"))

	n.wire()
	return n
}

// wire connects component callbacks to the node's event stream.
func (n *Node) wire() {
	n.transport.OnMessage(n.enqueue)

	n.Link.OnChange(func(s link.State) {
		n.emit(EventLink, map[string]any{
			"state":    string(s),
			"attempts": n.Link.Attempts(),
			"address":  addrString(n.Link),
		})
	})
	n.Session.OnChange(func(s session.State) {
		n.emit(EventSession, map[string]any{
			"state":      string(s),
			"session_id": n.Session.SessionID(),
			"failures":   n.Session.Failures(),
		})
	})
	n.Session.OnFailure(func(failures, code int) {
		n.emit(EventConnectFailed, map[string]any{"failures": failures, "rc": code})
	})
	n.Heartbeat.OnPublish(func(st heartbeat.Status) {
		n.emit(EventHeartbeat, st.Fields())
	})
	n.Commands.Observe(func(cmd command.Command) {
		n.emit(EventCommand, map[string]any{"kind": cmd.Kind.String(), "topic": cmd.Topic})
	})
	n.Commands.SetPassthrough(func(cmd command.Command) {
		n.logger.Info("passthrough command", "topic", cmd.Topic, "suffix", cmd.Suffix)
		n.emit(EventPassthrough, map[string]any{
			"topic":   cmd.Topic,
			"suffix":  cmd.Suffix,
			"payload": string(cmd.Payload),
			"group":   cmd.Group,
		})
	})
	n.Escalation.OnReset(func(reason string) {
		n.emit(EventReset, map[string]any{"reason": reason})
	})

	n.Scheduler.Register("portal", n.drainActions)
}

func addrString(m *link.Monitor) string {
	if a := m.LocalAddress(); a.IsValid() {
		return a.String()
	}
	return ""
}

// ObserveTicks sets a callback that receives each Run tick's duration.
// Call before Run.
func (n *Node) ObserveTicks(fn func(time.Duration)) {
	n.onTick = fn
}

// Observe registers an event observer.
func (n *Node) Observe(o Observer) {
	n.obsMu.Lock()
	n.observers = append(n.observers, o)
	n.obsMu.Unlock()
}

func (n *Node) emit(typ string, data map[string]any) {
	n.obsMu.RLock()
	observers := n.observers
	n.obsMu.RUnlock()

	e := Event{Type: typ, Time: time.Now(), Data: data}
	for _, o := range observers {
		o(e)
	}
}

// enqueue runs on the transport's goroutine.
func (n *Node) enqueue(topic string, payload []byte) {
	msg := message{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case n.inbox <- msg:
	default:
		n.dropped.Add(1)
		n.logger.Warn("inbox full, dropping message", "topic", topic)
		n.emit(EventInboxDropped, map[string]any{"topic": topic})
	}
}

// Tick runs one pass of the run loop.
func (n *Node) Tick(now time.Time) escalation.Outcome {
	if n.Escalation.Terminal() {
		return escalation.Restart
	}
	n.ticks.Add(1)

	n.applySettingsChanges()

	if n.Link.Tick(now) {
		if !n.Escalation.Terminal() && n.Session.Tick(now) && !n.Escalation.Terminal() {
			n.Heartbeat.Tick(now)
			n.drainInbox()
		}
	} else if !n.Escalation.Terminal() {
		n.Session.LinkLost()
	}

	if !n.Escalation.Terminal() {
		n.Scheduler.YieldOnce()
	}
	return n.Escalation.Outcome()
}

func (n *Node) applySettingsChanges() {
	select {
	case <-n.settings.Changes():
	default:
		return
	}

	changed := n.settings.TakeChanges()
	if changed.Has(settings.ChangedWiFi) {
		n.Link.CredentialsChanged()
	}
	if changed.Has(settings.ChangedIdentity | settings.ChangedBroker) {
		n.Session.ConfigChanged()
	}
	n.logger.Info("settings applied", "changed", uint8(changed))
	n.emit(EventSettings, map[string]any{
		"identity": changed.Has(settings.ChangedIdentity),
		"wifi":     changed.Has(settings.ChangedWiFi),
		"broker":   changed.Has(settings.ChangedBroker),
		"portal":   changed.Has(settings.ChangedPortal),
	})
}

// drainInbox dispatches queued messages, at most MaxMessagesPerTick, and
// stops as soon as one of them latches a reset.
func (n *Node) drainInbox() {
	for i := 0; i < n.cfg.MaxMessagesPerTick; i++ {
		select {
		case msg := <-n.inbox:
			n.Commands.OnMessage(msg.topic, msg.payload)
			if n.Escalation.Terminal() {
				return
			}
		default:
			return
		}
	}
}

// drainActions is the portal's scheduler task.
func (n *Node) drainActions(time.Time) {
	for {
		select {
		case a := <-n.actions:
			n.perform(a)
			if n.Escalation.Terminal() {
				return
			}
		default:
			return
		}
	}
}

func (n *Node) perform(a action) {
	switch a.kind {
	case actionReset:
		n.Escalation.ResetDevice(a.reason)
	case actionFactoryReset:
		ctx, cancel := context.WithTimeout(context.Background(), factoryResetBound)
		defer cancel()
		if err := n.settings.ClearAllAndReset(ctx); err != nil {
			n.logger.Warn("factory reset incomplete", "error", err)
		}
	}
}

func (n *Node) queue(a action) error {
	select {
	case n.actions <- a:
		return nil
	default:
		return ErrActionQueueFull
	}
}

// Run ticks every interval until ctx is done or a reset is latched. A
// latched reset returns an error wrapping escalation.ErrRestart; ctx
// cancellation closes the session and link and returns ctx.Err().
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info("run loop started", "tick_interval", interval)
	for {
		start := time.Now()
		outcome := n.Tick(start)
		if n.onTick != nil {
			n.onTick(time.Since(start))
		}
		if outcome == escalation.Restart {
			n.logger.Warn("run loop stopping for restart", "reason", n.Escalation.Reason())
			return fmt.Errorf("%w: %s", escalation.ErrRestart, n.Escalation.Reason())
		}

		select {
		case <-ctx.Done():
			n.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (n *Node) shutdown() {
	n.logger.Info("run loop stopping")
	n.Session.Disconnect("shutting down")
	n.Link.Shutdown(time.Now())
}

// IsLinkUp reports whether the wireless link is up.
func (n *Node) IsLinkUp() bool {
	return n.Link.IsUp()
}

// IsSessionEstablished reports whether the broker session is up.
func (n *Node) IsSessionEstablished() bool {
	return n.Session.IsEstablished()
}

// SessionID returns the client ID of the current or last session.
func (n *Node) SessionID() string {
	return n.Session.SessionID()
}

// LastSessionErrorCode returns the result code of the last connect attempt.
func (n *Node) LastSessionErrorCode() string {
	return n.Session.LastErrorCode()
}

// PublishOnStateChannel publishes msg on the node's state topic.
func (n *Node) PublishOnStateChannel(msg string) error {
	return n.Session.PublishState(msg)
}

// PublishStatus publishes msg on the node's status topic.
func (n *Node) PublishStatus(msg string) error {
	return n.Session.PublishStatus(msg)
}

// TriggerReset asks the run loop to reset the device.
func (n *Node) TriggerReset(reason string) error {
	return n.queue(action{kind: actionReset, reason: reason})
}

// TriggerFactoryReset asks the run loop to wipe settings and reset.
func (n *Node) TriggerFactoryReset() error {
	return n.queue(action{kind: actionFactoryReset})
}

// Snapshot is a point-in-time view of connectivity for the portal.
type Snapshot struct {
	Link                string    `json:"link"`
	LinkChangedAt       time.Time `json:"link_changed_at"`
	Address             string    `json:"address"`
	HardwareAddress     string    `json:"hardware_address"`
	SignalStrength      int       `json:"signal_strength"`
	Session             string    `json:"session"`
	SessionID           string    `json:"session_id"`
	LastSessionCode     string    `json:"last_session_code"`
	ConnectFailures     int       `json:"connect_failures"`
	LastHeartbeat       time.Time `json:"last_heartbeat"`
	HeartbeatsPublished int64     `json:"heartbeats_published"`
	Uptime              int64     `json:"uptime"`
	Version             string    `json:"version"`
	BootID              string    `json:"boot_id"`
	ResetPending        bool      `json:"reset_pending"`
	ResetReason         string    `json:"reset_reason,omitempty"`
	Ticks               uint64    `json:"ticks"`
	InboxDropped        uint64    `json:"inbox_dropped"`
}

// Snapshot returns the current connectivity view. Safe from any goroutine.
func (n *Node) Snapshot() Snapshot {
	return Snapshot{
		Link:                string(n.Link.State()),
		LinkChangedAt:       n.Link.ChangedAt(),
		Address:             addrString(n.Link),
		HardwareAddress:     n.Link.HardwareAddress().String(),
		SignalStrength:      n.Link.SignalQuality(),
		Session:             string(n.Session.State()),
		SessionID:           n.Session.SessionID(),
		LastSessionCode:     n.Session.LastErrorCode(),
		ConnectFailures:     n.Session.Failures(),
		LastHeartbeat:       n.Heartbeat.LastPublished(),
		HeartbeatsPublished: n.Heartbeat.Published(),
		Uptime:              int64(time.Since(n.cfg.StartedAt) / time.Second),
		Version:             n.cfg.Version,
		BootID:              n.cfg.BootID,
		ResetPending:        n.Escalation.Terminal(),
		ResetReason:         n.Escalation.Reason(),
		Ticks:               n.ticks.Load(),
		InboxDropped:        n.dropped.Load(),
	}
}
