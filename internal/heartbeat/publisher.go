package heartbeat

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Session is the publishing surface of the broker session.
type Session interface {
	IsEstablished() bool
	PublishTelemetry(doc []byte) error
	PublishPresence(v string) error
	LastErrorCode() string
}

// LinkInfo reports link facts for the status document.
type LinkInfo interface {
	SignalQuality() int
	LocalAddress() netip.Addr
}

// Logger is the logging surface the publisher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config configures a Publisher.
type Config struct {
	Interval  time.Duration
	Version   string
	BootID    string
	StartedAt time.Time
}

// Publisher composes and publishes status documents.
type Publisher struct {
	session Session
	link    LinkInfo
	system  SystemInfo
	cfg     Config
	logger  Logger

	last  atomic.Int64 // unix nanoseconds of the last publish
	count atomic.Int64

	mu        sync.Mutex
	recorders []func(Status)
}

// NewPublisher creates a publisher. The first periodic publish is due one
// interval after cfg.StartedAt.
func NewPublisher(session Session, link LinkInfo, system SystemInfo, cfg Config, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	p := &Publisher{
		session: session,
		link:    link,
		system:  system,
		cfg:     cfg,
		logger:  logger,
	}
	p.last.Store(cfg.StartedAt.UnixNano())
	return p
}

// OnPublish registers fn to receive every published document.
func (p *Publisher) OnPublish(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorders = append(p.recorders, fn)
}

// Tick publishes when the session is established and the interval has
// elapsed since the last publish.
func (p *Publisher) Tick(now time.Time) {
	if !p.session.IsEstablished() {
		return
	}
	if now.Sub(p.LastPublished()) < p.cfg.Interval {
		return
	}
	if _, err := p.PublishNow(now); err != nil {
		p.logger.Warn("heartbeat failed", "error", err)
	}
}

// PublishNow publishes the status document and presence ON immediately.
// The interval restarts from now even if publishing fails.
func (p *Publisher) PublishNow(now time.Time) (Status, error) {
	p.last.Store(now.UnixNano())

	st := p.Compose(now)
	doc, err := st.Marshal()
	if err != nil {
		return st, fmt.Errorf("encoding status: %w", err)
	}

	if err := p.session.PublishTelemetry(doc); err != nil {
		return st, fmt.Errorf("%w: telemetry: %w", ErrPublishFailed, err)
	}
	if err := p.session.PublishPresence("ON"); err != nil {
		return st, fmt.Errorf("%w: presence: %w", ErrPublishFailed, err)
	}
	p.count.Add(1)
	p.logger.Debug("status published", "uptime", st.Uptime, "signal", st.SignalStrength)

	p.mu.Lock()
	recorders := p.recorders
	p.mu.Unlock()
	for _, fn := range recorders {
		fn(st)
	}
	return st, nil
}

// Compose builds the status document for now.
func (p *Publisher) Compose(now time.Time) Status {
	st := Status{
		Status:    Available,
		Version:   p.cfg.Version,
		Uptime:    int64(now.Sub(p.cfg.StartedAt) / time.Second),
		BootID:    p.cfg.BootID,
		SessionRC: p.session.LastErrorCode(),
	}
	if p.link != nil {
		st.SignalStrength = p.link.SignalQuality()
		if addr := p.link.LocalAddress(); addr.IsValid() {
			st.IP = addr.String()
		}
	}
	if p.system != nil {
		st.MemFree = p.system.FreeMemory()
		st.Platform, st.Kernel = p.system.Platform()
	}
	return st
}

// LastPublished returns when the last document was published, or the
// start time if none has been.
func (p *Publisher) LastPublished() time.Time {
	return time.Unix(0, p.last.Load())
}

// Published returns how many documents have been published.
func (p *Publisher) Published() int64 {
	return p.count.Load()
}
