package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-node/internal/escalation"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/session"
)

var epoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type harness struct {
	node     *Node
	driver   *fakeDriver
	broker   *fakeBroker
	settings *fakeSettings
}

func newHarness(t *testing.T, host string, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		driver:   &fakeDriver{},
		broker:   &fakeBroker{echo: true},
		settings: newFakeSettings(host),
	}
	cfg := Config{
		Link: link.Config{
			ConnectTimeout:   300 * time.Second,
			ReconnectTimeout: 15 * time.Second,
			RetryInterval:    5 * time.Second,
		},
		Session: session.Config{
			KeepAlive:      30 * time.Second,
			CleanSession:   true,
			ConnectTimeout: 5 * time.Second,
			RetryBackoff:   30 * time.Second,
			RetryCeiling:   29,
			QoS:            1,
		},
		HeartbeatInterval: 5 * time.Minute,
		ResetTimeout:      time.Second,
		Version:           "1.2.0",
		BootID:            "boot-1",
		StartedAt:         epoch,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.node = New(cfg, Deps{
		Driver:    h.driver,
		Transport: h.broker,
		Settings:  h.settings,
		System:    fakeSystem{},
	})
	h.settings.resetter = h.node.Escalation
	return h
}

func (h *harness) publishedTo(topic string) []publication {
	var out []publication
	for _, p := range h.broker.published() {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func TestTick_FirstConnectHealsPresence(t *testing.T) {
	h := newHarness(t, "broker.local")

	require.Equal(t, escalation.Continue, h.node.Tick(epoch))

	assert.True(t, h.node.IsLinkUp())
	assert.True(t, h.node.IsSessionEstablished())
	assert.Equal(t, "dev1-24ac4123", h.node.SessionID())

	status := h.publishedTo("esp/dev1/status")
	require.Len(t, status, 2)
	assert.Equal(t, "OFF", status[0].payload)
	assert.Equal(t, "ON", status[1].payload)
	assert.True(t, status[1].retained)
}

func TestTick_StatusRequest(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)

	h.broker.inject("esp/dev1/command", "")
	require.Equal(t, escalation.Continue, h.node.Tick(epoch.Add(10*time.Millisecond)))

	sensor := h.publishedTo("esp/dev1/sensor")
	require.Len(t, sensor, 1)
	assert.Contains(t, sensor[0].payload, `"status":"available"`)
	assert.Contains(t, sensor[0].payload, `"version":"1.2.0"`)

	status := h.publishedTo("esp/dev1/status")
	assert.Equal(t, "ON", status[len(status)-1].payload)
	assert.EqualValues(t, 1, h.node.Heartbeat.Published())
}

func TestTick_RebootIsTerminal(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)

	var events []Event
	h.node.Observe(func(e Event) { events = append(events, e) })

	h.broker.inject("esp/dev1/command/reboot", "")
	h.broker.inject("esp/dev1/command", "")

	require.Equal(t, escalation.Restart, h.node.Tick(epoch.Add(time.Second)))
	assert.Equal(t, "reboot command on esp/dev1/command/reboot", h.node.Escalation.Reason())
	assert.Equal(t, 1, h.broker.disconnects)
	sensor := h.publishedTo("esp/dev1/sensor")
	require.Len(t, sensor, 1, "messages after the reboot must not run")
	assert.Equal(t, `{"status":"unavailable"}`, sensor[0].payload)

	goodbye := h.publishedTo("esp/dev1/status")
	assert.Equal(t, "OFF", goodbye[len(goodbye)-1].payload)

	associates, _ := h.driver.calls()
	ticks := h.node.Snapshot().Ticks
	assert.Equal(t, escalation.Restart, h.node.Tick(epoch.Add(2*time.Second)))
	assert.Equal(t, ticks, h.node.Snapshot().Ticks)
	again, _ := h.driver.calls()
	assert.Equal(t, associates, again)

	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, EventReset)
	assert.Contains(t, kinds, EventCommand)
}

func TestTick_WaitsForBrokerSettings(t *testing.T) {
	h := newHarness(t, "")

	var yields int
	h.node.Scheduler.Register("counter", func(time.Time) { yields++ })

	now := epoch
	for i := 0; i < 5; i++ {
		assert.Equal(t, escalation.Continue, h.node.Tick(now))
		now = now.Add(10 * time.Millisecond)
	}
	assert.True(t, h.node.IsLinkUp())
	assert.False(t, h.node.IsSessionEstablished())
	assert.Equal(t, 0, h.broker.connects)
	assert.Equal(t, 5, yields)

	h.settings.setHost("broker.local")
	h.node.Tick(now)
	assert.Equal(t, 1, h.broker.connects)
	assert.True(t, h.node.IsSessionEstablished())
}

func TestTick_LinkDownStillYields(t *testing.T) {
	h := newHarnessWithDriver(t, &blockingDriver{fakeDriver: &fakeDriver{}})

	var yields int
	h.node.Scheduler.Register("counter", func(time.Time) { yields++ })

	h.node.Tick(epoch)
	h.node.Tick(epoch.Add(time.Second))

	assert.False(t, h.node.IsLinkUp())
	assert.Equal(t, 0, h.broker.connects)
	assert.Equal(t, 2, yields)
}

// blockingDriver accepts association requests but never associates.
type blockingDriver struct {
	*fakeDriver
}

func (d *blockingDriver) Associate(string, string) error {
	d.mu.Lock()
	d.associates++
	d.mu.Unlock()
	return nil
}

func newHarnessWithDriver(t *testing.T, driver link.Driver) *harness {
	t.Helper()
	h := &harness{broker: &fakeBroker{echo: true}, settings: newFakeSettings("broker.local")}
	h.node = New(Config{
		Link:    link.Config{ConnectTimeout: 300 * time.Second, ReconnectTimeout: 15 * time.Second, RetryInterval: 5 * time.Second},
		Session: session.Config{ConnectTimeout: 5 * time.Second, RetryBackoff: 30 * time.Second, RetryCeiling: 29, QoS: 1},

		HeartbeatInterval: 5 * time.Minute,
		ResetTimeout:      time.Second,
		StartedAt:         epoch,
	}, Deps{Driver: driver, Transport: h.broker, Settings: h.settings})
	h.settings.resetter = h.node.Escalation
	return h
}

func TestTick_LinkDropDemotesSession(t *testing.T) {
	driver := &blockingDriver{fakeDriver: &fakeDriver{associated: true}}
	h := newHarnessWithDriver(t, driver)

	require.Equal(t, escalation.Continue, h.node.Tick(epoch))
	require.True(t, h.node.IsSessionEstablished())

	require.NoError(t, driver.Disassociate())
	h.broker.Disconnect()

	now := epoch
	for i := 0; i < 8; i++ {
		now = now.Add(10 * time.Millisecond)
		assert.Equal(t, escalation.Continue, h.node.Tick(now))
	}

	assert.False(t, h.node.IsLinkUp())
	assert.False(t, h.node.IsSessionEstablished())
	assert.Equal(t, "disconnected", h.node.Snapshot().Session)
	assert.ErrorIs(t, h.node.PublishOnStateChannel("ON"), session.ErrNotEstablished)
}

func TestTick_LinkTimeoutResets(t *testing.T) {
	h := newHarnessWithDriver(t, &blockingDriver{fakeDriver: &fakeDriver{}})

	assert.Equal(t, escalation.Continue, h.node.Tick(epoch))
	assert.Equal(t, escalation.Restart, h.node.Tick(epoch.Add(301*time.Second)))
	assert.Contains(t, h.node.Escalation.Reason(), "link not established")
}

func TestTriggerReset(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)

	require.NoError(t, h.node.TriggerReset("portal reboot"))
	assert.Equal(t, escalation.Restart, h.node.Tick(epoch.Add(time.Second)))
	assert.Equal(t, "portal reboot", h.node.Escalation.Reason())
	assert.True(t, h.node.Snapshot().ResetPending)
}

func TestTriggerFactoryReset(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)

	require.NoError(t, h.node.TriggerFactoryReset())
	assert.Equal(t, escalation.Restart, h.node.Tick(epoch.Add(time.Second)))
	assert.Equal(t, 1, h.settings.cleared)
	assert.Equal(t, "factory reset", h.node.Escalation.Reason())
}

func TestTriggerReset_QueueFull(t *testing.T) {
	h := newHarness(t, "broker.local")
	for i := 0; i < actionQueueSize; i++ {
		require.NoError(t, h.node.TriggerReset("again"))
	}
	assert.ErrorIs(t, h.node.TriggerReset("one too many"), ErrActionQueueFull)
}

func TestInbox_BoundedAndCounted(t *testing.T) {
	h := newHarness(t, "broker.local", func(c *Config) {
		c.InboxSize = 2
		c.MaxMessagesPerTick = 1
	})
	h.broker.echo = false
	h.node.Tick(epoch)

	var dropped int
	h.node.Observe(func(e Event) {
		if e.Type == EventInboxDropped {
			dropped++
		}
	})

	for i := 0; i < 4; i++ {
		h.broker.inject("esp/dev1/command/light", "ON")
	}
	assert.Equal(t, 2, dropped)
	assert.EqualValues(t, 2, h.node.Snapshot().InboxDropped)

	var passthrough int
	h.node.Observe(func(e Event) {
		if e.Type == EventPassthrough {
			passthrough++
		}
	})
	h.node.Tick(epoch.Add(10 * time.Millisecond))
	assert.Equal(t, 1, passthrough)
	h.node.Tick(epoch.Add(20 * time.Millisecond))
	assert.Equal(t, 2, passthrough)
}

func TestRun_ReturnsRestart(t *testing.T) {
	h := newHarness(t, "broker.local")
	require.NoError(t, h.node.TriggerReset("portal reboot"))

	err := h.node.Run(context.Background(), time.Millisecond)
	require.ErrorIs(t, err, escalation.ErrRestart)
	assert.Contains(t, err.Error(), "portal reboot")
}

func TestRun_CancelDisconnects(t *testing.T) {
	h := newHarness(t, "broker.local")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var err error
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = h.node.Run(ctx, time.Millisecond)
	}()

	require.Eventually(t, h.node.IsSessionEstablished, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.node.IsSessionEstablished())
	assert.Equal(t, link.StateDown, h.node.Link.State())
	assert.Positive(t, h.broker.disconnects)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)

	s := h.node.Snapshot()
	assert.Equal(t, "up", s.Link)
	assert.Equal(t, "192.168.1.50", s.Address)
	assert.Equal(t, "24:0a:c4:01:02:03", s.HardwareAddress)
	assert.Equal(t, -60, s.SignalStrength)
	assert.Equal(t, "established", s.Session)
	assert.Equal(t, "dev1-24ac4123", s.SessionID)
	assert.Equal(t, "0", s.LastSessionCode)
	assert.Equal(t, "boot-1", s.BootID)
	assert.False(t, s.ResetPending)
	assert.EqualValues(t, 1, s.Ticks)
}

func TestSettingsChange_ReconnectsSession(t *testing.T) {
	h := newHarness(t, "broker.local")
	h.node.Tick(epoch)
	require.Equal(t, 1, h.broker.connects)

	h.settings.setHost("broker2.local")
	h.node.Tick(epoch.Add(time.Second))

	assert.Equal(t, 2, h.broker.connects)
	assert.True(t, h.node.IsSessionEstablished())

	status := h.publishedTo("esp/dev1/status")
	assert.Equal(t, "ON", status[len(status)-1].payload)
}
