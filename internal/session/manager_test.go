package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testHW    = fixedHardware{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}
	testStart = time.Unix(1_700_000_000, 0)
)

func testConfig() Config {
	return Config{
		KeepAlive:      30 * time.Second,
		CleanSession:   true,
		ConnectTimeout: 10 * time.Second,
		RetryBackoff:   30 * time.Second,
		RetryCeiling:   29,
		QoS:            1,
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *fakeSource, *countingResetter) {
	t.Helper()
	tr := &fakeTransport{}
	src := &fakeSource{host: "broker.local", port: 1883, user: "u", pass: "p", node: "dev1", group: "kitchen"}
	rst := &countingResetter{}
	return NewManager(tr, src, testHW, rst, testConfig(), nil), tr, src, rst
}

func TestManager_FirstConnect(t *testing.T) {
	m, tr, _, rst := newTestManager(t)

	var establishedDuringSubscribe []bool
	tr.onSubscribe = func() { establishedDuringSubscribe = append(establishedDuringSubscribe, m.IsEstablished()) }

	require.True(t, m.Tick(testStart))
	assert.Equal(t, StateEstablished, m.State())

	require.Len(t, tr.connects, 1)
	call := tr.connects[0]
	assert.Equal(t, "broker.local", call.host)
	assert.Equal(t, 1883, call.port)
	assert.Equal(t, "dev1-24ac4123", call.clientID)
	assert.Equal(t, "u", call.username)
	assert.Equal(t, "esp/dev1/status=OFF", call.will)
	assert.Equal(t, 30*time.Second, tr.keepAlive)

	assert.Equal(t, []string{"esp/dev1/command/#", "esp/kitchen/command/#", "esp/dev1/status"}, tr.subs)
	assert.Equal(t, []bool{false, false, false}, establishedDuringSubscribe)

	assert.Equal(t, []publication{{"esp/dev1/status", "OFF", true, 1}}, tr.published())
	assert.Equal(t, "dev1-24ac4123", m.SessionID())
	assert.Equal(t, "0", m.LastErrorCode())
	assert.Empty(t, rst.reasons)
}

func TestManager_ReconnectAnnouncesOn(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	require.True(t, m.Tick(testStart))

	tr.drop()
	// Lost sessions are retried on the same tick.
	assert.True(t, m.Tick(testStart.Add(time.Second)))
	require.Len(t, tr.connects, 2)

	pubs := tr.published()
	require.Len(t, pubs, 2)
	assert.Equal(t, publication{"esp/dev1/status", "ON", true, 1}, pubs[1])
}

func TestManager_SubscribeFailureDoesNotBlock(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	tr.subErr = errRefused

	assert.True(t, m.Tick(testStart))
	assert.Len(t, tr.subs, 3)
}

func TestManager_WaitsForBrokerSettings(t *testing.T) {
	m, tr, src, _ := newTestManager(t)
	src.host = ""

	for i := 0; i < 100; i++ {
		assert.False(t, m.Tick(testStart.Add(time.Duration(i)*10*time.Millisecond)))
	}
	assert.Empty(t, tr.connects)
	assert.Equal(t, 0, m.Failures())

	src.host = "10.0.0.2"
	m.ConfigChanged()
	assert.True(t, m.Tick(testStart.Add(2*time.Second)))
	require.Len(t, tr.connects, 1)
	assert.Equal(t, "10.0.0.2", tr.connects[0].host)
}

func TestManager_FlatBackoffAndCounterReset(t *testing.T) {
	m, tr, _, rst := newTestManager(t)
	tr.results = []error{errRefused, errRefused}

	assert.False(t, m.Tick(testStart))
	assert.Equal(t, 1, m.Failures())
	assert.Equal(t, "5", m.LastErrorCode())
	assert.Equal(t, StateDisconnected, m.State())

	assert.False(t, m.Tick(testStart.Add(29*time.Second)))
	assert.Len(t, tr.connects, 1, "no retry inside the backoff")

	assert.False(t, m.Tick(testStart.Add(30*time.Second)))
	assert.Len(t, tr.connects, 2)
	assert.Equal(t, 2, m.Failures())

	assert.True(t, m.Tick(testStart.Add(60*time.Second)))
	assert.Equal(t, 0, m.Failures())
	assert.Empty(t, rst.reasons)
}

func TestManager_RetryCeilingResetsOnce(t *testing.T) {
	m, tr, _, rst := newTestManager(t)
	for i := 0; i < 40; i++ {
		tr.results = append(tr.results, errRefused)
	}

	var failures []int
	m.OnFailure(func(n, _ int) { failures = append(failures, n) })

	now := testStart
	for i := 0; i < 40; i++ {
		m.Tick(now)
		now = now.Add(30 * time.Second)
	}

	assert.Len(t, tr.connects, 30)
	require.Len(t, rst.reasons, 1)
	assert.Contains(t, rst.reasons[0], "30 attempts")
	assert.Equal(t, 30, failures[len(failures)-1])
}

func TestManager_ConfigChangeKeepsRetryBudget(t *testing.T) {
	m, tr, _, rst := newTestManager(t)
	for i := 0; i < 40; i++ {
		tr.results = append(tr.results, errRefused)
	}

	now := testStart
	for i := 0; i < 20; i++ {
		m.Tick(now)
		now = now.Add(30 * time.Second)
	}
	require.Equal(t, 20, m.Failures())

	m.ConfigChanged()
	now = now.Add(-29 * time.Second)
	assert.False(t, m.Tick(now))
	assert.Len(t, tr.connects, 21, "a settings change retries at once")
	assert.Equal(t, 21, m.Failures())

	for i := 0; i < 15; i++ {
		now = now.Add(30 * time.Second)
		m.Tick(now)
	}

	assert.Len(t, tr.connects, 30)
	require.Len(t, rst.reasons, 1)
	assert.Contains(t, rst.reasons[0], "30 attempts")
}

func TestManager_LinkLost(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	require.True(t, m.Tick(testStart))

	m.LinkLost()
	assert.True(t, m.IsEstablished(), "transport still up")

	tr.drop()
	m.LinkLost()
	assert.False(t, m.IsEstablished())
	assert.Equal(t, StateDisconnected, m.State())

	assert.True(t, m.Tick(testStart.Add(time.Second)))
	assert.Len(t, tr.connects, 2)
}

func TestManager_HandshakeTimeout(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	tr.hold = true

	assert.False(t, m.Tick(testStart))
	assert.Equal(t, StateConnecting, m.State())

	assert.False(t, m.Tick(testStart.Add(5*time.Second)))
	assert.Equal(t, StateConnecting, m.State())

	assert.False(t, m.Tick(testStart.Add(11*time.Second)))
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, m.Failures())
	assert.Equal(t, 1, tr.disconnects)
}

func TestManager_SettingsChangeReconnects(t *testing.T) {
	m, tr, src, _ := newTestManager(t)
	require.True(t, m.Tick(testStart))

	src.node = "dev2"
	m.ConfigChanged()
	require.True(t, m.Tick(testStart.Add(time.Second)))

	require.Len(t, tr.connects, 2)
	assert.Equal(t, "dev2-24ac4123", tr.connects[1].clientID)
	assert.Equal(t, "esp/dev2/status", m.Topics().Status)
	assert.Equal(t, "dev2-24ac4123", m.SessionID())
}

func TestManager_Disconnect(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	require.True(t, m.Tick(testStart))

	m.Disconnect("shutting down")

	pubs := tr.published()
	require.Len(t, pubs, 3)
	assert.Equal(t, publication{"esp/dev1/status", "OFF", true, 1}, pubs[1])
	assert.Equal(t, publication{"esp/dev1/sensor", `{"status":"unavailable"}`, true, 1}, pubs[2])
	assert.False(t, tr.Connected())
	assert.False(t, m.IsEstablished())

	assert.False(t, m.Tick(testStart.Add(time.Second)))
	assert.Len(t, tr.connects, 1)
}

func TestManager_DisconnectWithoutSession(t *testing.T) {
	m, tr, _, _ := newTestManager(t)
	m.Disconnect("shutting down")
	assert.Empty(t, tr.published())
	assert.Equal(t, 1, tr.disconnects)
}

func TestManager_PublishHelpers(t *testing.T) {
	m, tr, _, _ := newTestManager(t)

	assert.ErrorIs(t, m.PublishState("x"), ErrNotEstablished)

	require.True(t, m.Tick(testStart))
	require.NoError(t, m.PublishState("idle"))
	require.NoError(t, m.PublishStatus("ON"))
	require.NoError(t, m.PublishStateSubTopic("/page", "2"))
	require.NoError(t, m.PublishStateJSON("p[1].b[4]", "ON"))
	require.NoError(t, m.PublishTelemetry([]byte(`{}`)))

	pubs := tr.published()[1:]
	assert.Equal(t, []publication{
		{"esp/dev1/state", "idle", false, 0},
		{"esp/dev1/status", "ON", false, 0},
		{"esp/dev1/state/page", "2", false, 0},
		{"esp/dev1/state/json", `{"event":"p[1].b[4]","value":"ON"}`, false, 0},
		{"esp/dev1/sensor", `{}`, true, 1},
	}, pubs)
}

func TestTopicsAndClientID(t *testing.T) {
	topics := NewTopics("", "dev1", "all")
	assert.Equal(t, Topics{
		Command:      "esp/dev1/command",
		GroupCommand: "esp/all/command",
		State:        "esp/dev1/state",
		StateJSON:    "esp/dev1/state/json",
		Status:       "esp/dev1/status",
		Telemetry:    "esp/dev1/sensor",
	}, topics)
	assert.False(t, topics.IsZero())
	assert.True(t, Topics{}.IsZero())

	tests := []struct {
		hw   net.HardwareAddr
		want string
	}{
		{net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}, "n-deadbeef01"},
		{net.HardwareAddr{0x00, 0x00}, "n-00"},
		{nil, "n-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClientID("n", tt.hw))
	}
}
