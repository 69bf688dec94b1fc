package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-node/internal/heartbeat"
	"github.com/nerrad567/gray-logic-node/internal/session"
)

var testTopics = session.NewTopics("esp", "dev1", "kitchen")

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		payload    string
		wantKind   Kind
		wantSuffix string
		wantGroup  bool
	}{
		{"empty on command", "esp/dev1/command", "", KindStatusRequest, "", false},
		{"empty on group", "esp/kitchen/command", "", KindStatusRequest, "", true},
		{"statusupdate", "esp/dev1/command/statusupdate", "", KindStatusRequest, "statusupdate", false},
		{"statusupdate with payload", "esp/kitchen/command/statusupdate", "x", KindStatusRequest, "statusupdate", true},
		{"reboot", "esp/dev1/command/reboot", "", KindReboot, "reboot", false},
		{"group reboot", "esp/kitchen/command/reboot", "now", KindReboot, "reboot", true},
		{"factoryreset", "esp/dev1/command/factoryreset", "", KindFactoryReset, "factoryreset", false},
		{"stale presence", "esp/dev1/status", "OFF", KindPresenceHeal, "", false},
		{"presence on", "esp/dev1/status", "ON", KindIgnored, "", false},
		{"payload on command", "esp/dev1/command", "page 2", KindPassthrough, "", false},
		{"unknown suffix", "esp/dev1/command/p[1].b[2].txt", "hello", KindPassthrough, "p[1].b[2].txt", false},
		{"nested suffix", "esp/kitchen/command/dim/level", "40", KindPassthrough, "dim/level", true},
		{"other node", "esp/dev2/command/reboot", "", KindIgnored, "", false},
		{"prefix lookalike", "esp/dev1/commander", "", KindIgnored, "", false},
		{"telemetry", "esp/dev1/sensor", "{}", KindIgnored, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Parse(testTopics, tt.topic, []byte(tt.payload))
			assert.Equal(t, tt.wantKind, cmd.Kind)
			assert.Equal(t, tt.wantSuffix, cmd.Suffix)
			assert.Equal(t, tt.wantGroup, cmd.Group)
			assert.Equal(t, tt.topic, cmd.Topic)
		})
	}
}

func TestParse_NoTopicsYet(t *testing.T) {
	cmd := Parse(session.Topics{}, "esp/dev1/command", nil)
	assert.Equal(t, KindIgnored, cmd.Kind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "status_request", KindStatusRequest.String())
	assert.Equal(t, "presence_heal", KindPresenceHeal.String())
	assert.Equal(t, "ignored", Kind(99).String())
}

type fakeSession struct {
	presence []string
}

func (s *fakeSession) Topics() session.Topics { return testTopics }

func (s *fakeSession) PublishPresence(v string) error {
	s.presence = append(s.presence, v)
	return nil
}

type fakeStatus struct {
	calls []time.Time
	err   error
}

func (s *fakeStatus) PublishNow(now time.Time) (heartbeat.Status, error) {
	s.calls = append(s.calls, now)
	return heartbeat.Status{Status: heartbeat.Available}, s.err
}

type fakeResetter struct {
	reasons []string
}

func (r *fakeResetter) ResetDevice(reason string) {
	r.reasons = append(r.reasons, reason)
}

type fakeFactory struct {
	resetter *fakeResetter
	calls    int
	err      error
}

func (f *fakeFactory) ClearAllAndReset(ctx context.Context) error {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	f.resetter.ResetDevice("factory reset")
	return f.err
}

type harness struct {
	d        *Dispatcher
	session  *fakeSession
	status   *fakeStatus
	resetter *fakeResetter
	factory  *fakeFactory
}

func newHarness() *harness {
	h := &harness{
		session:  &fakeSession{},
		status:   &fakeStatus{},
		resetter: &fakeResetter{},
	}
	h.factory = &fakeFactory{resetter: h.resetter}
	h.d = NewDispatcher(h.session, h.status, h.resetter, h.factory, nil)
	h.d.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return h
}

func TestDispatcher_StatusRequest(t *testing.T) {
	h := newHarness()

	cmd := h.d.OnMessage("esp/dev1/command", nil)
	assert.Equal(t, KindStatusRequest, cmd.Kind)
	require.Len(t, h.status.calls, 1)
	assert.Equal(t, time.Unix(1_700_000_000, 0), h.status.calls[0])
	assert.Empty(t, h.resetter.reasons)
}

func TestDispatcher_Idempotent(t *testing.T) {
	h := newHarness()

	h.d.OnMessage("esp/kitchen/command/statusupdate", nil)
	h.d.OnMessage("esp/kitchen/command/statusupdate", nil)
	assert.Len(t, h.status.calls, 2)

	h.d.OnMessage("esp/dev1/status", []byte("OFF"))
	h.d.OnMessage("esp/dev1/status", []byte("OFF"))
	assert.Equal(t, []string{"ON", "ON"}, h.session.presence)
}

func TestDispatcher_Reboot(t *testing.T) {
	h := newHarness()

	h.d.OnMessage("esp/dev1/command/reboot", nil)
	require.Len(t, h.resetter.reasons, 1)
	assert.Contains(t, h.resetter.reasons[0], "esp/dev1/command/reboot")
	assert.Empty(t, h.status.calls)
}

func TestDispatcher_FactoryReset(t *testing.T) {
	h := newHarness()
	h.factory.err = errors.New("disk full")

	h.d.OnMessage("esp/kitchen/command/factoryreset", nil)
	assert.Equal(t, 1, h.factory.calls)
	assert.Equal(t, []string{"factory reset"}, h.resetter.reasons)
}

func TestDispatcher_StatusFailureIsLoggedOnly(t *testing.T) {
	h := newHarness()
	h.status.err = errors.New("not established")

	cmd := h.d.OnMessage("esp/dev1/command", nil)
	assert.Equal(t, KindStatusRequest, cmd.Kind)
	assert.Empty(t, h.resetter.reasons)
}

func TestDispatcher_PassthroughAndObservers(t *testing.T) {
	h := newHarness()

	var passed []Command
	h.d.SetPassthrough(func(cmd Command) { passed = append(passed, cmd) })
	var seen []Kind
	h.d.Observe(func(cmd Command) { seen = append(seen, cmd.Kind) })

	h.d.OnMessage("esp/dev1/command/page", []byte("3"))
	h.d.OnMessage("esp/dev1/sensor", []byte("{}"))

	require.Len(t, passed, 1)
	assert.Equal(t, "page", passed[0].Suffix)
	assert.Equal(t, []byte("3"), passed[0].Payload)
	assert.Equal(t, []Kind{KindPassthrough, KindIgnored}, seen)
}
