package node

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/settings"
)

type fakeDriver struct {
	mu         sync.Mutex
	associated bool
	associates int
	disassocs  int
}

func (d *fakeDriver) Associate(string, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.associates++
	d.associated = true
	return nil
}

func (d *fakeDriver) Disassociate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disassocs++
	d.associated = false
	return nil
}

func (d *fakeDriver) IsAssociated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.associated
}

func (d *fakeDriver) LocalAddress() netip.Addr {
	if !d.IsAssociated() {
		return netip.Addr{}
	}
	return netip.MustParseAddr("192.168.1.50")
}

func (d *fakeDriver) HardwareAddress() net.HardwareAddr {
	return net.HardwareAddr{0x24, 0x0a, 0xc4, 0x01, 0x02, 0x03}
}

func (d *fakeDriver) SignalQuality() int { return -60 }

func (d *fakeDriver) calls() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.associates, d.disassocs
}

type publication struct {
	topic    string
	payload  string
	retained bool
}

// fakeBroker is a transport that behaves like a broker with one client:
// retained publishes are echoed back on matching subscriptions.
type fakeBroker struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	subs        []string
	pubs        []publication
	handler     func(topic string, payload []byte)
	echo        bool
}

func (b *fakeBroker) SetOptions(time.Duration, bool) {}
func (b *fakeBroker) SetLastWill(string, string)     {}

func (b *fakeBroker) Connect(string, int, string, string, string) <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	b.connected = true
	b.subs = nil
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (b *fakeBroker) Subscribe(pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, pattern)
	return nil
}

func (b *fakeBroker) Publish(topic string, payload []byte, retained bool, _ byte) error {
	b.mu.Lock()
	b.pubs = append(b.pubs, publication{topic, string(payload), retained})
	deliver := b.echo && retained && b.subscribedLocked(topic)
	handler := b.handler
	b.mu.Unlock()

	if deliver && handler != nil {
		handler(topic, payload)
	}
	return nil
}

func (b *fakeBroker) subscribedLocked(topic string) bool {
	for _, s := range b.subs {
		if s == topic {
			return true
		}
		if base, ok := strings.CutSuffix(s, "/#"); ok && (topic == base || strings.HasPrefix(topic, base+"/")) {
			return true
		}
	}
	return false
}

func (b *fakeBroker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.connected = false
}

func (b *fakeBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) LastErrorCode() int { return 0 }

func (b *fakeBroker) OnMessage(handler func(topic string, payload []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// inject delivers a message as if another client had published it.
func (b *fakeBroker) inject(topic, payload string) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	handler(topic, []byte(payload))
}

func (b *fakeBroker) published() []publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publication(nil), b.pubs...)
}

type fakeSettings struct {
	mu       sync.Mutex
	host     string
	node     string
	cleared  int
	resetter interface{ ResetDevice(string) }
	pending  settings.ChangeSet
	changes  chan struct{}
}

func newFakeSettings(host string) *fakeSettings {
	return &fakeSettings{host: host, node: "dev1", changes: make(chan struct{}, 1)}
}

func (s *fakeSettings) BrokerEndpoint() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host, 1883
}

func (s *fakeSettings) BrokerCredentials() (string, string) { return "", "" }

func (s *fakeSettings) NodeName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node
}

func (s *fakeSettings) GroupName() string                 { return "kitchen" }
func (s *fakeSettings) WiFiCredentials() (string, string) { return "home", "correct horse" }
func (s *fakeSettings) Changes() <-chan struct{}          { return s.changes }

func (s *fakeSettings) TakeChanges() settings.ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending
	s.pending = 0
	return c
}

func (s *fakeSettings) ClearAllAndReset(context.Context) error {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	s.resetter.ResetDevice("factory reset")
	return nil
}

func (s *fakeSettings) setHost(host string) {
	s.mu.Lock()
	s.host = host
	s.pending |= settings.ChangedBroker
	s.mu.Unlock()
	s.changes <- struct{}{}
}

type fakeSystem struct{}

func (fakeSystem) FreeMemory() uint64         { return 1 << 20 }
func (fakeSystem) Platform() (string, string) { return "debian 12", "6.1.0 aarch64" }
