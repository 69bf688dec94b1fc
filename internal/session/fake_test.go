package session

import (
	"errors"
	"net"
	"sync"
	"time"
)

var errRefused = errors.New("connection refused: not authorised")

type publication struct {
	topic    string
	payload  string
	retained bool
	qos      byte
}

type connectCall struct {
	host     string
	port     int
	clientID string
	username string
	password string
	will     string
}

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	results     []error // popped per Connect; empty means success
	hold        bool    // never answer Connect
	code        int
	will        string
	keepAlive   time.Duration
	connects    []connectCall
	subs        []string
	subErr      error
	pubs        []publication
	disconnects int
	handler     func(topic string, payload []byte)
	onSubscribe func()
}

func (f *fakeTransport) SetOptions(keepAlive time.Duration, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlive = keepAlive
}

func (f *fakeTransport) SetLastWill(topic, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.will = topic + "=" + payload
}

func (f *fakeTransport) Connect(host string, port int, clientID, username, password string) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, connectCall{host, port, clientID, username, password, f.will})
	ch := make(chan error, 1)
	if f.hold {
		return ch
	}
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	if err != nil {
		f.code = 5
	} else {
		f.code = 0
		f.connected = true
	}
	ch <- err
	return ch
}

func (f *fakeTransport) Subscribe(pattern string) error {
	if f.onSubscribe != nil {
		f.onSubscribe()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, pattern)
	return f.subErr
}

func (f *fakeTransport) Publish(topic string, payload []byte, retained bool, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, publication{topic, string(payload), retained, qos})
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) LastErrorCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeTransport) OnMessage(handler func(topic string, payload []byte)) {
	f.handler = handler
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) published() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publication(nil), f.pubs...)
}

type fakeSource struct {
	host  string
	port  int
	user  string
	pass  string
	node  string
	group string
}

func (s *fakeSource) BrokerEndpoint() (string, int)      { return s.host, s.port }
func (s *fakeSource) BrokerCredentials() (string, string) { return s.user, s.pass }
func (s *fakeSource) NodeName() string                    { return s.node }
func (s *fakeSource) GroupName() string                   { return s.group }

type fixedHardware net.HardwareAddr

func (h fixedHardware) HardwareAddress() net.HardwareAddr { return net.HardwareAddr(h) }

type countingResetter struct {
	reasons []string
}

func (r *countingResetter) ResetDevice(reason string) {
	r.reasons = append(r.reasons, reason)
}
