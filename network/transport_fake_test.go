package network

import (
	"fmt"
	"sync"
)

// fakeTransport scripts the connection technology. The signaling state
// follows the usual dance: not stable while an offer is in flight on either
// side, stable again once an answer lands.
type fakeTransport struct {
	mu       sync.Mutex
	name     string
	unstable bool
	remote   *SessionDescription
	created  []*fakeChannel
	restarts int
	closed   bool

	offerErr     error
	answerErr    error
	remoteErr    error
	candidateErr error
	candidates   []ICECandidate

	negotiationNeeded func()
	candidate         func(ICECandidate)
	dataChannel       func(DataChannel)
	connectionFailed  func()
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name}
}

func (t *fakeTransport) Offer() (SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.offerErr != nil {
		return SessionDescription{}, t.offerErr
	}
	t.unstable = true
	return SessionDescription{Type: DescriptionOffer, SDP: t.name + "-offer"}, nil
}

func (t *fakeTransport) Answer() (SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answerErr != nil {
		return SessionDescription{}, t.answerErr
	}
	t.unstable = false
	return SessionDescription{Type: DescriptionAnswer, SDP: t.name + "-answer"}, nil
}

func (t *fakeTransport) SetRemoteDescription(d SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteErr != nil {
		return t.remoteErr
	}
	t.remote = &d
	t.unstable = d.Type == DescriptionOffer
	return nil
}

func (t *fakeTransport) AddCandidate(c ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.candidateErr != nil {
		return t.candidateErr
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) Stable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.unstable
}

func (t *fakeTransport) RestartICE() {
	t.mu.Lock()
	t.restarts++
	t.mu.Unlock()
}

func (t *fakeTransport) CreateDataChannel(label string) (DataChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := &fakeChannel{label: label}
	t.created = append(t.created, ch)
	return ch, nil
}

func (t *fakeTransport) OnNegotiationNeeded(fn func())      { t.negotiationNeeded = fn }
func (t *fakeTransport) OnCandidate(fn func(ICECandidate))  { t.candidate = fn }
func (t *fakeTransport) OnDataChannel(fn func(DataChannel)) { t.dataChannel = fn }
func (t *fakeTransport) OnConnectionFailed(fn func())       { t.connectionFailed = fn }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) remoteDescription() *SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// fakeChannel scripts a data channel; tests drive its lifecycle by hand.
type fakeChannel struct {
	mu     sync.Mutex
	label  string
	open   bool
	closed bool
	sent   []string

	onOpen    func()
	onClose   func()
	onMessage func(string)
}

func (c *fakeChannel) Label() string {
	return c.label
}

func (c *fakeChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

func (c *fakeChannel) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return fmt.Errorf("channel %s is not open", c.label)
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) OnOpen(fn func())          { c.onOpen = fn }
func (c *fakeChannel) OnClose(fn func())         { c.onClose = fn }
func (c *fakeChannel) OnMessage(fn func(string)) { c.onMessage = fn }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// becomeOpen flips the channel open and fires the open handler, like a
// transport would once connectivity is up.
func (c *fakeChannel) becomeOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) deliver(message string) {
	if c.onMessage != nil {
		c.onMessage(message)
	}
}

func (c *fakeChannel) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}
