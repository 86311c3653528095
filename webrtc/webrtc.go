// Package webrtc adapts pion's WebRTC implementation to the network
// package's Transport seam. It is the production connection technology;
// tests use scripted fakes instead.
package webrtc

import (
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/wpk-/kraken/network"
)

// Config selects the ICE servers new connections will use. An empty config
// works on a local network.
type Config struct {
	ICEServers []string
}

// Factory returns a transport factory for the given config, one transport
// per peer link.
func Factory(cfg Config) network.TransportFactory {
	return func() (network.Transport, error) {
		return New(cfg)
	}
}

// Transport wraps one pion PeerConnection.
type Transport struct {
	pc *pion.PeerConnection

	mu                  sync.Mutex
	iceRestart          bool
	onNegotiationNeeded func()
	onConnectionFailed  func()
}

// New creates a pion-backed transport.
func New(cfg Config) (*Transport, error) {
	conf := pion.Configuration{}
	if len(cfg.ICEServers) > 0 {
		conf.ICEServers = []pion.ICEServer{{URLs: cfg.ICEServers}}
	}
	pc, err := pion.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	t := &Transport{pc: pc}
	pc.OnICEConnectionStateChange(func(s pion.ICEConnectionState) {
		if s != pion.ICEConnectionStateFailed {
			return
		}
		t.mu.Lock()
		fn := t.onConnectionFailed
		t.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return t, nil
}

func (t *Transport) Offer() (network.SessionDescription, error) {
	t.mu.Lock()
	var opts *pion.OfferOptions
	if t.iceRestart {
		opts = &pion.OfferOptions{ICERestart: true}
		t.iceRestart = false
	}
	t.mu.Unlock()
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return network.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return network.SessionDescription{}, err
	}
	// The installed description, not the created one: it carries the ICE
	// parameters pion filled in.
	return fromPionDescription(*t.pc.LocalDescription()), nil
}

func (t *Transport) Answer() (network.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return network.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return network.SessionDescription{}, err
	}
	return fromPionDescription(*t.pc.LocalDescription()), nil
}

func (t *Transport) SetRemoteDescription(d network.SessionDescription) error {
	return t.pc.SetRemoteDescription(pion.SessionDescription{
		Type: pion.NewSDPType(d.Type),
		SDP:  d.SDP,
	})
}

func (t *Transport) AddCandidate(c network.ICECandidate) error {
	return t.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *Transport) Stable() bool {
	return t.pc.SignalingState() == pion.SignalingStateStable
}

// RestartICE flags the next offer to restart connectivity checks and
// re-raises negotiation-needed so that offer gets produced.
func (t *Transport) RestartICE() {
	t.mu.Lock()
	t.iceRestart = true
	fn := t.onNegotiationNeeded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) CreateDataChannel(label string) (network.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &dataChannel{dc: dc}, nil
}

func (t *Transport) OnNegotiationNeeded(fn func()) {
	t.mu.Lock()
	t.onNegotiationNeeded = fn
	t.mu.Unlock()
	t.pc.OnNegotiationNeeded(fn)
}

func (t *Transport) OnCandidate(fn func(network.ICECandidate)) {
	t.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		fn(fromPionCandidate(c.ToJSON()))
	})
}

func (t *Transport) OnDataChannel(fn func(network.DataChannel)) {
	t.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(&dataChannel{dc: dc})
	})
}

func (t *Transport) OnConnectionFailed(fn func()) {
	t.mu.Lock()
	t.onConnectionFailed = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

// dataChannel wraps one pion data channel.
type dataChannel struct {
	dc *pion.DataChannel
}

func (c *dataChannel) Label() string {
	return c.dc.Label()
}

func (c *dataChannel) Open() bool {
	return c.dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *dataChannel) Send(message string) error {
	return c.dc.SendText(message)
}

func (c *dataChannel) OnOpen(fn func()) {
	c.dc.OnOpen(fn)
}

func (c *dataChannel) OnClose(fn func()) {
	c.dc.OnClose(fn)
}

func (c *dataChannel) OnMessage(fn func(string)) {
	c.dc.OnMessage(func(m pion.DataChannelMessage) {
		fn(string(m.Data))
	})
}

func (c *dataChannel) Close() error {
	return c.dc.Close()
}

func fromPionDescription(d pion.SessionDescription) network.SessionDescription {
	return network.SessionDescription{
		Type: d.Type.String(),
		SDP:  d.SDP,
	}
}

func fromPionCandidate(c pion.ICECandidateInit) network.ICECandidate {
	return network.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
