package network

import (
	"fmt"
	"log/slog"
	"sync"
)

// channelLabel names the single data channel each link carries.
const channelLabel = "kraken"

// Polite reports which side of a link yields in a simultaneous-offer
// collision: the one with the greater identifier. It is computed once at
// link creation and fixed for the link's lifetime.
func Polite(localID, remoteID string) bool {
	return localID > remoteID
}

type connectionConfig struct {
	localID  string
	remoteID string
	// hasRemoteDescription is true when the link is created in response to
	// a received description; such a link waits for the remote side's data
	// channel instead of creating its own.
	hasRemoteDescription bool
	transport            Transport
	signal               func(Envelope)
	onOpen               func(*PeerConnection)
	onClose              func(*PeerConnection)
	onMessage            func(*PeerConnection, string)
	logger               *slog.Logger
}

// PeerConnection owns one transport connection and its data channel, and
// runs the perfect-negotiation state machine on it. Lifecycle and message
// events are reported to the owning PeerGroup.
type PeerConnection struct {
	localID   string
	remoteID  string
	polite    bool
	transport Transport
	signal    func(Envelope)
	onOpen    func(*PeerConnection)
	onClose   func(*PeerConnection)
	onMessage func(*PeerConnection, string)
	logger    *slog.Logger

	mu          sync.Mutex
	channel     DataChannel
	makingOffer bool
	ignoreOffer bool
	closed      bool
}

func newPeerConnection(cfg connectionConfig) (*PeerConnection, error) {
	pc := &PeerConnection{
		localID:   cfg.localID,
		remoteID:  cfg.remoteID,
		polite:    Polite(cfg.localID, cfg.remoteID),
		transport: cfg.transport,
		signal:    cfg.signal,
		onOpen:    cfg.onOpen,
		onClose:   cfg.onClose,
		onMessage: cfg.onMessage,
		logger:    cfg.logger,
	}
	t := cfg.transport
	t.OnNegotiationNeeded(pc.negotiationNeeded)
	t.OnCandidate(func(c ICECandidate) {
		pc.signal(Envelope{From: pc.localID, To: pc.remoteID, Candidate: &c})
	})
	t.OnDataChannel(pc.adoptChannel)
	t.OnConnectionFailed(func() {
		pc.logger.Info("connectivity lost, restarting ICE", "peer", pc.remoteID)
		pc.transport.RestartICE()
	})
	if !cfg.hasRemoteDescription {
		ch, err := t.CreateDataChannel(channelLabel)
		if err != nil {
			return nil, fmt.Errorf("create data channel for %s: %w", cfg.remoteID, err)
		}
		pc.adoptChannel(ch)
	}
	return pc, nil
}

// RemoteID returns the identifier of the peer on the other end.
func (pc *PeerConnection) RemoteID() string {
	return pc.remoteID
}

// Polite reports whether this side yields in offer collisions.
func (pc *PeerConnection) Polite() bool {
	return pc.polite
}

// Open reports whether the data channel is ready to carry messages. A peer
// is only considered joined once its channel opens.
func (pc *PeerConnection) Open() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.channel != nil && pc.channel.Open()
}

// Send writes a message to the data channel. The caller is responsible for
// only sending on open links.
func (pc *PeerConnection) Send(message string) error {
	pc.mu.Lock()
	ch := pc.channel
	pc.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no data channel to %s", pc.remoteID)
	}
	return ch.Send(message)
}

// Negotiate feeds one received negotiation envelope into the state machine.
// Exactly one of candidate and description is meaningful per call.
func (pc *PeerConnection) Negotiate(candidate *ICECandidate, description *SessionDescription) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if description != nil {
		collision := description.Type == DescriptionOffer &&
			(pc.makingOffer || !pc.transport.Stable())
		pc.ignoreOffer = !pc.polite && collision
		if pc.ignoreOffer {
			pc.logger.Debug("ignoring colliding offer", "peer", pc.remoteID)
			return nil
		}
		if err := pc.transport.SetRemoteDescription(*description); err != nil {
			return fmt.Errorf("apply description from %s: %w", pc.remoteID, err)
		}
		if description.Type == DescriptionOffer {
			answer, err := pc.transport.Answer()
			if err != nil {
				return fmt.Errorf("answer %s: %w", pc.remoteID, err)
			}
			pc.signal(Envelope{From: pc.localID, To: pc.remoteID, Description: &answer})
		}
		return nil
	}
	if candidate != nil {
		if err := pc.transport.AddCandidate(*candidate); err != nil {
			if pc.ignoreOffer {
				// Expected transient race: the candidate belongs to the
				// offer we just ignored.
				pc.logger.Debug("dropping candidate of ignored offer", "peer", pc.remoteID)
				return nil
			}
			return fmt.Errorf("apply candidate from %s: %w", pc.remoteID, err)
		}
	}
	return nil
}

// negotiationNeeded produces and sends a local offer. The making-offer flag
// is what lets a concurrent incoming offer be recognized as a collision.
func (pc *PeerConnection) negotiationNeeded() {
	pc.mu.Lock()
	pc.makingOffer = true
	pc.mu.Unlock()
	defer func() {
		pc.mu.Lock()
		pc.makingOffer = false
		pc.mu.Unlock()
	}()
	offer, err := pc.transport.Offer()
	if err != nil {
		pc.logger.Warn("producing offer failed", "peer", pc.remoteID, "err", err)
		return
	}
	pc.signal(Envelope{From: pc.localID, To: pc.remoteID, Description: &offer})
}

// adoptChannel wires up the data channel, whether created locally or pushed
// by the remote side.
func (pc *PeerConnection) adoptChannel(ch DataChannel) {
	pc.mu.Lock()
	pc.channel = ch
	pc.mu.Unlock()
	ch.OnOpen(func() {
		pc.onOpen(pc)
	})
	ch.OnClose(func() {
		pc.Close()
	})
	ch.OnMessage(func(message string) {
		pc.onMessage(pc, message)
	})
}

// Close tears down the data channel and the transport connection and
// reports the closure to the owner. It is idempotent.
func (pc *PeerConnection) Close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	ch := pc.channel
	pc.mu.Unlock()
	if ch != nil {
		if err := ch.Close(); err != nil {
			pc.logger.Debug("closing data channel", "peer", pc.remoteID, "err", err)
		}
	}
	if err := pc.transport.Close(); err != nil {
		pc.logger.Debug("closing transport", "peer", pc.remoteID, "err", err)
	}
	pc.onClose(pc)
}
