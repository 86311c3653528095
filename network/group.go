package network

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind tags the lifecycle events a PeerGroup surfaces.
type EventKind string

const (
	// PeerJoin fires when a link's data channel opens.
	PeerJoin EventKind = "peerjoin"
	// PeerLeave fires when an established link closes.
	PeerLeave EventKind = "peerleave"
	// Message fires for every message received from a peer.
	Message EventKind = "message"
)

// Event is one mesh lifecycle event. Data is only set for Message events.
type Event struct {
	Kind EventKind
	Peer string
	Data string
}

// Signaler is the signaling collaborator: an ordered, best-effort relay for
// opaque batches of negotiation envelopes. Inbound batches are handed to
// PeerGroup.Receive by the caller.
type Signaler interface {
	Send(batch []byte) error
}

// NewID returns a fresh peer identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is a syntactically valid peer identifier.
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// defaultFlushDelay is how long outgoing negotiation messages are held back
// so that bursts of candidates coalesce into one relay round-trip.
const defaultFlushDelay = 100 * time.Millisecond

// PeerGroup owns the set of peer links and the outbound negotiation queue.
// Events and Errors must be drained by the caller.
type PeerGroup struct {
	localID      string
	signaler     Signaler
	newTransport TransportFactory
	flushDelay   time.Duration
	logger       *slog.Logger

	// Events carries peerjoin, peerleave and message events.
	Events chan Event
	// Errors carries malformed relay payloads and peer-scoped negotiation
	// failures.
	Errors chan error

	mu    sync.Mutex
	links map[string]*PeerConnection
	queue []Envelope
	timer *time.Timer
	left  bool
}

type groupOption func(*PeerGroup)

// WithFlushDelay overrides the batching delay of the outbound negotiation
// queue.
func WithFlushDelay(d time.Duration) groupOption {
	return func(g *PeerGroup) {
		g.flushDelay = d
	}
}

// WithLogger routes the group's (and its links') logging.
func WithLogger(l *slog.Logger) groupOption {
	return func(g *PeerGroup) {
		g.logger = l
	}
}

// NewPeerGroup creates a mesh manager for localID. The factory is invoked
// once per peer link; the signaler carries negotiation batches and nothing
// else.
func NewPeerGroup(localID string, signaler Signaler, factory TransportFactory, opts ...groupOption) (*PeerGroup, error) {
	if !ValidID(localID) {
		return nil, fmt.Errorf("invalid peer id %q", localID)
	}
	g := &PeerGroup{
		localID:      localID,
		signaler:     signaler,
		newTransport: factory,
		flushDelay:   defaultFlushDelay,
		logger:       slog.Default(),
		Events:       make(chan Event, 64),
		Errors:       make(chan error, 16),
		links:        make(map[string]*PeerConnection),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// LocalID returns this peer's identifier.
func (g *PeerGroup) LocalID() string {
	return g.localID
}

// Peers returns the identifiers of all currently linked peers, open or not.
func (g *PeerGroup) Peers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.links))
	for id := range g.links {
		ids = append(ids, id)
	}
	return ids
}

// Announce broadcasts this peer's presence. Call it once after joining the
// relay; every peer that hears it will initiate a link back.
func (g *PeerGroup) Announce() {
	g.Negotiate("", nil, nil)
}

// Negotiate queues one negotiation envelope for to (empty means broadcast).
// The first queued envelope arms a short delay timer; when it fires the
// whole queue leaves as a single relay message.
func (g *PeerGroup) Negotiate(to string, candidate *ICECandidate, description *SessionDescription) {
	g.enqueue(Envelope{From: g.localID, To: to, Candidate: candidate, Description: description})
}

func (g *PeerGroup) enqueue(env Envelope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.left {
		return
	}
	g.queue = append(g.queue, env)
	if len(g.queue) == 1 {
		g.timer = time.AfterFunc(g.flushDelay, g.flush)
	}
}

// flush drains the queue atomically; an enqueue arriving after the drain
// starts a fresh batch with its own timer.
func (g *PeerGroup) flush() {
	g.mu.Lock()
	batch := g.queue
	g.queue = nil
	g.timer = nil
	g.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		g.report(fmt.Errorf("encode negotiation batch: %w", err))
		return
	}
	if err := g.signaler.Send(payload); err != nil {
		g.report(fmt.Errorf("relay send: %w", err))
	}
}

// Receive routes one inbound relay payload. Malformed payloads are reported
// on Errors and dropped. Envelopes not addressed to this peer, or with an
// invalid sender id, are skipped.
func (g *PeerGroup) Receive(payload []byte) {
	g.mu.Lock()
	left := g.left
	g.mu.Unlock()
	if left {
		return
	}
	var batch []Envelope
	if err := json.Unmarshal(payload, &batch); err != nil {
		g.report(fmt.Errorf("malformed relay message: %w", err))
		return
	}
	for _, env := range batch {
		if env.To != "" && env.To != g.localID {
			continue
		}
		if env.From == g.localID || !ValidID(env.From) {
			continue
		}
		link, err := g.ensureLink(env.From, env.Description != nil)
		if err != nil {
			g.report(err)
			continue
		}
		if link == nil {
			return // left while routing
		}
		if env.Candidate == nil && env.Description == nil {
			continue // bare announce, the link itself is the reaction
		}
		if err := g.negotiateLink(link, env); err != nil {
			g.report(err)
		}
	}
}

// negotiateLink feeds the envelope's parts into the link one at a time.
func (g *PeerGroup) negotiateLink(link *PeerConnection, env Envelope) error {
	if env.Description != nil {
		if err := link.Negotiate(nil, env.Description); err != nil {
			return err
		}
	}
	if env.Candidate != nil {
		if err := link.Negotiate(env.Candidate, nil); err != nil {
			return err
		}
	}
	return nil
}

// ensureLink returns the link for remoteID, creating one if absent. A nil
// link (and nil error) means the group has left. The link is constructed
// outside the group lock: creating a data channel raises negotiation-needed
// synchronously, which enqueues an offer.
func (g *PeerGroup) ensureLink(remoteID string, hasRemoteDescription bool) (*PeerConnection, error) {
	g.mu.Lock()
	if g.left {
		g.mu.Unlock()
		return nil, nil
	}
	if link, ok := g.links[remoteID]; ok {
		g.mu.Unlock()
		return link, nil
	}
	g.mu.Unlock()

	transport, err := g.newTransport()
	if err != nil {
		return nil, fmt.Errorf("transport for %s: %w", remoteID, err)
	}
	link, err := newPeerConnection(connectionConfig{
		localID:              g.localID,
		remoteID:             remoteID,
		hasRemoteDescription: hasRemoteDescription,
		transport:            transport,
		signal:               g.enqueue,
		onOpen:               g.linkOpened,
		onClose:              g.linkClosed,
		onMessage:            g.linkMessage,
		logger:               g.logger,
	})
	if err != nil {
		_ = transport.Close()
		return nil, err
	}

	g.mu.Lock()
	if g.left {
		g.mu.Unlock()
		link.Close()
		return nil, nil
	}
	if existing, ok := g.links[remoteID]; ok {
		g.mu.Unlock()
		link.Close()
		return existing, nil
	}
	g.links[remoteID] = link
	g.mu.Unlock()
	return link, nil
}

// Send broadcasts a message over every open link. Sends to links whose
// channel has not opened yet are dropped: those peers have not joined.
func (g *PeerGroup) Send(message string) {
	g.mu.Lock()
	links := make([]*PeerConnection, 0, len(g.links))
	for _, link := range g.links {
		links = append(links, link)
	}
	g.mu.Unlock()
	for _, link := range links {
		if !link.Open() {
			continue
		}
		if err := link.Send(message); err != nil {
			g.logger.Debug("send failed", "peer", link.RemoteID(), "err", err)
		}
	}
}

// RemovePeer closes and discards the link to id, if any. The caller's
// recourse when a negotiation stalls.
func (g *PeerGroup) RemovePeer(id string) {
	g.mu.Lock()
	link, ok := g.links[id]
	delete(g.links, id)
	g.mu.Unlock()
	if ok {
		link.Close()
	}
}

// Leave closes and discards every link and detaches from the relay without
// closing it; the relay connection belongs to the caller. Idempotent.
func (g *PeerGroup) Leave() {
	g.mu.Lock()
	if g.left {
		g.mu.Unlock()
		return
	}
	g.left = true
	links := make([]*PeerConnection, 0, len(g.links))
	for _, link := range g.links {
		links = append(links, link)
	}
	g.links = make(map[string]*PeerConnection)
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.queue = nil
	g.mu.Unlock()
	for _, link := range links {
		link.Close()
	}
}

func (g *PeerGroup) linkOpened(pc *PeerConnection) {
	g.emit(Event{Kind: PeerJoin, Peer: pc.RemoteID()})
}

// linkClosed removes the link from the active set. The leave event fires
// only if the link was still ours; links discarded by Leave or RemovePeer
// have already been taken out.
func (g *PeerGroup) linkClosed(pc *PeerConnection) {
	g.mu.Lock()
	current, ok := g.links[pc.RemoteID()]
	if ok && current == pc {
		delete(g.links, pc.RemoteID())
	} else {
		ok = false
	}
	g.mu.Unlock()
	if ok {
		g.emit(Event{Kind: PeerLeave, Peer: pc.RemoteID()})
	}
}

func (g *PeerGroup) linkMessage(pc *PeerConnection, data string) {
	g.emit(Event{Kind: Message, Peer: pc.RemoteID(), Data: data})
}

func (g *PeerGroup) emit(ev Event) {
	g.Events <- ev
}

func (g *PeerGroup) report(err error) {
	select {
	case g.Errors <- err:
	default:
		g.logger.Warn("error channel full, dropping", "err", err)
	}
}
