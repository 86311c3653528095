package network

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

const localID = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"

type fakeSignaler struct {
	mu      sync.Mutex
	batches [][]byte
}

func (s *fakeSignaler) Send(batch []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSignaler) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.batches...)
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeFactory) new() (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := newFakeTransport(fmt.Sprintf("transport-%d", len(f.transports)))
	f.transports = append(f.transports, t)
	return t, nil
}

func newGroupHarness(t *testing.T) (*PeerGroup, *fakeSignaler, *fakeFactory) {
	t.Helper()
	sig := &fakeSignaler{}
	factory := &fakeFactory{}
	g, err := NewPeerGroup(localID, sig, factory.new,
		WithFlushDelay(10*time.Millisecond),
		WithLogger(discard),
	)
	if err != nil {
		t.Fatalf("NewPeerGroup: %v", err)
	}
	return g, sig, factory
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewPeerGroupRejectsBadID(t *testing.T) {
	if _, err := NewPeerGroup("not-a-uuid", &fakeSignaler{}, (&fakeFactory{}).new); err == nil {
		t.Fatal("expected error for invalid local id")
	}
}

// Envelopes queued in a burst leave as a single relay message.
func TestNegotiationBatching(t *testing.T) {
	g, sig, _ := newGroupHarness(t)
	desc := SessionDescription{Type: DescriptionOffer, SDP: "x"}
	g.Announce()
	g.Negotiate(politeID, nil, &desc)

	waitFor(t, func() bool { return len(sig.sent()) > 0 }, "batch flush")
	batches := sig.sent()
	if len(batches) != 1 {
		t.Fatalf("expected one relay message, got %d", len(batches))
	}
	var envs []Envelope
	if err := json.Unmarshal(batches[0], &envs); err != nil {
		t.Fatalf("batch is not an envelope array: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes in the batch, got %d", len(envs))
	}
	if envs[0].From != localID || envs[0].To != "" {
		t.Fatalf("announce envelope wrong: %+v", envs[0])
	}
	if envs[1].To != politeID || envs[1].Description == nil {
		t.Fatalf("negotiation envelope wrong: %+v", envs[1])
	}
}

// An enqueue after the drain starts a fresh batch.
func TestEnqueueAfterDrainStartsFreshBatch(t *testing.T) {
	g, sig, _ := newGroupHarness(t)
	g.Announce()
	waitFor(t, func() bool { return len(sig.sent()) == 1 }, "first flush")
	g.Announce()
	waitFor(t, func() bool { return len(sig.sent()) == 2 }, "second flush")
}

func TestReceiveCreatesLinks(t *testing.T) {
	g, _, factory := newGroupHarness(t)

	// A bare announce creates an initiating link: we own the channel.
	payload, _ := json.Marshal([]Envelope{{From: impoliteID}})
	g.Receive(payload)
	if peers := g.Peers(); len(peers) != 1 || peers[0] != impoliteID {
		t.Fatalf("expected link to %s, got %v", impoliteID, peers)
	}
	if len(factory.transports[0].created) != 1 {
		t.Fatal("announce-created link must initiate the data channel")
	}

	// An incoming offer creates a waiting link and gets answered.
	offer := SessionDescription{Type: DescriptionOffer, SDP: "remote"}
	payload, _ = json.Marshal([]Envelope{{From: politeID, To: localID, Description: &offer}})
	g.Receive(payload)
	if len(g.Peers()) != 2 {
		t.Fatalf("expected two links, got %v", g.Peers())
	}
	second := factory.transports[1]
	if len(second.created) != 0 {
		t.Fatal("offer-created link must wait for the pushed channel")
	}
	if remote := second.remoteDescription(); remote == nil || remote.SDP != "remote" {
		t.Fatalf("offer was not applied: %v", remote)
	}
}

func TestReceiveFilters(t *testing.T) {
	g, _, factory := newGroupHarness(t)
	payload, _ := json.Marshal([]Envelope{
		{From: impoliteID, To: politeID},     // addressed to someone else
		{From: "not-a-uuid"},                 // invalid sender
		{From: localID},                      // our own echo
	})
	g.Receive(payload)
	if len(g.Peers()) != 0 || len(factory.transports) != 0 {
		t.Fatalf("filtered envelopes created links: %v", g.Peers())
	}
}

func TestReceiveMalformedPayload(t *testing.T) {
	g, _, _ := newGroupHarness(t)
	g.Receive([]byte("{not json"))
	select {
	case err := <-g.Errors:
		if err == nil {
			t.Fatal("nil error reported")
		}
	default:
		t.Fatal("malformed payload was not reported")
	}
	if len(g.Peers()) != 0 {
		t.Fatal("malformed payload created links")
	}
}

func TestSendSkipsUnopenedLinks(t *testing.T) {
	g, _, factory := newGroupHarness(t)
	payload, _ := json.Marshal([]Envelope{{From: impoliteID}})
	g.Receive(payload)
	ch := factory.transports[0].created[0]

	g.Send("early") // channel not open yet: dropped, not an error
	if len(ch.sentMessages()) != 0 {
		t.Fatal("message sent on a closed channel")
	}

	ch.becomeOpen()
	<-g.Events // peerjoin
	g.Send("hello")
	if got := ch.sentMessages(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected [hello], got %v", got)
	}
}

func TestLifecycleEvents(t *testing.T) {
	g, _, factory := newGroupHarness(t)
	payload, _ := json.Marshal([]Envelope{{From: impoliteID}})
	g.Receive(payload)
	ch := factory.transports[0].created[0]

	ch.becomeOpen()
	if ev := <-g.Events; ev.Kind != PeerJoin || ev.Peer != impoliteID {
		t.Fatalf("expected peerjoin from %s, got %+v", impoliteID, ev)
	}

	ch.deliver("payload")
	if ev := <-g.Events; ev.Kind != Message || ev.Data != "payload" {
		t.Fatalf("expected message event, got %+v", ev)
	}

	ch.onClose()
	if ev := <-g.Events; ev.Kind != PeerLeave || ev.Peer != impoliteID {
		t.Fatalf("expected peerleave, got %+v", ev)
	}
	if len(g.Peers()) != 0 {
		t.Fatal("closed link not removed from the group")
	}
}

func TestRemovePeer(t *testing.T) {
	g, _, factory := newGroupHarness(t)
	payload, _ := json.Marshal([]Envelope{{From: impoliteID}})
	g.Receive(payload)

	g.RemovePeer(impoliteID)
	if len(g.Peers()) != 0 {
		t.Fatal("peer not removed")
	}
	if !factory.transports[0].closed {
		t.Fatal("removed peer's transport not closed")
	}
	g.RemovePeer(impoliteID) // unknown: no-op
}

func TestLeave(t *testing.T) {
	g, sig, factory := newGroupHarness(t)
	payload, _ := json.Marshal([]Envelope{{From: impoliteID}})
	g.Receive(payload)

	g.Leave()
	g.Leave() // idempotent
	if len(g.Peers()) != 0 {
		t.Fatal("links survived Leave")
	}
	if !factory.transports[0].closed {
		t.Fatal("transport survived Leave")
	}
	select {
	case ev := <-g.Events:
		t.Fatalf("Leave emitted %+v", ev)
	default:
	}

	// Detached: inbound traffic and outbound negotiation are ignored.
	g.Receive(payload)
	if len(g.Peers()) != 0 {
		t.Fatal("Receive after Leave created links")
	}
	before := len(sig.sent())
	g.Announce()
	time.Sleep(30 * time.Millisecond)
	if len(sig.sent()) != before {
		t.Fatal("Announce after Leave reached the relay")
	}
}
