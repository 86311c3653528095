// Package signaling provides the out-of-band relay peers use to exchange
// negotiation parameters. The relay never carries application data and never
// inspects the batches it forwards: it fans opaque payloads out from one
// peer to all others, best-effort.
package signaling

import (
	"io"
	"net/http"
	"sync"
	"time"
)

// mailboxSize bounds how many undelivered batches the hub holds per peer.
// A full mailbox drops new batches; delivery is best-effort.
const mailboxSize = 16

// Hub relays opaque batches between registered peers. It serves HTTP
// (POST to publish, GET to long-poll) and also works in-process via Attach.
type Hub struct {
	pollWait time.Duration

	mu    sync.Mutex
	boxes map[string]chan []byte
}

type hubOption func(*Hub)

// WithPollWait sets how long a long-poll request is held open before the
// hub answers 204 No Content.
func WithPollWait(d time.Duration) hubOption {
	return func(h *Hub) {
		h.pollWait = d
	}
}

// NewHub creates an empty relay hub.
func NewHub(opts ...hubOption) *Hub {
	h := &Hub{
		pollWait: 25 * time.Second,
		boxes:    make(map[string]chan []byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// box returns id's mailbox, registering the peer if needed.
func (h *Hub) box(id string) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	box, ok := h.boxes[id]
	if !ok {
		box = make(chan []byte, mailboxSize)
		h.boxes[id] = box
	}
	return box
}

// fanOut delivers batch to every registered peer except from. Full
// mailboxes are skipped.
func (h *Hub) fanOut(from string, batch []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, box := range h.boxes {
		if id == from {
			continue
		}
		select {
		case box <- batch:
		default:
		}
	}
}

// Detach drops id's mailbox and any undelivered batches in it.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.boxes, id)
}

// ServeHTTP implements the relay wire protocol: POST ?id=X relays the body
// to everyone else, GET ?id=X long-polls one batch (200 with the batch, or
// 204 when nothing arrived in time).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		batch, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.box(id) // register senders too, so early batches reach them later
		h.fanOut(id, batch)
		w.WriteHeader(http.StatusAccepted)
	case http.MethodGet:
		select {
		case batch := <-h.box(id):
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(batch); err != nil {
				return
			}
		case <-time.After(h.pollWait):
			w.WriteHeader(http.StatusNoContent)
		case <-r.Context().Done():
			// Same answer as an idle poll; an implicit 200 with an empty
			// body would look like a real batch to a racing client.
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Local is an in-process attachment to a Hub, for tests and single-binary
// setups. It satisfies the peer group's Signaler contract.
type Local struct {
	hub *Hub
	id  string
	// Batches delivers everything relayed by other peers.
	Batches chan []byte
}

// Attach registers id on the hub and returns its in-process attachment.
func (h *Hub) Attach(id string) *Local {
	return &Local{hub: h, id: id, Batches: h.box(id)}
}

// Send relays one batch to every other attached peer.
func (l *Local) Send(batch []byte) error {
	l.hub.fanOut(l.id, batch)
	return nil
}

// Close detaches from the hub.
func (l *Local) Close() error {
	l.hub.Detach(l.id)
	return nil
}
