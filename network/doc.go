// Package network maintains a mesh of direct peer-to-peer links negotiated
// through an external signaling relay. The relay carries only negotiation
// parameters; application data always flows over the peer data channels.
//
// # Core Components
//
// PeerGroup: Owns the set of peer links, batches outgoing negotiation
// messages into single relay round-trips, routes inbound relay traffic to
// the right link and exposes group-wide send and lifecycle events.
//
// PeerConnection: Owns one underlying transport connection and its data
// channel, and runs the perfect-negotiation handshake on it.
//
// Transport, DataChannel: The seam to the connection technology (WebRTC in
// production, scripted fakes in tests).
//
// # Perfect negotiation
//
// Both sides of a link may try to connect at once. Politeness, derived once
// from comparing the two peer identifiers, breaks the symmetry: when offers
// collide, the impolite side ignores the incoming offer and the polite side
// rolls over to it. The outcome is deterministic regardless of message
// ordering.
//
// # Failure policy
//
// Failures are peer-scoped: nothing that goes wrong on one link affects the
// others or the caller's convergence loop. Sends to a not-yet-open link are
// dropped silently, negotiation races are logged only, ICE failure triggers
// an in-place restart, and malformed relay payloads surface on the group's
// Errors channel.
package network
