package network

// Description types, as they appear on the wire.
const (
	DescriptionOffer  = "offer"
	DescriptionAnswer = "answer"
)

// SessionDescription carries one side's view of a session during
// negotiation. It is shaped like the browser's RTCSessionDescriptionInit so
// peers on other stacks interoperate.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is one candidate transport address, shaped like the browser's
// RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Envelope is one negotiation message relayed between two peers. An empty To
// addresses every peer; a peer announces itself by broadcasting an envelope
// that carries neither candidate nor description. The relay wire format is
// always a JSON array of envelopes, even for a single one.
type Envelope struct {
	From        string              `json:"from"`
	To          string              `json:"to,omitempty"`
	Candidate   *ICECandidate       `json:"candidate,omitempty"`
	Description *SessionDescription `json:"description,omitempty"`
}
