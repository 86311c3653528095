package network

// Transport is one underlying peer-to-peer connection, as the negotiation
// layer sees it. Offer and Answer install the created description locally
// before returning it; they are the only operations that may block on the
// connection technology.
type Transport interface {
	// Offer creates an offer, installs it as the local description and
	// returns it for out-of-band delivery.
	Offer() (SessionDescription, error)
	// Answer does the same for an answer to the current remote offer.
	Answer() (SessionDescription, error)
	SetRemoteDescription(SessionDescription) error
	AddCandidate(ICECandidate) error
	// Stable reports whether the connection is idle, i.e. not in the middle
	// of applying or producing a description.
	Stable() bool
	// RestartICE makes the next offer restart connectivity checks and
	// re-raises the negotiation-needed signal.
	RestartICE()
	CreateDataChannel(label string) (DataChannel, error)

	OnNegotiationNeeded(fn func())
	OnCandidate(fn func(ICECandidate))
	OnDataChannel(fn func(DataChannel))
	// OnConnectionFailed fires when connectivity is lost beyond repair by
	// normal means (ICE failed).
	OnConnectionFailed(fn func())

	Close() error
}

// DataChannel is the bidirectional message pipe riding on a Transport.
type DataChannel interface {
	Label() string
	Open() bool
	Send(message string) error
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(message string))
	Close() error
}

// TransportFactory creates a fresh Transport for each new peer link.
type TransportFactory func() (Transport, error)
