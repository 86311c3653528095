package state

// StateRecord is one peer's belief about the current shared state: the value
// itself, the logical step count and the tie-breaker drawn when the value was
// proposed.
type StateRecord struct {
	State   string  `json:"state"`
	Time    int     `json:"time"`
	Lottery float64 `json:"lottery"`
}

// Proposal announces a state transition to the group. State carries the
// sender's prior value so receivers can tell a clean step from a shifted one.
type Proposal struct {
	Next    string  `json:"next"`
	State   string  `json:"state"`
	Time    int     `json:"time"`
	Lottery float64 `json:"lottery"`
}

// Code classifies the outcome of evaluating a proposal.
type Code string

const (
	// Advance means clean single-step progress from our exact state.
	Advance Code = "ADVANCE"
	// AdvanceShift means a single step from a state that does not match ours.
	// The protocol favors forward progress over consistency verification.
	AdvanceShift Code = "ADVANCE_SHIFT"
	// FastForward means the remote is more than one step ahead; we jump.
	FastForward Code = "FAST_FORWARD"
	// Confirm means the remote re-announced the value we already hold.
	Confirm Code = "CONFIRM"
	// LotteryLost means the remote won the same-step tie-break.
	LotteryLost Code = "LOTTERY_LOST"
	// Rock means we won the same-step tie-break and ignore the remote.
	Rock Code = "ROCK"
	// OneDirection means the remote is behind; we never revert.
	OneDirection Code = "ONE_DIRECTION"
)

// Evaluation is the verdict on one incoming proposal. It is consumed
// immediately by the caller and never persisted.
type Evaluation struct {
	Accept bool
	Code   Code
	Reason string
}

// NextState decides, for a single peer, which proposals move the shared
// state forward. It is owned and mutated by one actor only.
type NextState struct {
	record StateRecord
	source Source
}

type option func(*NextState)

// WithSource replaces the lottery randomness, letting tests fix draws.
func WithSource(s Source) option {
	return func(n *NextState) {
		n.source = s
	}
}

// New creates a NextState holding initial at time 0 with a fresh lottery
// draw.
func New(initial string, opts ...option) *NextState {
	n := &NextState{source: CryptoSource{}}
	for _, opt := range opts {
		opt(n)
	}
	n.record = StateRecord{
		State:   initial,
		Time:    0,
		Lottery: n.source.Float64(),
	}
	return n
}

// Record returns the local (state, time, lottery) triple.
func (n *NextState) Record() StateRecord {
	return n.record
}

// Propose turns an intended next state into a Proposal one step ahead of the
// local record, with a lottery value drawn fresh for the proposal. The local
// record is not modified.
func (n *NextState) Propose(next string) Proposal {
	return Proposal{
		Next:    next,
		State:   n.record.State,
		Time:    n.record.Time + 1,
		Lottery: n.source.Float64(),
	}
}

// Evaluate classifies an incoming proposal against the local record and
// decides whether to accept it. It never mutates the record; apply accepted
// proposals with Advance.
func (n *NextState) Evaluate(in Proposal) Evaluation {
	local := n.record
	switch {
	case in.Time > local.Time+1:
		return Evaluation{true, FastForward, "remote is ahead, jumping"}
	case in.Time == local.Time+1:
		if in.State == local.State {
			return Evaluation{true, Advance, "clean step"}
		}
		return Evaluation{true, AdvanceShift, "step from a diverged state"}
	case in.Time == local.Time:
		if in.Next == local.State {
			return Evaluation{false, Confirm, "already holding this state"}
		}
		if in.Lottery > local.Lottery {
			return Evaluation{true, LotteryLost, "remote won the lottery"}
		}
		return Evaluation{false, Rock, "we won the lottery"}
	default:
		return Evaluation{false, OneDirection, "remote is behind, never revert"}
	}
}

// Advance replaces the local record with the accepted proposal's next state,
// time and lottery, and returns the new record.
func (n *NextState) Advance(p Proposal) StateRecord {
	n.record = StateRecord{
		State:   p.Next,
		Time:    p.Time,
		Lottery: p.Lottery,
	}
	return n.record
}
