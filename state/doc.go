// Package state implements the convergence rules that let independently
// acting peers agree on a single evolving shared state.
//
// # Core Components
//
// NextState: Holds one peer's belief about the shared state (the value, its
// logical step count and a random tie-breaker) and classifies incoming
// proposals against it.
//
// Proposal: An immutable state transition announced to the group.
//
// Source: Pluggable randomness used to draw lottery tie-breakers.
//
// # Protocol
//
// A peer turns an intended next state into a Proposal, broadcasts it, and
// feeds every received Proposal through Evaluate. The rules always favor
// forward progress: a proposal further ahead in time is adopted without
// verifying the skipped steps, and ties at the same step are broken by a
// lottery value drawn fresh for each proposal. Accepted proposals are applied
// with Advance, which replaces the local record wholesale.
//
// The evaluator is synchronous and owned by a single actor; it never blocks
// and keeps no state beyond the local (state, time, lottery) triple.
package state
