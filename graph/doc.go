// Package graph tracks the diverging branches that accepted proposals form
// while a group of peers converges on a shared state.
//
// # Core Components
//
// DivergingGraph: A split-only branch structure. Paths may fork but never
// merge back into one node: at most one edge may ever terminate at any node,
// and joining an edge into an existing node is only legal while that node is
// still a fresh path start. Violations fail loudly with
// ErrProtocolViolation.
//
// Sentinel root: A virtual ancestor at distance -1. It is always present,
// never removed, and is the furthest node whenever the graph is empty.
//
// # Furthest node
//
// The head of the longest path is the group's converged state. Ties are
// broken by the earliest-inserted path. The furthest node changing identity
// through AddEdge is the observable "the group has advanced" event.
//
// # Ownership
//
// The graph is the sole owner of all node data. Edges may arrive in any
// order; distances are rewritten when a later edge grafts a whole branch
// onto a longer ancestor. Pruning keeps the graph bounded.
package graph
