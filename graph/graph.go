package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrProtocolViolation reports an edge the graph must not absorb: a join
// into a node that already has a source or a nonzero distance (two different
// proposals claimed the same next-state identity), or a graft that would
// make a node its own ancestor. The graph is left unmodified.
var ErrProtocolViolation = errors.New("node already joined to a path")

// node lives in the graph's arena. An empty source means the node is a path
// root, either fresh (distance 0) or orphaned by pruning (distance kept).
type node struct {
	source   string
	distance int
	arrival  int
	data     any
}

// DivergingGraph owns the branch structure built from accepted proposals.
// Keys are the application-chosen identities of proposed states and must be
// non-empty.
type DivergingGraph struct {
	mu        sync.RWMutex
	nodes     map[string]*node
	heads     map[string]struct{}
	counter   int
	furthest  string // "" is the sentinel root
	onAdvance func(key string, data any)
}

type option func(*DivergingGraph)

// WithAdvanceFunc registers a callback fired whenever the furthest node
// changes identity as the result of AddEdge. It runs outside the graph's
// lock, on the goroutine that called AddEdge.
func WithAdvanceFunc(fn func(key string, data any)) option {
	return func(g *DivergingGraph) {
		g.onAdvance = fn
	}
}

// New creates an empty DivergingGraph.
func New(opts ...option) *DivergingGraph {
	g := &DivergingGraph{
		nodes: make(map[string]*node),
		heads: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Len returns the number of nodes in the graph.
func (g *DivergingGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Furthest returns the head of the longest path. ok is false when the graph
// is empty and the sentinel root is the furthest node.
func (g *DivergingGraph) Furthest() (key string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.furthest, g.furthest != ""
}

// Node returns the payload stored at key.
func (g *DivergingGraph) Node(key string) (data any, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nd, ok := g.nodes[key]
	if !ok {
		return nil, false
	}
	return nd.data, true
}

// Heads returns the keys that currently have no outgoing edge, sorted.
func (g *DivergingGraph) Heads() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	keys := make([]string, 0, len(g.heads))
	for k := range g.heads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Source returns the predecessor of key. ok is false when key is unknown;
// a known path root returns an empty source.
func (g *DivergingGraph) Source(key string) (source string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nd, ok := g.nodes[key]
	if !ok {
		return "", false
	}
	return nd.source, true
}

// AddEdge records that the state identified by sourceKey was advanced into
// targetKey. An unknown sourceKey starts a new path. targetKey must be new
// or still a fresh path start, and must not be an ancestor of sourceKey;
// anything else is an ErrProtocolViolation and leaves the graph untouched.
// Grafting an edge into an existing path start retroactively lengthens every
// path that descends from it.
func (g *DivergingGraph) AddEdge(sourceKey, targetKey string, data any) error {
	g.mu.Lock()
	advanced, err := g.addEdge(sourceKey, targetKey, data)
	key, info := g.furthest, any(nil)
	if advanced {
		info = g.nodes[key].data
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if advanced && g.onAdvance != nil {
		g.onAdvance(key, info)
	}
	return nil
}

func (g *DivergingGraph) addEdge(sourceKey, targetKey string, data any) (advanced bool, err error) {
	tgt, exists := g.nodes[targetKey]
	if exists && (tgt.source != "" || tgt.distance != 0) {
		return false, fmt.Errorf("%w: edge %s -> %s", ErrProtocolViolation, sourceKey, targetKey)
	}
	// A graft that closes a cycle would unbound every later backward walk.
	if sourceKey == targetKey || (exists && g.descendsFrom(sourceKey, targetKey)) {
		return false, fmt.Errorf("%w: edge %s -> %s would close a cycle", ErrProtocolViolation, sourceKey, targetKey)
	}

	src, ok := g.nodes[sourceKey]
	if !ok {
		src = &node{distance: 0, arrival: g.counter}
		g.counter++
		g.nodes[sourceKey] = src
	}
	// The source gains an outgoing edge, so it is no longer a head.
	delete(g.heads, sourceKey)

	if !exists {
		tgt = &node{
			source:   sourceKey,
			distance: src.distance + 1,
			arrival:  g.counter,
			data:     data,
		}
		g.counter++
		g.nodes[targetKey] = tgt
		g.heads[targetKey] = struct{}{}
		if tgt.distance > g.distanceOf(g.furthest) {
			g.furthest = targetKey
			return true, nil
		}
		return false, nil
	}

	// Graft: every node descending from targetKey, targetKey included,
	// moves delta steps further from its root.
	delta := src.distance + 1
	follows := map[string]bool{targetKey: true}
	for head := range g.heads {
		g.markFollows(head, follows)
	}
	for key, f := range follows {
		if f {
			g.nodes[key].distance += delta
		}
	}
	best := g.furthest
	for key, f := range follows {
		if f && g.outranks(key, best) {
			best = key
		}
	}
	tgt.source = sourceKey
	tgt.data = data
	if best != g.furthest {
		g.furthest = best
		return true, nil
	}
	return false, nil
}

// descendsFrom reports whether key's tail passes through ancestor. Checked
// before a graft mutates anything, so the walk runs on an acyclic structure
// and terminates at a path root.
func (g *DivergingGraph) descendsFrom(key, ancestor string) bool {
	for cur := key; cur != ""; {
		if cur == ancestor {
			return true
		}
		nd, ok := g.nodes[cur]
		if !ok {
			return false
		}
		cur = nd.source
	}
	return false
}

// markFollows walks backward from head until it hits an already-marked node
// or a path root, then marks the whole walked tail with the outcome.
func (g *DivergingGraph) markFollows(head string, memo map[string]bool) {
	var tail []string
	cur := head
	result := false
	for {
		if v, ok := memo[cur]; ok {
			result = v
			break
		}
		tail = append(tail, cur)
		nd := g.nodes[cur]
		if nd.source == "" {
			break
		}
		cur = nd.source
	}
	for _, k := range tail {
		memo[k] = result
	}
}

// outranks reports whether a should replace b as the furthest node: strictly
// greater distance, or equal distance with an earlier arrival. An empty b is
// the sentinel root and loses to any node.
func (g *DivergingGraph) outranks(a, b string) bool {
	if b == "" {
		return true
	}
	na, nb := g.nodes[a], g.nodes[b]
	if na.distance != nb.distance {
		return na.distance > nb.distance
	}
	return na.arrival < nb.arrival
}

func (g *DivergingGraph) distanceOf(key string) int {
	if key == "" {
		return -1 // sentinel root
	}
	return g.nodes[key].distance
}

// RemoveNode deletes key from the graph. Nodes that had key as their source
// become orphaned path roots; their distances are not recomputed. If key was
// the furthest node, the furthest node is recomputed over the remaining
// nodes, falling back to the sentinel root when the graph empties.
func (g *DivergingGraph) RemoveNode(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	nd, ok := g.nodes[key]
	if !ok {
		return
	}
	delete(g.nodes, key)
	delete(g.heads, key)
	for _, other := range g.nodes {
		if other.source == key {
			other.source = ""
		}
	}
	// The former source may have lost its only outgoing edge.
	if nd.source != "" {
		if _, ok := g.nodes[nd.source]; ok && !g.hasChild(nd.source) {
			g.heads[nd.source] = struct{}{}
		}
	}
	if g.furthest == key {
		g.furthest = g.maxNode()
	}
}

func (g *DivergingGraph) hasChild(key string) bool {
	for _, nd := range g.nodes {
		if nd.source == key {
			return true
		}
	}
	return false
}

// maxNode returns the key with the maximum distance, ties broken by earliest
// arrival, or "" when the graph is empty.
func (g *DivergingGraph) maxNode() string {
	best := ""
	for key := range g.nodes {
		if best == "" || g.outranks(key, best) {
			best = key
		}
	}
	return best
}

// Prune keeps only maxSize nodes. Nodes are ranked by a freshness score, the
// most recent arrival on their own tail plus their distance; the
// lowest-scored node is always kept as an anchor and the next size-maxSize
// nodes are dropped, retaining the freshest branches. Ranking by the tail
// score rather than each node's own arrival keeps fresh branches whole: a
// recent head pins its older ancestors, where raw arrival order would cut
// them out from under it. Survivors whose source was dropped become orphaned
// path roots; their distances are deliberately left stale.
func (g *DivergingGraph) Prune(maxSize int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if maxSize >= len(g.nodes) {
		return
	}
	if maxSize <= 0 {
		g.nodes = make(map[string]*node)
		g.heads = make(map[string]struct{})
		g.furthest = ""
		return
	}

	scores := make(map[string]int, len(g.nodes))
	for head := range g.heads {
		g.scoreTail(head, scores)
	}
	keys := make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] != scores[keys[j]] {
			return scores[keys[i]] < scores[keys[j]]
		}
		return g.nodes[keys[i]].arrival < g.nodes[keys[j]].arrival
	})

	drop := len(g.nodes) - maxSize
	for _, key := range keys[1 : 1+drop] {
		delete(g.nodes, key)
		delete(g.heads, key)
	}
	for _, nd := range g.nodes {
		if nd.source != "" {
			if _, ok := g.nodes[nd.source]; !ok {
				nd.source = "" // orphaned, distance kept as-is
			}
		}
	}
	g.rebuildHeads()
	if _, ok := g.nodes[g.furthest]; !ok {
		g.furthest = g.maxNode()
	}
}

// scoreTail computes score(n) = max(score(parent)-(distance(n)-1),
// arrival(n)) + distance(n) for every unscored node on head's tail,
// deepest first. The recurrence folds the most recent arrival of the tail
// into each node's score.
func (g *DivergingGraph) scoreTail(head string, memo map[string]int) {
	var tail []string
	cur := head
	for {
		if _, ok := memo[cur]; ok {
			break
		}
		tail = append(tail, cur)
		nd := g.nodes[cur]
		if nd.source == "" {
			break
		}
		cur = nd.source
	}
	for i := len(tail) - 1; i >= 0; i-- {
		key := tail[i]
		nd := g.nodes[key]
		score := nd.arrival
		if nd.source != "" {
			if parent := memo[nd.source] - (nd.distance - 1); parent > score {
				score = parent
			}
		}
		memo[key] = score + nd.distance
	}
}

func (g *DivergingGraph) rebuildHeads() {
	g.heads = make(map[string]struct{}, len(g.nodes))
	for key := range g.nodes {
		g.heads[key] = struct{}{}
	}
	for _, nd := range g.nodes {
		if nd.source != "" {
			delete(g.heads, nd.source)
		}
	}
}
