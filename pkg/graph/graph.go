package graph

import (
	"sort"
	"time"
)

// DefaultMaxLinks is the number of links kept when no cap is given.
const DefaultMaxLinks = 100

// Graph owns the canonical node and link maps. All mutation goes through
// the upsert, SetPosition and Reset methods; readers get copies.
//
// Graph is not safe for concurrent use.
type Graph struct {
	nodes    map[string]*Node
	links    map[string]*Link
	maxLinks int
	selfName string
}

// New creates an empty graph. The self node is created lazily.
func New(maxLinks int, selfName string) *Graph {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &Graph{
		nodes:    make(map[string]*Node),
		links:    make(map[string]*Link),
		maxLinks: maxLinks,
		selfName: selfName,
	}
}

// LinkKey returns the canonical key of the undirected pair (a, b).
func LinkKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// EnsureSelf creates the self node if it does not exist yet.
func (g *Graph) EnsureSelf(now time.Time) *Node {
	if n, ok := g.nodes[SelfID]; ok {
		return n
	}
	n := &Node{
		ID:           SelfID,
		Class:        ClassSelf,
		Name:         g.selfName,
		LastActivity: now,
	}
	g.nodes[SelfID] = n
	return n
}

// SetSelfName updates the operator display name used for the self node.
func (g *Graph) SetSelfName(name string) {
	g.selfName = name
	if n, ok := g.nodes[SelfID]; ok && name != "" {
		n.Name = name
	}
}

// UpsertNode creates or refreshes a node. Known names, candidate names and
// the ambiguity flag are never replaced by unknown values.
func (g *Graph) UpsertNode(u NodeUpdate, now time.Time) {
	if u.ID == "" {
		return
	}
	if u.ID == SelfID {
		self := g.EnsureSelf(now)
		if now.After(self.LastActivity) {
			self.LastActivity = now
		}
		return
	}

	n, ok := g.nodes[u.ID]
	if !ok {
		n = &Node{ID: u.ID, Class: ClassClient}
		g.nodes[u.ID] = n
	}

	if u.Class == ClassRepeater || (!ok && u.Class != "") {
		n.Class = u.Class
	}
	if u.Name != "" {
		n.Name = u.Name
	}
	if u.Ambiguous {
		n.Ambiguous = true
	}
	if len(u.Candidates) > 0 {
		n.Candidates = mergeNames(n.Candidates, u.Candidates)
	}
	if u.LastObserved.After(n.LastObserved) {
		n.LastObserved = u.LastObserved
	}
	if now.After(n.LastActivity) {
		n.LastActivity = now
	}
}

// UpsertLink creates or refreshes the link between a and b. It returns the
// canonical key and false when the link was rejected (self-loop or unknown
// endpoint).
func (g *Graph) UpsertLink(a, b string, now time.Time) (string, bool) {
	if a == "" || b == "" || a == b {
		return "", false
	}
	if _, ok := g.nodes[a]; !ok {
		return "", false
	}
	if _, ok := g.nodes[b]; !ok {
		return "", false
	}

	key := LinkKey(a, b)
	if l, ok := g.links[key]; ok {
		if now.After(l.LastActivity) {
			l.LastActivity = now
		}
		return key, true
	}

	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	g.links[key] = &Link{Key: key, A: lo, B: hi, LastActivity: now}
	g.trimLinks()
	return key, true
}

// trimLinks evicts the least recently active links above the cap.
func (g *Graph) trimLinks() {
	for len(g.links) > g.maxLinks {
		var oldest *Link
		for _, l := range g.links {
			if oldest == nil ||
				l.LastActivity.Before(oldest.LastActivity) ||
				(l.LastActivity.Equal(oldest.LastActivity) && l.Key < oldest.Key) {
				oldest = l
			}
		}
		delete(g.links, oldest.Key)
	}
}

// SetPosition stores a layout coordinate for an existing node.
func (g *Graph) SetPosition(id string, pos Position) bool {
	n, ok := g.nodes[id]
	if !ok {
		return false
	}
	n.Position = pos
	return true
}

// Reset drops every node except self and every link.
func (g *Graph) Reset() {
	for id := range g.nodes {
		if id != SelfID {
			delete(g.nodes, id)
		}
	}
	g.links = make(map[string]*Link)
}

// Node returns a copy of one node.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// HasLink reports whether the canonical link between a and b exists.
func (g *Graph) HasLink(a, b string) bool {
	_, ok := g.links[LinkKey(a, b)]
	return ok
}

// NodeCount returns the number of nodes including self.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// LinkCount returns the number of tracked links.
func (g *Graph) LinkCount() int { return len(g.links) }

// Nodes returns copies of all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Links returns copies of all links, most recently active first.
func (g *Graph) Links() []Link {
	out := make([]Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Snapshot returns a copy of the whole graph.
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{Nodes: g.Nodes(), Links: g.Links()}
}

func copyNode(n *Node) Node {
	c := *n
	if n.Candidates != nil {
		c.Candidates = append([]string(nil), n.Candidates...)
	}
	return c
}

func mergeNames(have, add []string) []string {
	seen := make(map[string]struct{}, len(have)+len(add))
	out := make([]string, 0, len(have)+len(add))
	for _, list := range [][]string{have, add} {
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
