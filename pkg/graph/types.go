package graph

import "time"

// SelfID is the id of the local node. It is the only node that survives a
// reset.
const SelfID = "self"

// NodeClass represents the role of a vertex in the mesh graph.
type NodeClass string

const (
	ClassSelf     NodeClass = "self"
	ClassRepeater NodeClass = "repeater"
	ClassClient   NodeClass = "client"
)

// Position is a layout coordinate. Set is false until the layout simulator
// has placed the node.
type Position struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Set bool    `json:"set"`
}

// Node represents a vertex in the mesh graph.
type Node struct {
	ID           string    `json:"id"`
	Class        NodeClass `json:"class"`
	Name         string    `json:"name,omitempty"`
	Ambiguous    bool      `json:"ambiguous,omitempty"`
	Candidates   []string  `json:"candidates,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	LastObserved time.Time `json:"last_observed,omitempty"`
	Position     Position  `json:"position"`
}

// Link represents an undirected adjacency between two nodes. A is always the
// lexically smaller id.
type Link struct {
	Key          string    `json:"key"`
	A            string    `json:"a"`
	B            string    `json:"b"`
	LastActivity time.Time `json:"last_activity"`
}

// NodeUpdate carries the attributes learned from one sighting of a node.
// Zero values mean "unknown" and never overwrite stored data.
type NodeUpdate struct {
	ID           string
	Class        NodeClass
	Name         string
	Ambiguous    bool
	Candidates   []string
	LastObserved time.Time
}

// Snapshot is a read-only copy of the graph handed to renderers and the
// layout simulator.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}
