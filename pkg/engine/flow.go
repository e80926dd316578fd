package engine

import "github.com/rmax-ai/meshflow/pkg/graph"

// Traversal is the animation state of a packet crossing one link. Progress
// below 0 means the hop has not started; above 1 it is finished.
type Traversal struct {
	ID          uint64         `json:"id"`
	Publication string         `json:"publication"`
	LinkKey     string         `json:"link"`
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Hop         int            `json:"hop"`
	Progress    float64        `json:"progress"`
	Speed       float64        `json:"speed"`
	Class       Classification `json:"class"`
	Color       string         `json:"color"`
}

// Visible reports whether the traversal is currently on its link.
func (t Traversal) Visible() bool {
	return t.Progress >= 0 && t.Progress <= 1
}

// FlowScheduler turns published paths into per-hop traversals and advances
// them at a fixed speed per tick.
type FlowScheduler struct {
	speed  float64
	nextID uint64
	active []*Traversal
}

// NewFlowScheduler creates a scheduler that advances every traversal by
// speed hop-units per tick.
func NewFlowScheduler(speed float64) *FlowScheduler {
	return &FlowScheduler{speed: speed}
}

// Schedule creates one traversal per consecutive pair of nodes. Hop i starts
// at progress -i so each hop begins as the previous one clears.
func (f *FlowScheduler) Schedule(publication string, class Classification, nodes []string) int {
	nodes = dedupeIDs(nodes)
	if len(nodes) < 2 {
		return 0
	}
	for i := 0; i < len(nodes)-1; i++ {
		f.nextID++
		f.active = append(f.active, &Traversal{
			ID:          f.nextID,
			Publication: publication,
			LinkKey:     graph.LinkKey(nodes[i], nodes[i+1]),
			Source:      nodes[i],
			Target:      nodes[i+1],
			Hop:         i,
			Progress:    -float64(i),
			Speed:       f.speed,
			Class:       class,
			Color:       class.Color(),
		})
	}
	return len(nodes) - 1
}

// Tick advances every traversal and retires those past completion. It
// returns the number retired.
func (f *FlowScheduler) Tick() int {
	kept := f.active[:0]
	retired := 0
	for _, t := range f.active {
		t.Progress += t.Speed
		if t.Progress > 1 {
			retired++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(f.active); i++ {
		f.active[i] = nil
	}
	f.active = kept
	return retired
}

// Active returns copies of the traversals that are on their link and whose
// endpoints both pass the visibility filter. Filtered traversals keep
// advancing; they are only left out of the result. A nil filter accepts
// every node.
func (f *FlowScheduler) Active(visible func(id string) bool) []Traversal {
	var out []Traversal
	for _, t := range f.active {
		if !t.Visible() {
			continue
		}
		if visible != nil && (!visible(t.Source) || !visible(t.Target)) {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Len returns the number of traversals not yet retired, visible or not.
func (f *FlowScheduler) Len() int {
	return len(f.active)
}

// Clear drops every traversal.
func (f *FlowScheduler) Clear() {
	f.active = nil
}
