// Package layout defines the contract between the mesh graph and an external
// force-directed position solver. No physics is implemented here.
package layout

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/rmax-ai/meshflow/pkg/graph"
)

const (
	// BaseCharge is the repulsion applied to ordinary nodes.
	BaseCharge = -120.0
	// SelfChargeFactor multiplies the repulsion of the self node.
	SelfChargeFactor = 4.0
	// BaseCenterStrength pulls ordinary nodes towards the viewport centre.
	BaseCenterStrength = 0.02
	// SelfCenterStrength pulls the self node towards the centre.
	SelfCenterStrength = 0.2
	// SeedRadius is the distance from its neighbour at which a new node is
	// placed.
	SeedRadius = 30.0
)

// Viewport is the drawing area the simulator lays out into.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle of the viewport.
func (v Viewport) Center() (float64, float64) {
	return v.Width / 2, v.Height / 2
}

// Simulator is implemented by the external position solver.
type Simulator interface {
	// Reseed restarts the simulation from the given graph and viewport.
	// Nodes carry seeded positions.
	Reseed(snap graph.Snapshot, vp Viewport)
	// Step advances one tick and returns updated positions.
	Step() map[string]graph.Position
}

// Charge returns the repulsion a simulator must apply to n.
func Charge(n graph.Node) float64 {
	if n.Class == graph.ClassSelf {
		return BaseCharge * SelfChargeFactor
	}
	return BaseCharge
}

// CenterStrength returns the centring bias a simulator must apply to n.
func CenterStrength(n graph.Node) float64 {
	if n.Class == graph.ClassSelf {
		return SelfCenterStrength
	}
	return BaseCenterStrength
}

// SeedPositions places every node that has no position yet. A new node is
// put near an already-positioned neighbour, self first, so it does not jump
// in from the origin. Self and isolated nodes start at the viewport centre.
func SeedPositions(snap graph.Snapshot, vp Viewport) map[string]graph.Position {
	placed := make(map[string]graph.Position, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.Position.Set {
			placed[n.ID] = n.Position
		}
	}

	neighbours := make(map[string][]string)
	for _, l := range snap.Links {
		neighbours[l.A] = append(neighbours[l.A], l.B)
		neighbours[l.B] = append(neighbours[l.B], l.A)
	}

	cx, cy := vp.Center()
	seeded := make(map[string]graph.Position)

	// Self first, so its neighbours can anchor on it.
	var unplaced []string
	for _, n := range snap.Nodes {
		if _, ok := placed[n.ID]; !ok {
			unplaced = append(unplaced, n.ID)
		}
	}
	sort.SliceStable(unplaced, func(i, j int) bool {
		if (unplaced[i] == graph.SelfID) != (unplaced[j] == graph.SelfID) {
			return unplaced[i] == graph.SelfID
		}
		return unplaced[i] < unplaced[j]
	})

	// Place nodes breadth-first outward from positioned ones. When nothing
	// is reachable, the first remaining node starts at the centre.
	for len(unplaced) > 0 {
		progress := false
		rest := unplaced[:0]
		for _, id := range unplaced {
			anchor, ok := pickAnchor(neighbours[id], placed)
			if !ok {
				rest = append(rest, id)
				continue
			}
			angle := angleFor(id)
			pos := graph.Position{
				X:   anchor.X + SeedRadius*math.Cos(angle),
				Y:   anchor.Y + SeedRadius*math.Sin(angle),
				Set: true,
			}
			placed[id] = pos
			seeded[id] = pos
			progress = true
		}
		unplaced = rest
		if !progress && len(unplaced) > 0 {
			id := unplaced[0]
			pos := graph.Position{X: cx, Y: cy, Set: true}
			placed[id] = pos
			seeded[id] = pos
			unplaced = unplaced[1:]
		}
	}
	return seeded
}

func pickAnchor(ids []string, placed map[string]graph.Position) (graph.Position, bool) {
	if pos, ok := placed[graph.SelfID]; ok {
		for _, id := range ids {
			if id == graph.SelfID {
				return pos, true
			}
		}
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if pos, ok := placed[id]; ok {
			return pos, true
		}
	}
	return graph.Position{}, false
}

// angleFor spreads siblings around their anchor deterministically.
func angleFor(id string) float64 {
	return float64(xxhash.Sum64String(id)%360) * math.Pi / 180
}

// Tracker detects changes that require the simulator to be reseeded: a
// different node set, link set or viewport.
type Tracker struct {
	last string
}

// Changed reports whether snap or vp differ from the previous call.
func (t *Tracker) Changed(snap graph.Snapshot, vp Viewport) bool {
	sig := signature(snap, vp)
	if sig == t.last {
		return false
	}
	t.last = sig
	return true
}

func signature(snap graph.Snapshot, vp Viewport) string {
	ids := make([]string, 0, len(snap.Nodes)+len(snap.Links))
	for _, n := range snap.Nodes {
		ids = append(ids, "n:"+n.ID)
	}
	for _, l := range snap.Links {
		ids = append(ids, "l:"+l.Key)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%gx%g;%s", vp.Width, vp.Height, strings.Join(ids, ","))
}

// Driver connects a Simulator to the graph: it seeds new nodes, reseeds the
// simulator when the graph shape or viewport changes, and steps it.
type Driver struct {
	sim      Simulator
	viewport Viewport
	tracker  Tracker
}

// NewDriver creates a driver for sim.
func NewDriver(sim Simulator, vp Viewport) *Driver {
	return &Driver{sim: sim, viewport: vp}
}

// SetViewport changes the drawing area; the next Step reseeds.
func (d *Driver) SetViewport(vp Viewport) {
	d.viewport = vp
}

// Step returns the positions to write back for this tick.
func (d *Driver) Step(snap graph.Snapshot) map[string]graph.Position {
	seeded := SeedPositions(snap, d.viewport)
	for i, n := range snap.Nodes {
		if pos, ok := seeded[n.ID]; ok {
			snap.Nodes[i].Position = pos
		}
	}

	if d.tracker.Changed(snap, d.viewport) {
		d.sim.Reseed(snap, d.viewport)
	}

	out := d.sim.Step()
	if out == nil {
		out = make(map[string]graph.Position, len(seeded))
	}
	for id, pos := range seeded {
		if _, ok := out[id]; !ok {
			out[id] = pos
		}
	}
	return out
}
