package layout

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/meshflow/pkg/graph"
)

type recordingSim struct {
	reseeds int
	last    graph.Snapshot
}

func (s *recordingSim) Reseed(snap graph.Snapshot, vp Viewport) {
	s.reseeds++
	s.last = snap
}

func (s *recordingSim) Step() map[string]graph.Position {
	return nil
}

func buildGraph() *graph.Graph {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := graph.New(10, "Base")
	g.EnsureSelf(now)
	g.UpsertNode(graph.NodeUpdate{ID: "r1", Class: graph.ClassRepeater}, now)
	g.UpsertNode(graph.NodeUpdate{ID: "c1"}, now)
	g.UpsertLink(graph.SelfID, "r1", now)
	g.UpsertLink("r1", "c1", now)
	return g
}

func TestCharge_SelfIsStronger(t *testing.T) {
	self := graph.Node{ID: graph.SelfID, Class: graph.ClassSelf}
	other := graph.Node{ID: "r1", Class: graph.ClassRepeater}

	assert.Greater(t, math.Abs(Charge(self)), math.Abs(Charge(other)))
	assert.Greater(t, CenterStrength(self), CenterStrength(other))
}

func TestSeedPositions_NearNeighbour(t *testing.T) {
	g := buildGraph()
	vp := Viewport{Width: 800, Height: 600}

	seeded := SeedPositions(g.Snapshot(), vp)
	require.Len(t, seeded, 3)

	self := seeded[graph.SelfID]
	assert.Equal(t, 400.0, self.X)
	assert.Equal(t, 300.0, self.Y)

	r1 := seeded["r1"]
	assert.InDelta(t, SeedRadius, math.Hypot(r1.X-self.X, r1.Y-self.Y), 1e-9)

	c1 := seeded["c1"]
	assert.InDelta(t, SeedRadius, math.Hypot(c1.X-r1.X, c1.Y-r1.Y), 1e-9)
}

func TestSeedPositions_KeepsPlacedNodes(t *testing.T) {
	g := buildGraph()
	g.SetPosition(graph.SelfID, graph.Position{X: 10, Y: 10, Set: true})
	g.SetPosition("r1", graph.Position{X: 50, Y: 50, Set: true})

	seeded := SeedPositions(g.Snapshot(), Viewport{Width: 100, Height: 100})
	assert.Len(t, seeded, 1)
	assert.Contains(t, seeded, "c1")
}

func TestDriver_ReseedsOnShapeOrViewportChange(t *testing.T) {
	g := buildGraph()
	sim := &recordingSim{}
	d := NewDriver(sim, Viewport{Width: 100, Height: 100})

	out := d.Step(g.Snapshot())
	assert.Equal(t, 1, sim.reseeds)
	assert.Len(t, out, 3, "seeded positions are written back even if the simulator returns none")
	for _, n := range sim.last.Nodes {
		assert.True(t, n.Position.Set, "node %s reached the simulator unseeded", n.ID)
	}

	for id, pos := range out {
		g.SetPosition(id, pos)
	}
	d.Step(g.Snapshot())
	assert.Equal(t, 1, sim.reseeds, "unchanged graph must not reseed")

	d.SetViewport(Viewport{Width: 200, Height: 100})
	d.Step(g.Snapshot())
	assert.Equal(t, 2, sim.reseeds)

	g.UpsertNode(graph.NodeUpdate{ID: "c2"}, time.Now())
	d.Step(g.Snapshot())
	assert.Equal(t, 3, sim.reseeds)
}
