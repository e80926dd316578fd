package graph

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestGraph_UpsertLinkIsUndirected(t *testing.T) {
	g := New(10, "")
	g.UpsertNode(NodeUpdate{ID: "a"}, t0)
	g.UpsertNode(NodeUpdate{ID: "b"}, t0)

	k1, ok := g.UpsertLink("a", "b", t0)
	if !ok {
		t.Fatal("Expected link a-b to be accepted")
	}
	k2, ok := g.UpsertLink("b", "a", t0.Add(time.Second))
	if !ok {
		t.Fatal("Expected link b-a to be accepted")
	}

	if k1 != k2 {
		t.Errorf("Expected identical keys, got %q and %q", k1, k2)
	}
	if g.LinkCount() != 1 {
		t.Fatalf("Expected 1 link, got %d", g.LinkCount())
	}
	l := g.Links()[0]
	if l.A != "a" || l.B != "b" {
		t.Errorf("Expected sorted endpoints a,b; got %s,%s", l.A, l.B)
	}
	if !l.LastActivity.Equal(t0.Add(time.Second)) {
		t.Errorf("Expected refreshed activity, got %v", l.LastActivity)
	}
}

func TestGraph_UpsertLinkRejectsInvalid(t *testing.T) {
	g := New(10, "")
	g.UpsertNode(NodeUpdate{ID: "a"}, t0)

	if _, ok := g.UpsertLink("a", "a", t0); ok {
		t.Error("Self-loop must be rejected")
	}
	if _, ok := g.UpsertLink("a", "ghost", t0); ok {
		t.Error("Link to unknown node must be rejected")
	}
	if g.LinkCount() != 0 {
		t.Errorf("Expected no links, got %d", g.LinkCount())
	}
}

func TestGraph_UpsertNodeNeverForgets(t *testing.T) {
	g := New(10, "")
	seen := t0.Add(-time.Hour)

	g.UpsertNode(NodeUpdate{ID: "n1", Class: ClassRepeater, Name: "Relay", LastObserved: seen}, t0)
	g.UpsertNode(NodeUpdate{ID: "n1", Class: ClassClient}, t0.Add(time.Minute))

	n, ok := g.Node("n1")
	if !ok {
		t.Fatal("Expected node n1")
	}
	if n.Name != "Relay" {
		t.Errorf("Known name overwritten: %q", n.Name)
	}
	if n.Class != ClassRepeater {
		t.Errorf("Repeater class downgraded to %s", n.Class)
	}
	if !n.LastObserved.Equal(seen) {
		t.Errorf("Observed time lost: %v", n.LastObserved)
	}
	if !n.LastActivity.Equal(t0.Add(time.Minute)) {
		t.Errorf("Activity not refreshed: %v", n.LastActivity)
	}
}

func TestGraph_AmbiguousCandidatesOnlyGrow(t *testing.T) {
	g := New(10, "")
	g.UpsertNode(NodeUpdate{ID: "?a1", Class: ClassRepeater, Ambiguous: true, Candidates: []string{"Bravo", "Alpha"}}, t0)
	g.UpsertNode(NodeUpdate{ID: "?a1", Class: ClassRepeater, Ambiguous: true, Candidates: []string{"Charlie"}}, t0)
	g.UpsertNode(NodeUpdate{ID: "?a1", Class: ClassRepeater}, t0)

	n, _ := g.Node("?a1")
	if !n.Ambiguous {
		t.Error("Ambiguity flag cleared")
	}
	want := []string{"Alpha", "Bravo", "Charlie"}
	if fmt.Sprint(n.Candidates) != fmt.Sprint(want) {
		t.Errorf("Expected candidates %v, got %v", want, n.Candidates)
	}
}

func TestGraph_SelfIsLazyAndSurvivesReset(t *testing.T) {
	g := New(10, "Base")
	if g.NodeCount() != 0 {
		t.Fatalf("Expected empty graph, got %d nodes", g.NodeCount())
	}

	g.UpsertNode(NodeUpdate{ID: SelfID, Class: ClassClient, Name: "ignored"}, t0)
	g.UpsertNode(NodeUpdate{ID: "x"}, t0)
	g.UpsertLink(SelfID, "x", t0)

	self, ok := g.Node(SelfID)
	if !ok {
		t.Fatal("Expected self node")
	}
	if self.Class != ClassSelf || self.Name != "Base" {
		t.Errorf("Unexpected self node %+v", self)
	}

	g.Reset()
	if g.NodeCount() != 1 || g.LinkCount() != 0 {
		t.Errorf("Expected only self after reset, got %d nodes %d links", g.NodeCount(), g.LinkCount())
	}
	if _, ok := g.Node(SelfID); !ok {
		t.Error("Self removed by reset")
	}
}

func TestGraph_LinkCapEvictsLeastRecent(t *testing.T) {
	g := New(3, "")
	for i := 0; i < 5; i++ {
		g.UpsertNode(NodeUpdate{ID: fmt.Sprintf("n%d", i)}, t0)
	}
	g.UpsertNode(NodeUpdate{ID: "hub"}, t0)

	for i := 0; i < 5; i++ {
		g.UpsertLink("hub", fmt.Sprintf("n%d", i), t0.Add(time.Duration(i)*time.Second))
	}

	if g.LinkCount() != 3 {
		t.Fatalf("Expected 3 links, got %d", g.LinkCount())
	}
	links := g.Links()
	if links[0].Key != LinkKey("hub", "n4") {
		t.Errorf("Expected most recent link first, got %s", links[0].Key)
	}
	if g.HasLink("hub", "n0") || g.HasLink("hub", "n1") {
		t.Error("Oldest links should have been evicted")
	}
}

func TestGraph_ViewsAreCopies(t *testing.T) {
	g := New(10, "")
	g.UpsertNode(NodeUpdate{ID: "?b2", Ambiguous: true, Candidates: []string{"One"}}, t0)

	nodes := g.Nodes()
	nodes[0].Candidates[0] = "mutated"
	nodes[0].Name = "mutated"

	n, _ := g.Node("?b2")
	if n.Candidates[0] != "One" || n.Name != "" {
		t.Errorf("Graph mutated through a view: %+v", n)
	}
}

func TestGraph_SetPosition(t *testing.T) {
	g := New(10, "")
	g.EnsureSelf(t0)

	if !g.SetPosition(SelfID, Position{X: 1, Y: 2, Set: true}) {
		t.Fatal("Expected position to be stored")
	}
	if g.SetPosition("ghost", Position{}) {
		t.Error("Position stored for unknown node")
	}
	self, _ := g.Node(SelfID)
	if !self.Position.Set || self.Position.X != 1 {
		t.Errorf("Unexpected position %+v", self.Position)
	}
}
