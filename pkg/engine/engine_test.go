package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, testRegistry(), testSelf, opts...)
	require.NoError(t, err)
	return e
}

func groupText(id string, hops ...string) *packet.Packet {
	return &packet.Packet{
		ID:          id,
		PayloadType: packet.PayloadGroupText,
		RouteType:   packet.RouteFlood,
		Channel:     "#x",
		Source:      packet.AddressInfo{Name: "Alice"},
		Path:        hops,
		Payload:     []byte("B"),
	}
}

func TestEngine_GroupTextAggregatesTwoRoutes(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.Equal(t, OutcomeStarted, e.Ingest(groupText("rx-1", "11"), t0))
	assert.Equal(t, OutcomeMerged, e.Ingest(groupText("rx-2", "22"), t0.Add(500*time.Millisecond)))

	assert.Empty(t, e.Advance(t0.Add(1999*time.Millisecond)))
	assert.Zero(t, e.graph.LinkCount(), "links appear only on publish")

	pubs := e.Advance(t0.Add(2 * time.Second))
	require.Len(t, pubs, 1)
	pub := pubs[0]
	assert.Equal(t, "gt:#x:Alice:"+ShortHash([]byte("B")), pub.Key)
	assert.Equal(t, ClassGroup, pub.Class)
	assert.True(t, pub.PublishedAt.Equal(t0.Add(2*time.Second)))
	require.Len(t, pub.Paths, 2)
	assert.Equal(t, []string{aliceID, relay1ID, graph.SelfID}, pub.Paths[0].Nodes)
	assert.Equal(t, []string{aliceID, relay2ID, graph.SelfID}, pub.Paths[1].Nodes)

	for _, pair := range [][2]string{
		{aliceID, relay1ID}, {relay1ID, graph.SelfID},
		{aliceID, relay2ID}, {relay2ID, graph.SelfID},
	} {
		assert.True(t, e.HasLink(pair[0], pair[1]), "missing link %v", pair)
		assert.True(t, e.HasLink(pair[1], pair[0]), "links are undirected")
	}
	assert.Len(t, e.Snapshot().Links, 4)
	for _, l := range e.Snapshot().Links {
		assert.True(t, l.LastActivity.Equal(pub.PublishedAt))
	}

	assert.Equal(t, 4, pub.Traversals)
	assert.Equal(t, 4, e.ActiveTraversals())
	visible := e.Flows(nil)
	require.Len(t, visible, 2, "both chains start in the same tick")
	assert.Equal(t, aliceID, visible[0].Source)
	assert.Equal(t, aliceID, visible[1].Source)
	assert.Equal(t, pub.ID, visible[0].Publication)

	assert.Empty(t, e.Advance(t0.Add(time.Hour)), "published only once")
}

func TestEngine_AdvertReceivedTwiceViaThreeHops(t *testing.T) {
	e := newTestEngine(t, nil)
	advert := func(id string, hops ...string) *packet.Packet {
		return &packet.Packet{
			ID:          id,
			PayloadType: packet.PayloadAdvert,
			Source:      packet.AddressInfo{PublicKey: "c3c3c3c3c3c3c3c3", Name: "Xavier", Role: packet.RoleClient},
			Path:        hops,
		}
	}

	e.Ingest(advert("rx-1", "11", "22", "33"), t0)
	e.Ingest(advert("rx-2", "33", "22", "11"), t0.Add(time.Second))

	pubs := e.Advance(t0.Add(2 * time.Second))
	require.Len(t, pubs, 1)
	require.Len(t, pubs[0].Paths, 2)
	for _, p := range pubs[0].Paths {
		assert.Len(t, p.Nodes, 5)
		assert.Equal(t, xavierID, p.Nodes[0])
		assert.Equal(t, graph.SelfID, p.Nodes[4])
	}
	assert.Equal(t, 8, pubs[0].Traversals)
}

func TestEngine_DuplicateIDsAreIgnored(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.Equal(t, OutcomeStarted, e.Ingest(groupText("rx-1", "11"), t0))
	assert.Equal(t, OutcomeDuplicate, e.Ingest(groupText("rx-1", "22"), t0.Add(time.Millisecond)))

	pubs := e.Advance(t0.Add(2 * time.Second))
	require.Len(t, pubs, 1)
	assert.Len(t, pubs[0].Paths, 1)

	e.Reset()
	assert.Equal(t, OutcomeDuplicate, e.Ingest(groupText("rx-1", "11"), t0.Add(3*time.Second)),
		"processed ids survive a reset")
}

func TestEngine_LateSightingStartsFreshEntry(t *testing.T) {
	e := newTestEngine(t, nil)

	e.Ingest(groupText("rx-1", "11"), t0)
	outcome := e.Ingest(groupText("rx-2", "22"), t0.Add(2*time.Second))
	assert.Equal(t, OutcomeStarted, outcome, "an entry due at ingest time is published first")

	pubs := e.Advance(t0.Add(2 * time.Second))
	require.Len(t, pubs, 1)
	assert.Len(t, pubs[0].Paths, 1)

	pubs = e.Advance(t0.Add(4 * time.Second))
	require.Len(t, pubs, 1)
	assert.Equal(t, []string{aliceID, relay2ID, graph.SelfID}, pubs[0].Paths[0].Nodes)
}

func TestEngine_NodesAppearBeforePublish(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Ingest(groupText("rx-1", "11"), t0)

	for _, id := range []string{graph.SelfID, aliceID, relay1ID} {
		_, ok := e.Node(id)
		assert.True(t, ok, "node %s", id)
	}
	r1, _ := e.Node(relay1ID)
	assert.Equal(t, graph.ClassRepeater, r1.Class)
	assert.Equal(t, "Relay One", r1.Name)

	self, _ := e.Node(graph.SelfID)
	assert.Equal(t, graph.ClassSelf, self.Class)
	assert.Equal(t, "Base", self.Name)
}

func TestEngine_NoPathAndNil(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.Equal(t, OutcomeSkipped, e.Ingest(nil, t0))
	assert.Equal(t, OutcomeNoPath, e.Ingest(&packet.Packet{ID: "ack", PayloadType: packet.PayloadAck}, t0))
	assert.Empty(t, e.Pending())
}

func TestEngine_SelfSubstitutionUnderCollisions(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.ShowAmbiguousEndpoints = true
		c.ShowAmbiguousRepeaters = true
	})

	dm := &packet.Packet{
		ID:          "rx-dm",
		PayloadType: packet.PayloadTextMessage,
		Source:      packet.AddressInfo{Prefix: "a1"},
		Destination: packet.AddressInfo{Prefix: "ff"},
		Path:        []string{"22", "ff"},
		Payload:     []byte("hi"),
	}
	require.Equal(t, OutcomeStarted, e.Ingest(dm, t0))

	pubs := e.Advance(t0.Add(2 * time.Second))
	require.Len(t, pubs, 1)
	assert.Equal(t, []string{aliceID, relay2ID, graph.SelfID}, pubs[0].Paths[0].Nodes)
	assert.Empty(t, pubs[0].Paths[0].Destination)

	_, ok := e.Node("?ff")
	assert.False(t, ok, "our own prefix never becomes an ambiguous node")
}

func TestEngine_OverflowEvictsOldest(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MaxPending = 4 })

	for i := 0; i < 5; i++ {
		pkt := groupText(fmt.Sprintf("rx-%d", i), "11")
		pkt.Payload = []byte(fmt.Sprintf("msg-%d", i))
		assert.Equal(t, OutcomeStarted, e.Ingest(pkt, t0.Add(time.Duration(i)*time.Millisecond)))
		assert.LessOrEqual(t, len(e.Pending()), 4)
	}
	assert.Len(t, e.Pending(), 3)
	assert.Equal(t, 3, e.ScheduledDeadlines())

	pubs := e.Advance(t0.Add(time.Hour))
	require.Len(t, pubs, 3)
	for i, p := range pubs {
		assert.Equal(t, "gt:#x:Alice:"+ShortHash([]byte(fmt.Sprintf("msg-%d", i+2))), p.Key)
	}
}

func TestEngine_PolicyChangeResets(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Ingest(groupText("rx-1", "11"), t0)
	e.Advance(t0.Add(2 * time.Second))
	e.Ingest(groupText("rx-2", "22"), t0.Add(3*time.Second))
	require.NotEmpty(t, e.Snapshot().Links)
	require.Len(t, e.Pending(), 1)

	assert.False(t, e.SetPolicy(e.Policy()), "same policy is a no-op")
	assert.NotEmpty(t, e.Snapshot().Links)

	changed := e.SetPolicy(Policy{ShowAmbiguousRepeaters: false, ShowAmbiguousEndpoints: true})
	require.True(t, changed)

	snap := e.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, graph.SelfID, snap.Nodes[0].ID)
	assert.Empty(t, snap.Links)
	assert.Empty(t, e.Pending())
	assert.Zero(t, e.ScheduledDeadlines(), "pending deadlines are cancelled")
	assert.Zero(t, e.ActiveTraversals())
	assert.Empty(t, e.Advance(t0.Add(time.Hour)), "cancelled entries never publish")
}

func TestEngine_AmbiguousRepeaterPolicy(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Ingest(groupText("rx-1", "44"), t0)

	amb, ok := e.Node("?44")
	require.True(t, ok)
	assert.True(t, amb.Ambiguous)
	assert.Equal(t, []string{"Hill", "Valley"}, amb.Candidates)

	e.SetPolicy(Policy{})
	e.Ingest(groupText("rx-2", "44"), t0.Add(time.Second))
	_, ok = e.Node("?44")
	assert.False(t, ok)

	pubs := e.Advance(t0.Add(time.Hour))
	require.Len(t, pubs, 1)
	assert.Equal(t, []string{aliceID, graph.SelfID}, pubs[0].Paths[0].Nodes)
}

func TestEngine_LinkCap(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.MaxLinks = 3 })

	e.Ingest(groupText("rx-1", "11"), t0)
	e.Advance(t0.Add(2 * time.Second))

	late := groupText("rx-2", "22")
	late.Payload = []byte("later")
	e.Ingest(late, t0.Add(3*time.Second))
	e.Advance(t0.Add(5 * time.Second))

	links := e.Snapshot().Links
	require.Len(t, links, 3)
	assert.True(t, e.HasLink(aliceID, relay2ID))
	assert.True(t, e.HasLink(relay2ID, graph.SelfID))
}

func TestEngine_Dispose(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Ingest(groupText("rx-1", "11"), t0)

	e.Dispose()
	assert.True(t, e.Disposed())
	assert.Equal(t, OutcomeDisposed, e.Ingest(groupText("rx-2", "11"), t0))
	assert.Empty(t, e.Advance(t0.Add(time.Hour)))
	assert.False(t, e.SetPolicy(Policy{}))
	e.Tick()
	e.Reset()
	e.Dispose()
}

func TestEngine_InstancesAreIndependent(t *testing.T) {
	a := newTestEngine(t, nil)
	b := newTestEngine(t, nil)

	a.Ingest(groupText("rx-1", "11"), t0)
	assert.Equal(t, OutcomeStarted, b.Ingest(groupText("rx-1", "11"), t0))

	a.Reset()
	assert.Len(t, b.Pending(), 1)
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window = 0
	_, err := New(cfg, nil, testSelf)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, nil, WithMetrics(NewMetrics(reg)))

	e.Ingest(groupText("rx-1", "11"), t0)
	e.Ingest(groupText("rx-1", "11"), t0)
	e.Advance(t0.Add(2 * time.Second))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "/" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[name] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["meshflow_packets_total/started"])
	assert.Equal(t, 1.0, values["meshflow_packets_total/duplicate"])
	assert.Equal(t, 1.0, values["meshflow_publications_total/group"])
	assert.Equal(t, 2.0, values["meshflow_traversals_total"])
	assert.Equal(t, 2.0, values["meshflow_links"])
	assert.Equal(t, 3.0, values["meshflow_nodes"])
	assert.Equal(t, 0.0, values["meshflow_pending_entries"])
}
