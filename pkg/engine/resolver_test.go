package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

var (
	t0       = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	hillSeen = t0.Add(-2 * time.Hour)
	valeSeen = t0.Add(-1 * time.Hour)
	testSelf = SelfInfo{PublicKey: "ff00ff00ff00ff00", Name: "Base"}
)

const (
	aliceID  = "a1b2c3d4e5f6"
	relay1ID = "11aa11aa11aa"
	relay2ID = "22bb22bb22bb"
	relay3ID = "33cc33cc33cc"
	xavierID = "c3c3c3c3c3c3"
)

func testRegistry() *registry.Memory {
	return registry.NewMemory([]registry.Contact{
		{PublicKey: "a1b2c3d4e5f60708", Name: "Alice", Role: packet.RoleClient},
		{PublicKey: "11aa11aa11aa11aa", Name: "Relay One", Role: packet.RoleRepeater},
		{PublicKey: "22bb22bb22bb22bb", Name: "Relay Two", Role: packet.RoleRepeater},
		{PublicKey: "33cc33cc33cc33cc", Name: "Relay Three", Role: packet.RoleRepeater},
		{PublicKey: "44dd000000000001", Name: "Hill", Role: packet.RoleRepeater, LastSeen: hillSeen},
		{PublicKey: "44ee000000000002", Name: "Valley", Role: packet.RoleRepeater, LastSeen: valeSeen},
		{PublicKey: "ff11000000000001", Name: "Imposter A"},
		{PublicKey: "ff22000000000002", Name: "Imposter B"},
		{PublicKey: "c3c3c3c3c3c3c3c3", Name: "Xavier", Role: packet.RoleClient},
	})
}

func TestResolver_FullKey(t *testing.T) {
	r := NewResolver(testRegistry(), testSelf)

	res, ok := r.Resolve(FullKey("A1B2C3D4E5F60708"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, aliceID, res.ID)
	assert.Equal(t, "Alice", res.Name)
	assert.Equal(t, graph.ClassClient, res.Class)

	res, ok = r.Resolve(FullKey("0123456789abcdef"), packet.RoleRepeater, false)
	require.True(t, ok, "unknown full key is still exact")
	assert.Equal(t, "0123456789ab", res.ID)
	assert.Empty(t, res.Name)
	assert.Equal(t, graph.ClassRepeater, res.Class)

	res, ok = r.Resolve(FullKey(testSelf.PublicKey), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, graph.SelfID, res.ID)

	_, ok = r.Resolve(FullKey("zz"), packet.RoleClient, true)
	assert.False(t, ok)
}

func TestResolver_Name(t *testing.T) {
	r := NewResolver(testRegistry(), testSelf)

	res, ok := r.Resolve(Name("Alice"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, aliceID, res.ID)

	res, ok = r.Resolve(Name("Stranger"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, "name:Stranger", res.ID)
	assert.Equal(t, "Stranger", res.Name)

	_, ok = r.Resolve(Name("  "), packet.RoleClient, true)
	assert.False(t, ok)
}

func TestResolver_Prefix(t *testing.T) {
	r := NewResolver(testRegistry(), testSelf)

	tests := []struct {
		name           string
		prefix         string
		allowAmbiguous bool
		wantOK         bool
		wantID         string
		wantAmbiguous  bool
	}{
		{"unique match is exact", "11", false, true, relay1ID, false},
		{"collision hidden", "44", false, false, "", false},
		{"collision shown", "44", true, true, "?44", true},
		{"unknown hidden", "99", false, false, "", false},
		{"unknown shown as placeholder", "99", true, true, "?99", true},
		{"own prefix is self despite collisions", "ff", false, true, graph.SelfID, false},
		{"own prefix is self when ambiguous allowed", "FF", true, true, graph.SelfID, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := r.Resolve(Prefix(tt.prefix), packet.RoleRepeater, tt.allowAmbiguous)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if res.ID != tt.wantID {
				t.Errorf("expected id %q, got %q", tt.wantID, res.ID)
			}
			if res.Ambiguous != tt.wantAmbiguous {
				t.Errorf("expected ambiguous=%v, got %v", tt.wantAmbiguous, res.Ambiguous)
			}
		})
	}
}

func TestResolver_AmbiguousMetadata(t *testing.T) {
	r := NewResolver(testRegistry(), testSelf)

	res, ok := r.Resolve(Prefix("44"), packet.RoleRepeater, true)
	require.True(t, ok)
	assert.Equal(t, []string{"Hill", "Valley"}, res.Candidates)
	assert.True(t, res.LastObserved.Equal(valeSeen), "most recent observed time across matches")
	assert.Equal(t, graph.ClassRepeater, res.Class)
}

func TestResolver_Deterministic(t *testing.T) {
	reg := testRegistry()
	fragments := []Fragment{Prefix("44"), Prefix("11"), Prefix("99"), Name("Alice"), Name("Nobody"), FullKey("c3c3c3c3c3c3c3c3")}

	first := make([]Resolution, len(fragments))
	r := NewResolver(reg, testSelf)
	for i, f := range fragments {
		first[i], _ = r.Resolve(f, packet.RoleRepeater, true)
	}

	for round := 0; round < 5; round++ {
		// A fresh resolver over the same snapshot must agree too.
		r2 := NewResolver(reg, testSelf)
		for i, f := range fragments {
			got, _ := r2.Resolve(f, packet.RoleRepeater, true)
			assert.Equal(t, first[i], got, "fragment %+v", f)
		}
	}
}

func TestResolver_NilRegistry(t *testing.T) {
	r := NewResolver(nil, SelfInfo{})

	res, ok := r.Resolve(Prefix("ab"), packet.RoleRepeater, true)
	require.True(t, ok)
	assert.Equal(t, "?ab", res.ID)
	assert.Empty(t, res.Candidates)
}

func TestResolver_ShortSelfKey(t *testing.T) {
	reg := registry.NewMemory([]registry.Contact{
		{PublicKey: "ff0011223344556677", Name: "Neighbour", Role: packet.RoleClient},
	})
	r := NewResolver(reg, SelfInfo{PublicKey: "ff"})

	res, ok := r.Resolve(FullKey("ff0011223344556677"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, "ff0011223344", res.ID, "a foreign key sharing our prefix is not self")
	assert.Equal(t, "Neighbour", res.Name)

	res, ok = r.Resolve(Name("Neighbour"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, "ff0011223344", res.ID)

	res, ok = r.Resolve(Prefix("ff"), packet.RoleRepeater, false)
	require.True(t, ok)
	assert.Equal(t, graph.SelfID, res.ID, "hop prefixes still match the short key")
}

func TestResolver_FullKeyMatchesSelfByCanonicalID(t *testing.T) {
	r := NewResolver(testRegistry(), testSelf)

	res, ok := r.Resolve(FullKey("ff00ff00ff00ffee"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, graph.SelfID, res.ID)

	res, ok = r.Resolve(FullKey("ff00ff00ff01ffee"), packet.RoleClient, false)
	require.True(t, ok)
	assert.Equal(t, "ff00ff00ff01", res.ID)
}
