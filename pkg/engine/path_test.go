package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

func newBuilder(p Policy) *PathBuilder {
	return NewPathBuilder(NewResolver(testRegistry(), testSelf), p)
}

func TestPathBuilder_Build(t *testing.T) {
	permissive := Policy{ShowAmbiguousRepeaters: true, ShowAmbiguousEndpoints: true}
	strict := Policy{}

	tests := []struct {
		name     string
		policy   Policy
		pkt      packet.Packet
		wantIDs  []string
		wantDest string
	}{
		{
			name:   "advert via three repeaters",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadAdvert,
				Source:      packet.AddressInfo{PublicKey: "c3c3c3c3c3c3c3c3", Role: packet.RoleClient},
				Path:        []string{"11", "22", "33"},
			},
			wantIDs: []string{xavierID, relay1ID, relay2ID, relay3ID, graph.SelfID},
		},
		{
			name:   "group text by sender name",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadGroupText,
				Source:      packet.AddressInfo{Name: "Alice"},
				Channel:     "#x",
				Path:        []string{"11"},
			},
			wantIDs: []string{aliceID, relay1ID, graph.SelfID},
		},
		{
			name:   "ambiguous repeater dropped under strict policy",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadGroupText,
				Source:      packet.AddressInfo{Name: "Alice"},
				Path:        []string{"11", "44", "22"},
			},
			wantIDs: []string{aliceID, relay1ID, relay2ID, graph.SelfID},
		},
		{
			name:   "ambiguous repeater kept under permissive policy",
			policy: permissive,
			pkt: packet.Packet{
				PayloadType: packet.PayloadGroupText,
				Source:      packet.AddressInfo{Name: "Alice"},
				Path:        []string{"44"},
			},
			wantIDs: []string{aliceID, "?44", graph.SelfID},
		},
		{
			name:   "direct message addressed to our prefix despite collisions",
			policy: permissive,
			pkt: packet.Packet{
				PayloadType: packet.PayloadTextMessage,
				Source:      packet.AddressInfo{Prefix: "a1"},
				Destination: packet.AddressInfo{Prefix: "ff"},
				Path:        []string{"22"},
			},
			wantIDs: []string{aliceID, relay2ID, graph.SelfID},
		},
		{
			name:   "direct message with unresolvable destination still ends at self",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadTextMessage,
				Source:      packet.AddressInfo{Prefix: "a1"},
				Destination: packet.AddressInfo{Prefix: "99"},
			},
			wantIDs: []string{aliceID, graph.SelfID},
		},
		{
			name:   "direct message to another node records the destination only",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadTextMessage,
				Source:      packet.AddressInfo{Prefix: "a1"},
				Destination: packet.AddressInfo{Prefix: "c3"},
				Path:        []string{"11"},
			},
			wantIDs:  []string{aliceID, relay1ID, graph.SelfID},
			wantDest: xavierID,
		},
		{
			name:   "consecutive duplicates collapse",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadAck,
				Path:        []string{"11", "11", "22", "ff"},
			},
			wantIDs: []string{relay1ID, relay2ID, graph.SelfID},
		},
		{
			name:   "nothing but self yields an empty path",
			policy: strict,
			pkt: packet.Packet{
				PayloadType: packet.PayloadAck,
				Path:        []string{"ff"},
			},
			wantIDs: nil,
		},
		{
			name:   "group text without sender or hops",
			policy: permissive,
			pkt: packet.Packet{
				PayloadType: packet.PayloadGroupText,
			},
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := newBuilder(tt.policy).Build(&tt.pkt)
			if tt.wantIDs == nil {
				assert.True(t, path.Empty())
				assert.Empty(t, path.Hops)
				return
			}
			assert.Equal(t, tt.wantIDs, path.IDs())
			assert.Equal(t, tt.wantDest, path.Destination)
			assert.Equal(t, graph.SelfID, path.IDs()[len(path.IDs())-1])
		})
	}
}

func TestPathBuilder_NilPacket(t *testing.T) {
	assert.True(t, newBuilder(Policy{}).Build(nil).Empty())
}
