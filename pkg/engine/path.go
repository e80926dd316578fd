package engine

import (
	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
)

// BuiltPath is the inferred route of one reception.
type BuiltPath struct {
	Hops []Resolution
	// Destination is the resolved point-to-point target when it is not the
	// local node. It is informational and never part of Hops.
	Destination string
}

// IDs returns the ordered node ids of the path.
func (p BuiltPath) IDs() []string {
	ids := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		ids[i] = h.ID
	}
	return ids
}

// Empty reports whether the reception contributes nothing.
func (p BuiltPath) Empty() bool {
	return len(p.Hops) < 2
}

// PathBuilder turns a packet into an ordered node path ending at self.
type PathBuilder struct {
	resolver *Resolver
	policy   Policy
}

// NewPathBuilder creates a builder using the given resolver and policy.
func NewPathBuilder(r *Resolver, p Policy) *PathBuilder {
	return &PathBuilder{resolver: r, policy: p}
}

// Build resolves origin, repeater hops and destination. The result is either
// empty or has at least two hops with self last.
func (b *PathBuilder) Build(pkt *packet.Packet) BuiltPath {
	if pkt == nil {
		return BuiltPath{}
	}

	var out BuiltPath
	hops := make([]Resolution, 0, len(pkt.Path)+2)

	if origin, ok := b.origin(pkt); ok {
		hops = append(hops, origin)
	}

	for _, prefix := range pkt.Path {
		hop, ok := b.resolver.Resolve(Prefix(prefix), packet.RoleRepeater, b.policy.ShowAmbiguousRepeaters)
		if !ok {
			continue
		}
		hops = append(hops, hop)
	}

	if pkt.PayloadType.IsPointToPoint() {
		if dst, ok := b.destination(pkt); ok && dst.ID != graph.SelfID {
			out.Destination = dst.ID
		}
	}

	// Receipt implies delivery to us, so every path terminates at self, even
	// when the destination could not be resolved.
	hops = append(hops, selfResolution())

	out.Hops = dedupeConsecutive(hops)
	if len(out.Hops) < 2 {
		out.Hops = nil
	}
	return out
}

func (b *PathBuilder) origin(pkt *packet.Packet) (Resolution, bool) {
	src := pkt.Source
	switch {
	case pkt.PayloadType == packet.PayloadAdvert:
		if src.PublicKey != "" {
			return b.resolver.Resolve(FullKey(src.PublicKey), src.Role, false)
		}
		if src.Prefix != "" {
			return b.resolver.Resolve(Prefix(src.Prefix), src.Role, b.policy.ShowAmbiguousEndpoints)
		}
	case pkt.PayloadType.IsGroup():
		if src.Name != "" {
			return b.resolver.Resolve(Name(src.Name), packet.RoleClient, false)
		}
	case pkt.PayloadType.IsPointToPoint():
		if prefix := endpointPrefix(src); prefix != "" {
			return b.resolver.Resolve(Prefix(prefix), packet.RoleClient, b.policy.ShowAmbiguousEndpoints)
		}
	}
	return Resolution{}, false
}

func (b *PathBuilder) destination(pkt *packet.Packet) (Resolution, bool) {
	prefix := endpointPrefix(pkt.Destination)
	if prefix == "" {
		return Resolution{}, false
	}
	return b.resolver.Resolve(Prefix(prefix), packet.RoleClient, b.policy.ShowAmbiguousEndpoints)
}

// endpointPrefix prefers the 1-byte hash and falls back to the first byte
// of a full key.
func endpointPrefix(a packet.AddressInfo) string {
	if p := packet.NormalizeHex(a.Prefix); p != "" {
		return p
	}
	if k := packet.NormalizeHex(a.PublicKey); len(k) >= 2 {
		return k[:2]
	}
	return ""
}

func dedupeConsecutive(hops []Resolution) []Resolution {
	out := hops[:0]
	for _, h := range hops {
		if len(out) > 0 && out[len(out)-1].ID == h.ID {
			continue
		}
		out = append(out, h)
	}
	return out
}

func dedupeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if len(out) > 0 && out[len(out)-1] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}
