package engine

import (
	"strings"
	"time"

	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
)

// canonicalIDLen is the number of hex chars of a public key used as node id.
const canonicalIDLen = 12

// FragmentKind tells the resolver how to interpret an address fragment.
type FragmentKind int

const (
	FragmentFullKey FragmentKind = iota
	FragmentName
	FragmentPrefix
)

// Fragment is a raw piece of addressing recovered from a packet.
type Fragment struct {
	Kind  FragmentKind
	Value string
}

func FullKey(key string) Fragment   { return Fragment{Kind: FragmentFullKey, Value: key} }
func Name(name string) Fragment     { return Fragment{Kind: FragmentName, Value: name} }
func Prefix(prefix string) Fragment { return Fragment{Kind: FragmentPrefix, Value: prefix} }

// SelfInfo identifies the local node.
type SelfInfo struct {
	PublicKey string `json:"public_key" yaml:"public_key"`
	Name      string `json:"name" yaml:"name"`
}

// Resolution is the outcome of resolving one fragment.
type Resolution struct {
	ID           string
	Class        graph.NodeClass
	Name         string
	Ambiguous    bool
	Candidates   []string
	LastObserved time.Time
}

// Update converts the resolution into a graph upsert.
func (r Resolution) Update() graph.NodeUpdate {
	return graph.NodeUpdate{
		ID:           r.ID,
		Class:        r.Class,
		Name:         r.Name,
		Ambiguous:    r.Ambiguous,
		Candidates:   r.Candidates,
		LastObserved: r.LastObserved,
	}
}

// Resolver maps address fragments to stable node ids against one registry
// snapshot. The result depends only on the fragment, role, ambiguity flag,
// registry snapshot and self key.
type Resolver struct {
	reg     registry.Registry
	selfKey string
}

// NewResolver creates a resolver. A nil registry behaves as an empty one.
func NewResolver(reg registry.Registry, self SelfInfo) *Resolver {
	if reg == nil {
		reg = registry.Empty()
	}
	return &Resolver{
		reg:     reg,
		selfKey: packet.NormalizeHex(self.PublicKey),
	}
}

// CanonicalID returns the node id used for a known public key.
func CanonicalID(publicKey string) string {
	key := packet.NormalizeHex(publicKey)
	if len(key) > canonicalIDLen {
		return key[:canonicalIDLen]
	}
	return key
}

// Resolve maps a fragment to a node. It returns false when the fragment
// cannot be placed under the given ambiguity policy; the caller drops it.
func (r *Resolver) Resolve(f Fragment, role packet.Role, allowAmbiguous bool) (Resolution, bool) {
	switch f.Kind {
	case FragmentFullKey:
		return r.resolveFullKey(f.Value, role)
	case FragmentName:
		return r.resolveName(f.Value, role)
	case FragmentPrefix:
		return r.resolvePrefix(f.Value, role, allowAmbiguous)
	}
	return Resolution{}, false
}

func (r *Resolver) resolveFullKey(value string, role packet.Role) (Resolution, bool) {
	key := packet.NormalizeHex(value)
	if key == "" {
		return Resolution{}, false
	}
	if r.isSelfKey(key) {
		return selfResolution(), true
	}

	res := Resolution{ID: CanonicalID(key), Class: classFor(role)}
	if matches := r.reg.ByPrefix(key); len(matches) == 1 {
		applyContact(&res, matches[0])
	}
	return res, true
}

func (r *Resolver) resolveName(value string, role packet.Role) (Resolution, bool) {
	name := strings.TrimSpace(value)
	if name == "" {
		return Resolution{}, false
	}
	if c, ok := r.reg.ByName(name); ok {
		if r.isSelfKey(c.PublicKey) {
			return selfResolution(), true
		}
		res := Resolution{ID: CanonicalID(c.PublicKey), Class: classFor(role)}
		applyContact(&res, c)
		return res, true
	}
	return Resolution{ID: "name:" + name, Class: classFor(role), Name: name}, true
}

func (r *Resolver) resolvePrefix(value string, role packet.Role, allowAmbiguous bool) (Resolution, bool) {
	prefix := packet.NormalizeHex(value)
	if prefix == "" {
		return Resolution{}, false
	}
	// The local identity is never ambiguous, whatever else shares its prefix.
	if r.isSelfPrefix(prefix) {
		return selfResolution(), true
	}

	matches := r.reg.ByPrefix(prefix)
	if len(matches) == 1 {
		res := Resolution{ID: CanonicalID(matches[0].PublicKey), Class: classFor(role)}
		applyContact(&res, matches[0])
		return res, true
	}
	if !allowAmbiguous {
		return Resolution{}, false
	}

	res := Resolution{ID: "?" + prefix, Class: classFor(role), Ambiguous: true}
	for _, c := range matches {
		if c.Name != "" {
			res.Candidates = append(res.Candidates, c.Name)
		}
		if c.LastSeen.After(res.LastObserved) {
			res.LastObserved = c.LastSeen
		}
	}
	return res, true
}

// isSelfKey matches a full key against the local key by canonical id. A
// local key shorter than a canonical id never matches.
func (r *Resolver) isSelfKey(key string) bool {
	key = packet.NormalizeHex(key)
	if len(r.selfKey) < canonicalIDLen || len(key) < canonicalIDLen {
		return false
	}
	return CanonicalID(key) == CanonicalID(r.selfKey)
}

// isSelfPrefix compares a hex prefix with the local key at the shorter length.
func (r *Resolver) isSelfPrefix(hexValue string) bool {
	hexValue = packet.NormalizeHex(hexValue)
	if r.selfKey == "" || hexValue == "" {
		return false
	}
	n := len(hexValue)
	if len(r.selfKey) < n {
		n = len(r.selfKey)
	}
	return hexValue[:n] == r.selfKey[:n]
}

func selfResolution() Resolution {
	return Resolution{ID: graph.SelfID, Class: graph.ClassSelf}
}

func applyContact(res *Resolution, c registry.Contact) {
	res.Name = c.Name
	res.LastObserved = c.LastSeen
	if c.Role == packet.RoleRepeater {
		res.Class = graph.ClassRepeater
	}
}

func classFor(role packet.Role) graph.NodeClass {
	if role == packet.RoleRepeater {
		return graph.ClassRepeater
	}
	return graph.ClassClient
}
