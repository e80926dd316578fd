package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rmax-ai/meshflow/pkg/packet"
)

// ErrUnknownSource is returned when a registry source spec cannot be parsed.
var ErrUnknownSource = errors.New("unknown registry source")

// Contact is one known identity in the mesh.
type Contact struct {
	PublicKey string      `json:"public_key" yaml:"public_key"`
	Name      string      `json:"name" yaml:"name"`
	Role      packet.Role `json:"role,omitempty" yaml:"role,omitempty"`
	LastSeen  time.Time   `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
}

// Registry answers identity lookups against one immutable snapshot.
type Registry interface {
	// ByPrefix returns every contact whose public key starts with the given
	// hex prefix, ordered by public key.
	ByPrefix(prefix string) []Contact
	// ByName returns the contact with exactly this display name.
	ByName(name string) (Contact, bool)
}

// Source produces contact lists for building snapshots.
type Source interface {
	Contacts(ctx context.Context) ([]Contact, error)
}

// Memory is an in-memory registry snapshot. It is never mutated after
// construction, so lookups against it are deterministic.
type Memory struct {
	contacts []Contact // sorted by public key
	byName   map[string]Contact
}

// NewMemory builds a snapshot from a contact list. Contacts with an invalid
// key are ignored; later duplicates of a key replace earlier ones.
func NewMemory(contacts []Contact) *Memory {
	byKey := make(map[string]Contact, len(contacts))
	for _, c := range contacts {
		key := packet.NormalizeHex(c.PublicKey)
		if key == "" {
			continue
		}
		c.PublicKey = key
		c.Name = strings.TrimSpace(c.Name)
		byKey[key] = c
	}

	m := &Memory{
		contacts: make([]Contact, 0, len(byKey)),
		byName:   make(map[string]Contact, len(byKey)),
	}
	for _, c := range byKey {
		m.contacts = append(m.contacts, c)
	}
	sort.Slice(m.contacts, func(i, j int) bool {
		return m.contacts[i].PublicKey < m.contacts[j].PublicKey
	})
	for _, c := range m.contacts {
		if c.Name == "" {
			continue
		}
		// First key in sort order wins a name clash.
		if _, exists := m.byName[c.Name]; !exists {
			m.byName[c.Name] = c
		}
	}
	return m
}

// Empty returns a snapshot with no contacts.
func Empty() *Memory {
	return NewMemory(nil)
}

func (m *Memory) ByPrefix(prefix string) []Contact {
	prefix = packet.NormalizeHex(prefix)
	if prefix == "" {
		return nil
	}
	start := sort.Search(len(m.contacts), func(i int) bool {
		return m.contacts[i].PublicKey >= prefix
	})
	var out []Contact
	for i := start; i < len(m.contacts); i++ {
		if !strings.HasPrefix(m.contacts[i].PublicKey, prefix) {
			break
		}
		out = append(out, m.contacts[i])
	}
	return out
}

func (m *Memory) ByName(name string) (Contact, bool) {
	c, ok := m.byName[strings.TrimSpace(name)]
	return c, ok
}

// Contacts returns a copy of every contact in the snapshot.
func (m *Memory) Contacts() []Contact {
	out := make([]Contact, len(m.contacts))
	copy(out, m.contacts)
	return out
}

// Len returns the number of contacts.
func (m *Memory) Len() int {
	return len(m.contacts)
}

// Snapshot loads all contacts from a source into a new Memory registry.
func Snapshot(ctx context.Context, src Source) (*Memory, error) {
	contacts, err := src.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	return NewMemory(contacts), nil
}
