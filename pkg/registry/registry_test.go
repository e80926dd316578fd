package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/meshflow/pkg/packet"
)

func TestMemory_ByPrefix(t *testing.T) {
	reg := NewMemory([]Contact{
		{PublicKey: "A1FF00112233", Name: "Alpha"},
		{PublicKey: "a1000000aaaa", Name: "Anchor"},
		{PublicKey: "b2c3d4e5f600", Name: "Bravo"},
		{PublicKey: "not-hex", Name: "Broken"},
	})

	assert.Equal(t, 3, reg.Len())

	matches := reg.ByPrefix("a1")
	require.Len(t, matches, 2)
	assert.Equal(t, "a1000000aaaa", matches[0].PublicKey)
	assert.Equal(t, "a1ff00112233", matches[1].PublicKey)

	assert.Len(t, reg.ByPrefix("B2"), 1)
	assert.Empty(t, reg.ByPrefix("c0"))
	assert.Empty(t, reg.ByPrefix("x"))
}

func TestMemory_ByName(t *testing.T) {
	reg := NewMemory([]Contact{
		{PublicKey: "bb00", Name: "Dup"},
		{PublicKey: "aa00", Name: "Dup"},
		{PublicKey: "cc00", Name: " Spaced "},
	})

	c, ok := reg.ByName("Dup")
	require.True(t, ok)
	assert.Equal(t, "aa00", c.PublicKey, "lowest key wins a name clash")

	_, ok = reg.ByName("Spaced")
	assert.True(t, ok)

	_, ok = reg.ByName("missing")
	assert.False(t, ok)
}

func TestFile_RoundTripThroughSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := WriteYAML(path, []Contact{
		{PublicKey: "a1b2c3d4e5f6", Name: "Alice", Role: packet.RoleClient, LastSeen: seen},
		{PublicKey: "a1ffffffffff", Name: "Relay", Role: packet.RoleRepeater},
	})
	require.NoError(t, err)

	reg, err := Snapshot(context.Background(), NewFile(path))
	require.NoError(t, err)

	alice, ok := reg.ByName("Alice")
	require.True(t, ok)
	assert.Equal(t, packet.RoleClient, alice.Role)
	assert.True(t, alice.LastSeen.Equal(seen))
	assert.Len(t, reg.ByPrefix("a1"), 2)
}

func TestFile_MissingFile(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "nope.yaml")).Contacts(context.Background())
	assert.Error(t, err)
}
