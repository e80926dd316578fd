package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/registry"
	"github.com/rmax-ai/meshflow/pkg/store"
)

var relay = registry.Contact{PublicKey: "11aa11aa11aa11aa", Name: "Relay One", Role: packet.RoleRepeater}

func TestOpenRegistrySource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "contacts.yaml")
	if err := registry.WriteYAML(yamlPath, []registry.Contact{relay}); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}

	dbPath := filepath.Join(dir, "contacts.db")
	st, err := store.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := st.UpsertContact(ctx, relay); err != nil {
		t.Fatalf("UpsertContact failed: %v", err)
	}
	st.Close()

	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"yaml", Config{RegistryKind: RegistryYAML, RegistryTarget: yamlPath}, 1},
		{"sqlite", Config{RegistryKind: RegistrySQLite, RegistryTarget: dbPath}, 1},
		{"redis", Config{RegistryKind: RegistryRedis, RegistryTarget: "redis://" + mr.Addr(), RedisPrefix: "test"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, closeSrc, err := openRegistrySource(tt.cfg)
			if err != nil {
				t.Fatalf("openRegistrySource failed: %v", err)
			}
			defer closeSrc()

			reg, err := registry.Snapshot(ctx, src)
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			if reg.Len() != tt.want {
				t.Errorf("expected %d contacts, got %d", tt.want, reg.Len())
			}
		})
	}

	src, _, err := openRegistrySource(Config{RegistryKind: RegistryNone})
	if err != nil || src != nil {
		t.Errorf("expected no source, got %v %v", src, err)
	}

	_, _, err = openRegistrySource(Config{RegistryKind: "ldap"})
	if !errors.Is(err, registry.ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "engine.yaml")
	doc := "show_ambiguous_repeaters: false\nshow_ambiguous_endpoints: true\nwindow: 1s\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	yamlPath := filepath.Join(dir, "contacts.yaml")
	if err := registry.WriteYAML(yamlPath, []registry.Contact{relay}); err != nil {
		t.Fatalf("WriteYAML failed: %v", err)
	}

	e, err := engine.New(engine.DefaultConfig(), registry.Empty(), engine.SelfInfo{PublicKey: "ff00ff00ff00ff00"})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	runner := engine.NewRunner(e, 0)
	logger := log.WithField("component", "test")

	runner.Ingest(&packet.Packet{ID: "rx-1", PayloadType: packet.PayloadAck, Path: []string{"11"}})
	if n := runner.Snapshot().Nodes; len(n) != 2 {
		t.Fatalf("expected self and an unresolved hop, got %+v", n)
	}

	reload(context.Background(), Config{EngineConfig: cfgPath}, registry.NewFile(yamlPath), runner, logger)

	want := engine.Policy{ShowAmbiguousRepeaters: false, ShowAmbiguousEndpoints: true}
	if got := runner.Policy(); got != want {
		t.Errorf("expected policy %+v, got %+v", want, got)
	}

	runner.Ingest(&packet.Packet{ID: "rx-2", PayloadType: packet.PayloadAck, Path: []string{"11"}})
	found := false
	for _, n := range runner.Snapshot().Nodes {
		if n.ID == "11aa11aa11aa" {
			found = true
		}
	}
	if !found {
		t.Error("expected the refreshed registry to resolve the relay")
	}
}
