package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/relmeta/relmeta/internal/config"
	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.CatalogPath = filepath.Join(cfg.DataDir, "catalog.db")
	return cfg
}

func TestStartStop(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(); err == nil {
		t.Error("second Start should fail while running")
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Errorf("Stop when stopped: %v", err)
	}
}

func TestCatalogChangesReachTheStore(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	ctx := context.Background()
	parent := types.RelationID(1)
	if err := a.Catalog.CreateRelation(ctx, parent, "events", []expr.Column{
		{Name: "id", Pos: 1, Type: types.TypeInt64, NotNull: true},
	}); err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}
	if err := a.Catalog.ConfigurePartitioning(ctx, parent, types.KindHash, "id", false, types.CollationBinary, 0); err != nil {
		t.Fatalf("ConfigurePartitioning: %v", err)
	}
	for i := 0; i < 2; i++ {
		child := types.RelationID(10 + i)
		if err := a.Catalog.CreateRelation(ctx, child, "events_"+string(rune('a'+i)), []expr.Column{
			{Name: "id", Pos: 1, Type: types.TypeInt64, NotNull: true},
		}); err != nil {
			t.Fatalf("CreateRelation child: %v", err)
		}
		if err := a.Catalog.AttachHashPartition(ctx, parent, child, i, false); err != nil {
			t.Fatalf("AttachHashPartition: %v", err)
		}
	}

	h, err := a.Store.Get(ctx, parent)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := len(h.Descriptor().Children()); got != 2 {
		t.Errorf("children = %d, want 2", got)
	}
	h.Release()

	// A detach outside any transaction invalidates immediately.
	if err := a.Catalog.DetachPartition(ctx, types.RelationID(11)); err != nil {
		t.Fatalf("DetachPartition: %v", err)
	}
	if a.Store.Has(parent) {
		t.Error("descriptor should be dropped after detach")
	}
}
