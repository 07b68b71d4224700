package relcache

import (
	"context"
	"testing"

	"github.com/relmeta/relmeta/internal/catalog"
	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/internal/logging"
	"github.com/relmeta/relmeta/internal/typereg"
	"github.com/relmeta/relmeta/pkg/types"
)

// fakeCatalog is an in-memory catalog.Catalog for exercising the caches
// without SQLite.
type fakeCatalog struct {
	columns     map[types.RelationID][]expr.Column
	configs     map[types.RelationID]*catalog.PartitioningConfig
	children    map[types.RelationID][]catalog.ChildRecord
	parents     map[types.RelationID]catalog.ParentRecord
	cookedSaves int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		columns:  make(map[types.RelationID][]expr.Column),
		configs:  make(map[types.RelationID]*catalog.PartitioningConfig),
		children: make(map[types.RelationID][]catalog.ChildRecord),
		parents:  make(map[types.RelationID]catalog.ParentRecord),
	}
}

func (f *fakeCatalog) ColumnsOf(_ context.Context, relid types.RelationID) ([]expr.Column, error) {
	cols, ok := f.columns[relid]
	if !ok {
		return nil, errors.NewCatalogError(errors.CodeRelationGone, "no such relation", nil)
	}
	return cols, nil
}

func (f *fakeCatalog) RelationExists(_ context.Context, relid types.RelationID) (bool, error) {
	_, ok := f.columns[relid]
	return ok, nil
}

func (f *fakeCatalog) PartitioningConfig(_ context.Context, relid types.RelationID) (*catalog.PartitioningConfig, error) {
	cfg, ok := f.configs[relid]
	if !ok {
		return nil, errors.NewNotFoundError("not partitioned")
	}
	cp := *cfg
	return &cp, nil
}

func (f *fakeCatalog) Children(_ context.Context, parent types.RelationID) ([]catalog.ChildRecord, error) {
	return f.children[parent], nil
}

func (f *fakeCatalog) ParentOf(_ context.Context, child types.RelationID) (catalog.ParentRecord, error) {
	rec, ok := f.parents[child]
	if !ok {
		return catalog.ParentRecord{}, errors.NewNotFoundError("not a partition")
	}
	return rec, nil
}

func (f *fakeCatalog) StoreCookedExpr(_ context.Context, relid types.RelationID, cooked []byte) error {
	cfg, ok := f.configs[relid]
	if !ok {
		return errors.NewNotFoundError("not partitioned")
	}
	cfg.CookedExpr = cooked
	f.cookedSaves++
	return nil
}

func (f *fakeCatalog) Close() error { return nil }

// addRelation registers a relation with an int64 "id" key column.
func (f *fakeCatalog) addRelation(relid types.RelationID, keyType types.TypeID) {
	f.columns[relid] = []expr.Column{
		{Name: "id", Pos: 1, Type: keyType, NotNull: true},
	}
}

func (f *fakeCatalog) configureRange(relid types.RelationID, source string) {
	f.configs[relid] = &catalog.PartitioningConfig{
		Relid: relid,
		Kind:  types.KindRange,
		Expr:  source,
	}
}

func (f *fakeCatalog) configureHash(relid types.RelationID, source string) {
	f.configs[relid] = &catalog.PartitioningConfig{
		Relid: relid,
		Kind:  types.KindHash,
		Expr:  source,
	}
}

func (f *fakeCatalog) addRangeChild(parent, child types.RelationID, min, max types.Bound, valueType types.TypeID) {
	minSpec := mustEncodeBound(min, valueType)
	maxSpec := mustEncodeBound(max, valueType)
	f.children[parent] = append(f.children[parent], catalog.ChildRecord{
		Relid:        child,
		RangeMinSpec: &minSpec,
		RangeMaxSpec: &maxSpec,
	})
	f.parents[child] = catalog.ParentRecord{Parent: parent}
	f.columns[child] = f.columns[parent]
}

func (f *fakeCatalog) addHashChild(parent, child types.RelationID, slot int) {
	f.children[parent] = append(f.children[parent], catalog.ChildRecord{
		Relid:     child,
		HashIndex: &slot,
	})
	f.parents[child] = catalog.ParentRecord{Parent: parent}
	f.columns[child] = f.columns[parent]
}

func mustEncodeBound(b types.Bound, t types.TypeID) string {
	spec, err := catalog.EncodeBound(b, t)
	if err != nil {
		panic(err)
	}
	return spec
}

func newTestStore(cat catalog.Catalog) *Store {
	return NewStore(cat, expr.NewCooker(cat), typereg.NewRegistry(), true, logging.Nop())
}

// twoRangeSetup is the canonical fixture: parent 1 split into child 10
// covering [-inf, 10) and child 11 covering [10, +inf).
func twoRangeSetup() *fakeCatalog {
	fc := newFakeCatalog()
	fc.addRelation(1, types.TypeInt64)
	fc.configureRange(1, "id")
	fc.addRangeChild(1, 10, types.MakeBoundInf(types.SignMinusInfinity), types.MakeBound(int64(10)), types.TypeInt64)
	fc.addRangeChild(1, 11, types.MakeBound(int64(10)), types.MakeBoundInf(types.SignPlusInfinity), types.TypeInt64)
	return fc
}

func intBound(v int64) types.Bound { return types.MakeBound(v) }

func boundEquals(t *testing.T, b types.Bound, want int64) {
	t.Helper()
	v, err := b.Value()
	if err != nil {
		t.Fatalf("bound %s has no value: %v", b, err)
	}
	if v.(int64) != want {
		t.Errorf("bound = %v, want %d", v, want)
	}
}
