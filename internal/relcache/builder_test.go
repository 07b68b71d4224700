package relcache

import (
	"context"
	"testing"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

func TestBuildRejectsOverlappingRanges(t *testing.T) {
	fc := twoRangeSetup()
	store := newTestStore(fc)
	ctx := context.Background()

	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	// A third partition [10, 20) overlaps the existing [10, +inf).
	fc.addRangeChild(1, 12, intBound(10), intBound(20), types.TypeInt64)

	err = store.Refresh(ctx, 1, types.KindRange, "id", false)
	if errors.GetCode(err) != errors.CodeMalformedRangeSet {
		t.Fatalf("Refresh = %v, want MALFORMED_RANGE_SET", err)
	}

	// The failed rebuild must leave the prior descriptor in place.
	h2, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Release()
	if !h2.Descriptor().Fresh() || len(h2.Descriptor().Children()) != 2 {
		t.Errorf("prior descriptor damaged: fresh=%v children=%v",
			h2.Descriptor().Fresh(), h2.Descriptor().Children())
	}
	if live := store.Tracker().Live(); live != 0 {
		t.Errorf("failed build leaked %d bound payloads", live)
	}
}

func TestBuildRejectsDuplicateMin(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(1, types.TypeInt64)
	fc.configureRange(1, "id")
	fc.addRangeChild(1, 10, intBound(0), intBound(10), types.TypeInt64)
	fc.addRangeChild(1, 11, intBound(0), intBound(20), types.TypeInt64)
	store := newTestStore(fc)

	err := store.Refresh(context.Background(), 1, types.KindRange, "id", false)
	if errors.GetCode(err) != errors.CodeMalformedRangeSet {
		t.Errorf("Refresh = %v, want MALFORMED_RANGE_SET", err)
	}
}

func TestBuildRejectsEmptyRange(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(1, types.TypeInt64)
	fc.configureRange(1, "id")
	fc.addRangeChild(1, 10, intBound(10), intBound(10), types.TypeInt64)
	store := newTestStore(fc)

	err := store.Refresh(context.Background(), 1, types.KindRange, "id", false)
	if errors.GetCode(err) != errors.CodeMalformedRangeSet {
		t.Errorf("Refresh = %v, want MALFORMED_RANGE_SET", err)
	}
}

func TestBuildSortsCatalogOrder(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(1, types.TypeInt64)
	fc.configureRange(1, "id")
	// Deliberately out of order.
	fc.addRangeChild(1, 12, intBound(20), types.MakeBoundInf(types.SignPlusInfinity), types.TypeInt64)
	fc.addRangeChild(1, 10, types.MakeBoundInf(types.SignMinusInfinity), intBound(10), types.TypeInt64)
	fc.addRangeChild(1, 11, intBound(10), intBound(20), types.TypeInt64)
	store := newTestStore(fc)

	h, err := store.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	children := h.Descriptor().Children()
	if len(children) != 3 || children[0] != 10 || children[1] != 11 || children[2] != 12 {
		t.Errorf("children = %v, want [10 11 12]", children)
	}

	ranges := h.Descriptor().Ranges()
	for i, r := range ranges {
		if r.Child != children[i] {
			t.Errorf("ranges[%d].Child = %s, children[%d] = %s", i, r.Child, i, children[i])
		}
	}
}

func TestBuildHashLayout(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(2, types.TypeInt64)
	fc.configureHash(2, "id")
	fc.addHashChild(2, 22, 2)
	fc.addHashChild(2, 20, 0)
	fc.addHashChild(2, 21, 1)
	store := newTestStore(fc)

	h, err := store.Get(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	d := h.Descriptor()

	if d.Kind() != types.KindHash || d.Ranges() != nil {
		t.Errorf("kind = %s, ranges = %v", d.Kind(), d.Ranges())
	}
	children := d.Children()
	if len(children) != 3 || children[0] != 20 || children[1] != 21 || children[2] != 22 {
		t.Errorf("children = %v, want slot order [20 21 22]", children)
	}
}

func TestBuildHashRejectsBrokenSlotCover(t *testing.T) {
	tests := []struct {
		name  string
		setup func(fc *fakeCatalog)
	}{
		{"duplicate slot", func(fc *fakeCatalog) {
			fc.addHashChild(2, 20, 0)
			fc.addHashChild(2, 21, 0)
		}},
		{"slot out of range", func(fc *fakeCatalog) {
			fc.addHashChild(2, 20, 0)
			fc.addHashChild(2, 21, 5)
		}},
		{"missing slot index", func(fc *fakeCatalog) {
			fc.addHashChild(2, 20, 0)
			fc.children[2] = append(fc.children[2], fc.children[2][0])
			fc.children[2][1].Relid = 21
			fc.children[2][1].HashIndex = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeCatalog()
			fc.addRelation(2, types.TypeInt64)
			fc.configureHash(2, "id")
			tt.setup(fc)
			store := newTestStore(fc)

			err := store.Refresh(context.Background(), 2, types.KindHash, "id", false)
			if errors.GetCode(err) != errors.CodeInconsistentPartitioning {
				t.Errorf("Refresh = %v, want INCONSISTENT_PARTITIONING", err)
			}
		})
	}
}

func TestBuildPendingChild(t *testing.T) {
	fc := twoRangeSetup()
	fc.addRangeChild(1, 12, intBound(10), intBound(20), types.TypeInt64)
	// Shrink the second partition so the set stays valid once 12 lands,
	// and mark 12 as mid-attach.
	minSpec := mustEncodeBound(intBound(20), types.TypeInt64)
	fc.children[1][1].RangeMinSpec = &minSpec
	fc.children[1][2].Pending = true
	store := newTestStore(fc)
	ctx := context.Background()

	err := store.Refresh(ctx, 1, types.KindRange, "id", false)
	if errors.GetCode(err) != errors.CodeBuildAborted {
		t.Fatalf("strict Refresh = %v, want BUILD_ABORTED", err)
	}
	if store.Has(1) {
		t.Error("aborted build must not install anything")
	}

	if err := store.Refresh(ctx, 1, types.KindRange, "id", true); err != nil {
		t.Fatalf("allow-incomplete Refresh: %v", err)
	}
	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	d := h.Descriptor()
	if !d.Fresh() || !d.Incomplete() {
		t.Errorf("descriptor fresh=%v incomplete=%v, want fresh incomplete", d.Fresh(), d.Incomplete())
	}
	if len(d.Children()) != 2 {
		t.Errorf("children = %v, mid-attach partition should be skipped", d.Children())
	}
}

func TestBuildRejectsWrongKind(t *testing.T) {
	fc := twoRangeSetup()
	store := newTestStore(fc)

	err := store.Refresh(context.Background(), 1, types.KindHash, "id", false)
	if errors.GetCode(err) != errors.CodeInconsistentPartitioning {
		t.Errorf("Refresh = %v, want INCONSISTENT_PARTITIONING", err)
	}

	err = store.Refresh(context.Background(), 1, types.KindAny, "id", false)
	if errors.GetCode(err) != errors.CodeUnknownPartitioningKind {
		t.Errorf("Refresh = %v, want UNKNOWN_PARTITIONING_KIND", err)
	}
}

func TestBuildReusesStoredCookedExpression(t *testing.T) {
	fc := twoRangeSetup()
	store := newTestStore(fc)
	ctx := context.Background()

	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	if fc.cookedSaves != 1 {
		t.Fatalf("first build should cache the compiled expression, saves = %d", fc.cookedSaves)
	}

	store.Invalidate(1)
	h, err = store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	if fc.cookedSaves != 1 {
		t.Errorf("rebuild should reuse the cached compiled form, saves = %d", fc.cookedSaves)
	}

	// A changed source text invalidates the cached form.
	fc.configs[1].Expr = "id + 0"
	store.Invalidate(1)
	h, err = store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	if fc.cookedSaves != 2 {
		t.Errorf("changed source should re-plan, saves = %d", fc.cookedSaves)
	}
}
