package relcache

import (
	"context"
	"testing"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

func TestGetBuildsRangeDescriptor(t *testing.T) {
	store := newTestStore(twoRangeSetup())
	ctx := context.Background()

	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer h.Release()
	d := h.Descriptor()

	if d.Relid() != 1 || d.Kind() != types.KindRange || !d.Fresh() {
		t.Errorf("descriptor = relid %s kind %s fresh %v", d.Relid(), d.Kind(), d.Fresh())
	}
	children := d.Children()
	if len(children) != 2 || children[0] != 10 || children[1] != 11 {
		t.Fatalf("children = %v, want [10 11]", children)
	}
	ranges := d.Ranges()
	if len(ranges) != 2 {
		t.Fatalf("range count = %d", len(ranges))
	}
	if !ranges[0].Min.IsMinusInfinity() || !ranges[1].Max.IsPlusInfinity() {
		t.Errorf("outer bounds = [%s, %s]", ranges[0].Min, ranges[1].Max)
	}
	// The split point appears as both the first max and the second min.
	boundEquals(t, ranges[0].Max, 10)
	boundEquals(t, ranges[1].Min, 10)
}

func TestGetMissForNonPartitionedRelation(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(5, types.TypeInt64)
	store := newTestStore(fc)

	_, err := store.Get(context.Background(), 5)
	if !errors.IsNotFound(err) {
		t.Errorf("Get = %v, want NOT_FOUND", err)
	}
}

func TestRefcountProtocol(t *testing.T) {
	store := newTestStore(twoRangeSetup())
	ctx := context.Background()

	h1, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	d := h1.Descriptor()
	if h2.Descriptor() != d {
		t.Fatal("both handles should pin the same descriptor")
	}
	if d.Refcount() != 2 {
		t.Fatalf("refcount = %d, want 2", d.Refcount())
	}

	// Invalidation must not free a referenced entry.
	store.Invalidate(1)
	if d.Fresh() {
		t.Error("descriptor should be stale after invalidate")
	}
	if !store.Has(1) {
		t.Error("referenced entry must survive invalidation")
	}

	h1.Release()
	if d.Refcount() != 1 {
		t.Fatalf("refcount after one release = %d, want 1", d.Refcount())
	}
	if !store.Has(1) {
		t.Error("entry must survive while a handle is outstanding")
	}

	h2.Release()
	if store.Has(1) {
		t.Error("stale entry should be destroyed by the last release")
	}

	// Double release is a logged no-op, not an underflow.
	h2.Release()
	if d.Refcount() != 0 {
		t.Errorf("refcount after double release = %d", d.Refcount())
	}
}

func TestStatsTrackCacheActivity(t *testing.T) {
	store := newTestStore(twoRangeSetup())
	ctx := context.Background()

	h, err := store.Get(ctx, 1) // miss + rebuild
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	h, err = store.Get(ctx, 1) // hit
	if err != nil {
		t.Fatal(err)
	}
	h.Release()
	store.Invalidate(1)

	s, ok := store.Stats().Get(1)
	if !ok {
		t.Fatal("no stats recorded for relation 1")
	}
	if s.Hits != 1 || s.Misses != 1 || s.Rebuilds != 1 || s.Invalidations != 1 {
		t.Errorf("stats = %+v, want 1/1/1/1", s)
	}
}

func TestInvalidateUnreferencedEntryRemovesIt(t *testing.T) {
	store := newTestStore(twoRangeSetup())
	h, err := store.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	store.Invalidate(1)
	if store.Has(1) {
		t.Error("unreferenced stale entry should be removed immediately")
	}
}

func TestGetAfterInvalidateRebuilds(t *testing.T) {
	fc := twoRangeSetup()
	store := newTestStore(fc)
	ctx := context.Background()

	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.Release()

	// The catalog gains a partition; the cache doesn't know yet.
	fc.children[1] = fc.children[1][:1]
	fc.addRangeChild(1, 11, intBound(10), intBound(20), types.TypeInt64)
	fc.addRangeChild(1, 12, intBound(20), types.MakeBoundInf(types.SignPlusInfinity), types.TypeInt64)

	h2, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(h2.Descriptor().Children()) != 2 {
		t.Errorf("cached descriptor should still be served, children = %v", h2.Descriptor().Children())
	}
	h2.Release()

	store.Invalidate(1)
	h3, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h3.Release()
	if len(h3.Descriptor().Children()) != 3 {
		t.Errorf("rebuilt descriptor children = %v, want 3 entries", h3.Descriptor().Children())
	}
}

func TestStaleDescriptorKeepsServingOldHandles(t *testing.T) {
	fc := twoRangeSetup()
	store := newTestStore(fc)
	ctx := context.Background()

	h, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	old := h.Descriptor()

	store.Invalidate(1)
	h2, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Release()

	if h2.Descriptor() == old {
		t.Fatal("get after invalidate must return a rebuilt descriptor")
	}
	if !h2.Descriptor().Fresh() {
		t.Error("rebuilt descriptor should be fresh")
	}
	// The displaced descriptor still backs the old handle.
	if old.Fresh() {
		t.Error("displaced descriptor should be stale")
	}
	if len(old.Children()) != 2 {
		t.Errorf("displaced descriptor children = %v", old.Children())
	}
	h.Release()
}

func TestInvalidateAll(t *testing.T) {
	fc := twoRangeSetup()
	fc.addRelation(2, types.TypeInt64)
	fc.configureRange(2, "id")
	fc.addRangeChild(2, 20, types.MakeBoundInf(types.SignMinusInfinity), types.MakeBoundInf(types.SignPlusInfinity), types.TypeInt64)
	store := newTestStore(fc)
	ctx := context.Background()

	for _, relid := range []types.RelationID{1, 2} {
		h, err := store.Get(ctx, relid)
		if err != nil {
			t.Fatal(err)
		}
		h.Release()
	}
	if store.Len() != 2 {
		t.Fatalf("entry count = %d", store.Len())
	}

	store.InvalidateAll()
	if store.Len() != 0 {
		t.Errorf("entry count after InvalidateAll = %d", store.Len())
	}
}

func TestShoutIfInvalid(t *testing.T) {
	store := newTestStore(twoRangeSetup())
	h, err := store.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	d := h.Descriptor()

	if err := store.ShoutIfInvalid(1, d, types.KindRange); err != nil {
		t.Errorf("fresh matching descriptor should pass: %v", err)
	}
	if err := store.ShoutIfInvalid(1, d, types.KindAny); err != nil {
		t.Errorf("KindAny should skip the kind check: %v", err)
	}
	if err := store.ShoutIfInvalid(1, nil, types.KindRange); errors.GetCode(err) != errors.CodeInconsistentPartitioning {
		t.Errorf("nil descriptor: %v", err)
	}
	if err := store.ShoutIfInvalid(1, d, types.KindHash); errors.GetCode(err) != errors.CodeInconsistentPartitioning {
		t.Errorf("kind mismatch: %v", err)
	}

	store.Invalidate(1)
	if err := store.ShoutIfInvalid(1, d, types.KindRange); errors.GetCode(err) != errors.CodeInconsistentPartitioning {
		t.Errorf("stale descriptor: %v", err)
	}
}

func TestWithDescriptorReleasesOnError(t *testing.T) {
	store := newTestStore(twoRangeSetup())

	wantErr := errors.NewInternalError(errors.CodeUnexpected, "boom")
	err := store.WithDescriptor(context.Background(), 1, func(d *Descriptor) error {
		if d.Refcount() != 1 {
			t.Errorf("refcount inside callback = %d", d.Refcount())
		}
		return wantErr
	})
	if errors.GetCode(err) != errors.CodeUnexpected {
		t.Fatalf("err = %v", err)
	}

	store.Invalidate(1)
	if store.Has(1) {
		t.Error("entry still pinned: WithDescriptor leaked its handle")
	}
}

func TestTextBoundPayloadsAreFreedWithDescriptor(t *testing.T) {
	fc := newFakeCatalog()
	fc.addRelation(1, types.TypeText)
	fc.configureRange(1, "id")
	fc.addRangeChild(1, 10, types.MakeBoundInf(types.SignMinusInfinity), types.MakeBound([]byte("m")), types.TypeText)
	fc.addRangeChild(1, 11, types.MakeBound([]byte("m")), types.MakeBoundInf(types.SignPlusInfinity), types.TypeText)
	store := newTestStore(fc)

	h, err := store.Get(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if store.Tracker().Live() == 0 {
		t.Fatal("by-reference bounds should be tracked as live allocations")
	}

	h.Release()
	store.Invalidate(1)
	if live := store.Tracker().Live(); live != 0 {
		t.Errorf("live allocations after teardown = %d, want 0", live)
	}
}
