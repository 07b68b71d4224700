package relcache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relmeta/relmeta/internal/catalog"
	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/internal/observability"
	"github.com/relmeta/relmeta/internal/typereg"
	"github.com/relmeta/relmeta/pkg/types"
)

// Store is the parent-relation-keyed descriptor cache. Entries are
// reference-counted and freshness-flagged: a stale entry survives as long
// as handles are outstanding and is destroyed by the release that brings
// its refcount to zero. All state belongs to one backend process; the
// refcount protocol, not locking, is the required discipline.
type Store struct {
	entries map[types.RelationID]*Descriptor
	catalog catalog.Catalog
	cooker  *expr.Cooker
	reg     *typereg.Registry
	parents *ParentCache
	bounds  *BoundsCache
	tracker *types.AllocTracker
	stats   *observability.CacheStats
	log     zerolog.Logger
}

// NewStore creates the descriptor store and its dependent caches.
func NewStore(cat catalog.Catalog, cooker *expr.Cooker, reg *typereg.Registry, enableBoundsCache bool, log zerolog.Logger) *Store {
	tracker := &types.AllocTracker{}
	return &Store{
		entries: make(map[types.RelationID]*Descriptor),
		catalog: cat,
		cooker:  cooker,
		reg:     reg,
		parents: NewParentCache(cat, log),
		bounds:  NewBoundsCache(enableBoundsCache, tracker),
		tracker: tracker,
		stats:   observability.NewCacheStats(time.Hour),
		log:     log,
	}
}

// Parents returns the child-to-parent lookup cache.
func (s *Store) Parents() *ParentCache { return s.parents }

// Bounds returns the per-partition bound cache.
func (s *Store) Bounds() *BoundsCache { return s.bounds }

// Tracker returns the allocation tracker accounting for owned bound
// payloads.
func (s *Store) Tracker() *types.AllocTracker { return s.tracker }

// Stats returns the cache activity counters.
func (s *Store) Stats() *observability.CacheStats { return s.stats }

// Handle is a borrowed, refcount-pinning reference to a descriptor.
// Release must be called on every exit path; releasing twice is a no-op.
type Handle struct {
	d        *Descriptor
	store    *Store
	released bool
}

// Descriptor returns the pinned descriptor.
func (h *Handle) Descriptor() *Descriptor { return h.d }

// Release unpins the descriptor. If this was the last handle and the entry
// has gone stale, the entry and everything derived from it are destroyed.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.store.release(h.d)
}

// Get returns a pinned descriptor for a partitioned relation. A fresh
// cached entry is returned as-is; a stale one is rebuilt first; a miss
// consults the catalog and builds from scratch. A relation that is not
// partitioned yields a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, relid types.RelationID) (*Handle, error) {
	if d, ok := s.entries[relid]; ok && d.fresh {
		s.stats.RecordHit(relid)
		return s.checkout(d), nil
	}
	s.stats.RecordMiss(relid)

	cfg, err := s.catalog.PartitioningConfig(ctx, relid)
	if err != nil {
		// Not partitioned (or gone): any leftover stale entry is useless.
		if errors.IsNotFound(err) {
			s.Invalidate(relid)
		}
		return nil, err
	}
	if err := s.Refresh(ctx, relid, cfg.Kind, cfg.Expr, false); err != nil {
		return nil, err
	}
	return s.checkout(s.entries[relid]), nil
}

// WithDescriptor runs fn with a pinned descriptor, releasing it on every
// exit path.
func (s *Store) WithDescriptor(ctx context.Context, relid types.RelationID, fn func(*Descriptor) error) error {
	h, err := s.Get(ctx, relid)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Descriptor())
}

// Refresh rebuilds (or creates) the descriptor of one relation. The build
// is all-or-nothing: on failure the cache keeps whatever it had before.
// allowIncomplete permits a descriptor whose child set is undercounted
// because of a concurrent schema change; the result is still fresh but
// marked incomplete.
func (s *Store) Refresh(ctx context.Context, relid types.RelationID, kind types.PartitionKind, source string, allowIncomplete bool) error {
	d, err := s.build(ctx, relid, kind, source, allowIncomplete)
	if err != nil {
		return err
	}
	s.install(d)
	return nil
}

// Invalidate marks the entry stale and immediately forgets the bound-cache
// entries derived from it; derived data must not outlive the build it came
// from even while handles keep the descriptor itself alive. An unreferenced
// entry is destroyed on the spot; a referenced one survives until its last
// release.
func (s *Store) Invalidate(relid types.RelationID) {
	d, ok := s.entries[relid]
	if !ok {
		return
	}
	s.stats.RecordInvalidation(relid)
	d.fresh = false
	s.forgetChildBounds(d)
	if d.refcount == 0 {
		delete(s.entries, relid)
		s.destroy(d)
	}
}

// InvalidateAll marks every entry stale, destroying the unreferenced ones.
func (s *Store) InvalidateAll() {
	for relid := range s.entries {
		s.Invalidate(relid)
	}
}

// ShoutIfInvalid guards a handle across a potential suspension point: it
// fails if the descriptor is absent, stale, or of an unexpected kind.
// expectedKind KindAny skips the kind check.
func (s *Store) ShoutIfInvalid(relid types.RelationID, d *Descriptor, expectedKind types.PartitionKind) error {
	if d == nil {
		return errors.NewCacheError(errors.CodeInconsistentPartitioning,
			fmt.Sprintf("no descriptor for relation %s", relid))
	}
	if !d.fresh {
		return errors.NewCacheError(errors.CodeInconsistentPartitioning,
			fmt.Sprintf("descriptor for relation %s is stale", relid))
	}
	if expectedKind != types.KindAny && d.kind != expectedKind {
		return errors.NewCacheError(errors.CodeInconsistentPartitioning,
			fmt.Sprintf("relation %s is partitioned by %s, expected %s", relid, d.kind, expectedKind))
	}
	return nil
}

// Has reports whether an entry (fresh or stale) exists for the relation.
func (s *Store) Has(relid types.RelationID) bool {
	_, ok := s.entries[relid]
	return ok
}

// Len returns the number of cached entries.
func (s *Store) Len() int { return len(s.entries) }

func (s *Store) checkout(d *Descriptor) *Handle {
	d.refcount++
	return &Handle{d: d, store: s}
}

func (s *Store) release(d *Descriptor) {
	if d.refcount <= 0 {
		// Refcount underflow is a protocol violation by the caller; shout in
		// the log rather than corrupt the count.
		s.log.Error().Uint32("relation", uint32(d.relid)).Msg("descriptor released more times than checked out")
		return
	}
	d.refcount--
	if d.refcount == 0 && !d.fresh {
		if s.entries[d.relid] == d {
			delete(s.entries, d.relid)
		}
		s.destroy(d)
	}
}

// install replaces the cache entry for the descriptor's relation. A
// displaced predecessor keeps serving its outstanding handles until they
// are released; an unreferenced one is destroyed now.
func (s *Store) install(d *Descriptor) {
	if old, ok := s.entries[d.relid]; ok {
		old.fresh = false
		s.forgetChildBounds(old)
		if old.refcount == 0 {
			s.destroy(old)
		}
	}
	s.entries[d.relid] = d
	s.stats.RecordRebuild(d.relid)

	for _, child := range d.children {
		if child.Valid() {
			s.parents.Cache(child, d.relid, d.buildID)
		}
	}
	s.log.Debug().
		Uint32("relation", uint32(d.relid)).
		Stringer("kind", d.kind).
		Int("children", len(d.children)).
		Bool("incomplete", d.incomplete).
		Msg("descriptor installed")
}

// forgetChildBounds drops the bound-cache entries derived from a
// descriptor's build. Runs the moment the entry goes stale, never at
// destruction: destruction can be deferred past the next rebuild by
// outstanding handles, and a late forget would evict entries already
// repopulated from the newer build.
func (s *Store) forgetChildBounds(d *Descriptor) {
	for _, child := range d.children {
		if child.Valid() {
			s.bounds.Forget(child)
		}
	}
}

// destroy frees a descriptor's owned state: its range bound payloads and
// the parent-cache mappings its build contributed. The children's
// bound-cache entries were already forgotten when the entry went stale.
func (s *Store) destroy(d *Descriptor) {
	for i := range d.ranges {
		types.FreeBound(&d.ranges[i].Min, d.typeInfo.ByValue, s.tracker)
		types.FreeBound(&d.ranges[i].Max, d.typeInfo.ByValue, s.tracker)
	}
	d.ranges = nil
	d.children = nil
	d.cooked = nil
	s.parents.forgetOrigin(d.buildID)
}
