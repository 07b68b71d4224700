package relcache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/relmeta/relmeta/internal/catalog"
	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// LookupStatus is the confidence of a child-to-parent answer.
type LookupStatus int

const (
	// LookupNotFound: the relation is unknown to the catalog.
	LookupNotFound LookupStatus = iota

	// LookupNonPartition: the relation exists and is nobody's partition.
	LookupNonPartition

	// LookupParentFound: the relation is a partition and its parent is known.
	LookupParentFound

	// LookupIndeterminate: the answer depends on an in-flight schema change
	// and cannot be resolved right now. Retry later; do not treat as
	// "not a partition".
	LookupIndeterminate
)

// String returns the display name of the status.
func (s LookupStatus) String() string {
	switch s {
	case LookupNotFound:
		return "not-found"
	case LookupNonPartition:
		return "non-partition"
	case LookupParentFound:
		return "parent-found"
	case LookupIndeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("LookupStatus(%d)", int(s))
	}
}

// LookupResult is the outcome of a child-to-parent lookup. Parent is set
// only for LookupParentFound.
type LookupResult struct {
	Status LookupStatus
	Parent types.RelationID
}

type parentEntry struct {
	parent types.RelationID
	origin uuid.UUID // build that contributed the entry; Nil for catalog fallback
}

// ParentCache maps child partitions back to their parents. Its lifecycle is
// independent of the descriptor store: entries appear whenever a child is
// discovered while walking a descriptor (or via catalog fallback) and are
// forgotten when the child detaches or the contributing descriptor is torn
// down.
type ParentCache struct {
	entries map[types.RelationID]parentEntry
	catalog catalog.Catalog
	log     zerolog.Logger
}

// NewParentCache creates a parent cache backed by catalog truth.
func NewParentCache(cat catalog.Catalog, log zerolog.Logger) *ParentCache {
	return &ParentCache{
		entries: make(map[types.RelationID]parentEntry),
		catalog: cat,
		log:     log,
	}
}

// Cache records the parent of a child partition. origin tags the descriptor
// build responsible, so that build's teardown removes exactly its own
// contributions.
func (p *ParentCache) Cache(child, parent types.RelationID, origin uuid.UUID) {
	p.entries[child] = parentEntry{parent: parent, origin: origin}
}

// Forget removes the cached mapping and returns the forgotten parent, or
// InvalidRelation if nothing was cached.
func (p *ParentCache) Forget(child types.RelationID) types.RelationID {
	e, ok := p.entries[child]
	if !ok {
		return types.InvalidRelation
	}
	delete(p.entries, child)
	return e.parent
}

// forgetOrigin removes every entry contributed by one descriptor build.
func (p *ParentCache) forgetOrigin(origin uuid.UUID) {
	for child, e := range p.entries {
		if e.origin == origin {
			delete(p.entries, child)
		}
	}
}

// Has reports whether a mapping is cached for the child.
func (p *ParentCache) Has(child types.RelationID) bool {
	_, ok := p.entries[child]
	return ok
}

// Reset drops every cached mapping.
func (p *ParentCache) Reset() {
	p.entries = make(map[types.RelationID]parentEntry)
}

// Lookup resolves the parent of a child relation, consulting the cache
// first and falling back to catalog truth. A partition that is mid-attach
// yields LookupIndeterminate.
func (p *ParentCache) Lookup(ctx context.Context, child types.RelationID) (LookupResult, error) {
	if e, ok := p.entries[child]; ok {
		return LookupResult{Status: LookupParentFound, Parent: e.parent}, nil
	}

	rec, err := p.catalog.ParentOf(ctx, child)
	if errors.IsNotFound(err) {
		exists, eerr := p.catalog.RelationExists(ctx, child)
		if eerr != nil {
			return LookupResult{}, eerr
		}
		if !exists {
			return LookupResult{Status: LookupNotFound}, nil
		}
		return LookupResult{Status: LookupNonPartition}, nil
	}
	if err != nil {
		return LookupResult{}, err
	}
	if rec.Pending {
		p.log.Debug().Uint32("child", uint32(child)).Msg("parent lookup hit mid-attach partition")
		return LookupResult{Status: LookupIndeterminate}, nil
	}

	p.Cache(child, rec.Parent, uuid.Nil)
	return LookupResult{Status: LookupParentFound, Parent: rec.Parent}, nil
}
