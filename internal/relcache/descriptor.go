// Package relcache caches partitioning metadata per relation: the parent
// descriptor store, the per-partition bound cache, the child-to-parent
// lookup cache and the delayed-invalidation coordinator that keeps them
// consistent with catalog changes.
package relcache

import (
	"github.com/google/uuid"

	"github.com/relmeta/relmeta/internal/expr"
	"github.com/relmeta/relmeta/internal/typereg"
	"github.com/relmeta/relmeta/pkg/types"
)

// Descriptor is the cached record of how one parent relation is partitioned.
// It is owned by the Store; callers hold it through a Handle that pins the
// reference count. A descriptor is never patched in place: a rebuild
// replaces the whole value set under the same key.
type Descriptor struct {
	relid        types.RelationID
	refcount     int
	fresh        bool
	incomplete   bool
	enableParent bool
	kind         types.PartitionKind

	// children is ordered: for range partitioning it parallels ranges
	// (sorted ascending by range min); for hash partitioning index i is the
	// owner of hash slot i.
	children []types.RelationID
	ranges   []types.RangeEntry

	cooked   *expr.Cooked
	typeInfo types.TypeInfo
	cmpProc  typereg.ProcID
	hashProc typereg.ProcID

	// buildID tags parent-cache entries contributed by this build so a later
	// teardown forgets exactly its own contributions.
	buildID uuid.UUID
}

// Relid returns the parent relation this descriptor covers.
func (d *Descriptor) Relid() types.RelationID { return d.relid }

// Kind returns the partitioning strategy.
func (d *Descriptor) Kind() types.PartitionKind { return d.kind }

// Fresh reports whether the descriptor still reflects catalog state.
func (d *Descriptor) Fresh() bool { return d.fresh }

// Incomplete reports whether the child set may be undercounted because some
// children could not be resolved during a concurrent schema change.
func (d *Descriptor) Incomplete() bool { return d.incomplete }

// EnableParent reports whether the parent itself absorbs rows that fit no
// partition.
func (d *Descriptor) EnableParent() bool { return d.enableParent }

// Refcount returns the number of outstanding handles.
func (d *Descriptor) Refcount() int { return d.refcount }

// Children returns the ordered child relations. Callers must not mutate the
// returned slice.
func (d *Descriptor) Children() []types.RelationID { return d.children }

// Ranges returns the sorted range entries, or nil for hash partitioning.
// Callers must not mutate the returned slice.
func (d *Descriptor) Ranges() []types.RangeEntry { return d.ranges }

// Expression returns the planned partitioning expression.
func (d *Descriptor) Expression() *expr.Cooked { return d.cooked }

// TypeInfo returns the descriptor of the expression's result type.
func (d *Descriptor) TypeInfo() types.TypeInfo { return d.typeInfo }

// CompareProc returns the comparison proc bound to the result type.
func (d *Descriptor) CompareProc() typereg.ProcID { return d.cmpProc }

// HashProc returns the hash proc bound to the result type.
func (d *Descriptor) HashProc() typereg.ProcID { return d.hashProc }

// hasChild reports whether the relation appears in the child set.
func (d *Descriptor) hasChild(relid types.RelationID) bool {
	for _, ch := range d.children {
		if ch == relid {
			return true
		}
	}
	return false
}
