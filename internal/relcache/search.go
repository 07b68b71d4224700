package relcache

import (
	"fmt"
	"sort"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// SelectPartition routes one partitioning-key value to the child that owns
// it. Hash partitioning reduces the value's hash modulo the slot count;
// range partitioning binary-searches the sorted range entries. A value no
// child covers falls back to the parent when enableParent is set, and is a
// NOT_FOUND error otherwise.
func (s *Store) SelectPartition(d *Descriptor, v types.Value) (types.RelationID, error) {
	switch d.kind {
	case types.KindHash:
		return s.selectHash(d, v)
	case types.KindRange:
		return s.selectRange(d, v)
	default:
		return types.InvalidRelation, errors.NewInternalError(errors.CodeUnknownPartitioningKind,
			fmt.Sprintf("descriptor for %s has kind %s", d.relid, d.kind))
	}
}

func (s *Store) selectHash(d *Descriptor, v types.Value) (types.RelationID, error) {
	if len(d.children) == 0 {
		return s.fallback(d, "relation has no partitions")
	}
	hash, err := s.reg.Hash(d.hashProc)
	if err != nil {
		return types.InvalidRelation, err
	}
	child := d.children[hash(v)%uint64(len(d.children))]
	if !child.Valid() {
		// Empty slot of an incomplete descriptor.
		return s.fallback(d, "owning partition is mid-attach")
	}
	return child, nil
}

func (s *Store) selectRange(d *Descriptor, v types.Value) (types.RelationID, error) {
	cmp, err := s.reg.Compare(d.cmpProc)
	if err != nil {
		return types.InvalidRelation, err
	}
	collation := d.typeInfo.Collation
	bound := types.MakeBound(v)

	// First entry whose max exceeds v; v belongs there iff min <= v.
	idx := sort.Search(len(d.ranges), func(i int) bool {
		return types.CompareBounds(cmp, collation, bound, d.ranges[i].Max) < 0
	})
	if idx < len(d.ranges) &&
		types.CompareBounds(cmp, collation, d.ranges[idx].Min, bound) <= 0 {
		return d.ranges[idx].Child, nil
	}
	return s.fallback(d, "no partition covers the value")
}

func (s *Store) fallback(d *Descriptor, reason string) (types.RelationID, error) {
	if d.enableParent {
		return d.relid, nil
	}
	return types.InvalidRelation, errors.NewNotFoundError(
		fmt.Sprintf("relation %s: %s", d.relid, reason))
}
