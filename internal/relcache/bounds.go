package relcache

import (
	"fmt"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// BoundInfo is a partition's own slice of its parent's partitioning: the
// range it covers, or the hash slot it owns. Derived data, never a source
// of truth.
type BoundInfo struct {
	Relid     types.RelationID
	Kind      types.PartitionKind
	RangeMin  types.Bound
	RangeMax  types.Bound
	ByValue   bool
	HashIndex int
}

// BoundsCache caches per-partition bound info so repeated constraint checks
// skip re-deriving it from the parent descriptor. When disabled it computes
// fresh info on every call and caches nothing.
type BoundsCache struct {
	entries map[types.RelationID]*BoundInfo
	tracker *types.AllocTracker
	enabled bool
}

// NewBoundsCache creates the bound cache. enabled mirrors the configuration
// knob; tracker accounts for the deep-copied by-reference bound payloads.
func NewBoundsCache(enabled bool, tracker *types.AllocTracker) *BoundsCache {
	return &BoundsCache{
		entries: make(map[types.RelationID]*BoundInfo),
		tracker: tracker,
		enabled: enabled,
	}
}

// Enabled reports whether lookups may be served from cache.
func (b *BoundsCache) Enabled() bool { return b.enabled }

// GetOrBuild returns the bound info of one partition under the given
// descriptor, deriving (and, when enabled, caching) it from the
// descriptor's child set. A partition absent from the child set yields a
// NOT_FOUND error.
func (b *BoundsCache) GetOrBuild(child types.RelationID, d *Descriptor) (*BoundInfo, error) {
	if b.enabled {
		if info, ok := b.entries[child]; ok {
			return info, nil
		}
	}

	info, err := deriveBoundInfo(child, d, b.tracker, b.enabled)
	if err != nil {
		return nil, err
	}
	if b.enabled {
		b.entries[child] = info
	}
	return info, nil
}

// Forget drops the cached entry for a partition, releasing its owned bound
// payloads. Called when the partition is dropped or detached, or when its
// parent descriptor is torn down.
func (b *BoundsCache) Forget(child types.RelationID) {
	info, ok := b.entries[child]
	if !ok {
		return
	}
	if info.Kind == types.KindRange {
		types.FreeBound(&info.RangeMin, info.ByValue, b.tracker)
		types.FreeBound(&info.RangeMax, info.ByValue, b.tracker)
	}
	delete(b.entries, child)
}

// Reset drops every cached entry.
func (b *BoundsCache) Reset() {
	for child := range b.entries {
		b.Forget(child)
	}
}

// Len returns the number of cached entries.
func (b *BoundsCache) Len() int { return len(b.entries) }

// deriveBoundInfo extracts one child's position from the parent descriptor.
// own controls whether range bounds are deep-copied (cached entries own
// their payloads; transient ones borrow the descriptor's).
func deriveBoundInfo(child types.RelationID, d *Descriptor, tracker *types.AllocTracker, own bool) (*BoundInfo, error) {
	switch d.kind {
	case types.KindHash:
		for i, ch := range d.children {
			if ch == child {
				return &BoundInfo{
					Relid:     child,
					Kind:      types.KindHash,
					ByValue:   d.typeInfo.ByValue,
					HashIndex: i,
				}, nil
			}
		}
	case types.KindRange:
		for _, r := range d.ranges {
			if r.Child != child {
				continue
			}
			info := &BoundInfo{
				Relid:     child,
				Kind:      types.KindRange,
				ByValue:   d.typeInfo.ByValue,
				HashIndex: -1,
				RangeMin:  r.Min,
				RangeMax:  r.Max,
			}
			if own {
				info.RangeMin = types.CopyBound(r.Min, d.typeInfo.ByValue, tracker)
				info.RangeMax = types.CopyBound(r.Max, d.typeInfo.ByValue, tracker)
			}
			return info, nil
		}
	default:
		return nil, errors.NewInternalError(errors.CodeUnknownPartitioningKind,
			fmt.Sprintf("descriptor for %s has kind %s", d.relid, d.kind))
	}
	return nil, errors.NewNotFoundError(
		fmt.Sprintf("relation %s is not a partition of %s", child, d.relid))
}
