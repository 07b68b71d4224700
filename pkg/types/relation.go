// Package types holds the small shared value types of the relmeta system:
// relation identifiers, partitioning kinds, type descriptors and range bounds.
package types

import "fmt"

// RelationID identifies a relation (a partitioned parent or a child partition).
type RelationID uint32

// InvalidRelation is the zero relation identifier. It never names a real relation.
const InvalidRelation RelationID = 0

// Valid reports whether the identifier names a real relation.
func (r RelationID) Valid() bool {
	return r != InvalidRelation
}

// String returns the decimal form of the identifier.
func (r RelationID) String() string {
	return fmt.Sprintf("%d", uint32(r))
}

// PartitionKind is the partitioning strategy of a parent relation.
type PartitionKind uint8

const (
	// KindAny matches any partitioning kind. It is only meaningful as the
	// expected kind in guard checks, never as a stored kind.
	KindAny PartitionKind = iota

	// KindHash routes rows by hash of the partitioning expression's value.
	KindHash

	// KindRange routes rows by comparing the value against per-partition bounds.
	KindRange
)

// String returns the display name of the partitioning kind.
func (k PartitionKind) String() string {
	switch k {
	case KindAny:
		return "ANY"
	case KindHash:
		return "HASH"
	case KindRange:
		return "RANGE"
	default:
		return fmt.Sprintf("PartitionKind(%d)", uint8(k))
	}
}

// ParsePartitionKind converts a stored kind tag into a PartitionKind.
// Tags outside the known set indicate catalog corruption.
func ParsePartitionKind(tag int) (PartitionKind, error) {
	switch tag {
	case int(KindHash):
		return KindHash, nil
	case int(KindRange):
		return KindRange, nil
	default:
		return KindAny, fmt.Errorf("types: unknown partitioning kind tag %d", tag)
	}
}
