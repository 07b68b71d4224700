package types

import "fmt"

// TypeID identifies a value type supported as a partitioning expression result.
type TypeID uint8

const (
	TypeInvalid TypeID = iota
	TypeInt64
	TypeFloat64
	TypeText
	TypeBytes
	TypeTimestamp
)

// String returns the display name of the type.
func (t TypeID) String() string {
	switch t {
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeText:
		return "text"
	case TypeBytes:
		return "bytes"
	case TypeTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("TypeID(%d)", uint8(t))
	}
}

// ParseTypeID maps a stored type name back to its TypeID.
func ParseTypeID(name string) (TypeID, error) {
	switch name {
	case "int64":
		return TypeInt64, nil
	case "float64":
		return TypeFloat64, nil
	case "text":
		return TypeText, nil
	case "bytes":
		return TypeBytes, nil
	case "timestamp":
		return TypeTimestamp, nil
	default:
		return TypeInvalid, fmt.Errorf("types: unknown type name %q", name)
	}
}

// Collation selects the comparison rules for textual values.
type Collation string

const (
	// CollationBinary compares text byte-wise.
	CollationBinary Collation = "binary"

	// CollationNoCase compares text case-insensitively (ASCII fold).
	CollationNoCase Collation = "nocase"
)

// TypeInfo describes the partitioning expression's result type: how its
// values are stored, aligned and collated.
type TypeInfo struct {
	ID        TypeID    `json:"id"`
	Modifier  int32     `json:"modifier"`
	ByValue   bool      `json:"by_value"`
	Len       int16     `json:"len"` // -1 for variable-length types
	Align     int8      `json:"align"`
	Collation Collation `json:"collation,omitempty"`
}

// CompareFunc is a type-specific three-way comparison bound to a collation.
// It returns -1, 0 or 1.
type CompareFunc func(collation Collation, a, b Value) int

// HashFunc is a type-specific hash function for partition routing.
type HashFunc func(v Value) uint64
