package types

import (
	"fmt"

	"github.com/relmeta/relmeta/internal/errors"
)

// BoundSign is the tri-state tag of a range bound.
type BoundSign int8

const (
	SignFinite        BoundSign = 0
	SignPlusInfinity  BoundSign = +1
	SignMinusInfinity BoundSign = -1
)

// Bound is a range-partition boundary: either a finite value or one of the
// ±infinity sentinels. The value slot is meaningful only for finite bounds;
// the constructors keep the illegal combinations unrepresentable.
type Bound struct {
	value Value
	sign  BoundSign
}

// MakeBound returns a finite bound holding v. The bound borrows v; use
// CopyBound to take ownership of a by-reference payload.
func MakeBound(v Value) Bound {
	return Bound{value: v, sign: SignFinite}
}

// MakeBoundInf returns an infinite bound. sign must be SignPlusInfinity or
// SignMinusInfinity.
func MakeBoundInf(sign BoundSign) Bound {
	if sign == SignFinite {
		panic("types: MakeBoundInf called with finite sign")
	}
	return Bound{sign: sign}
}

// IsInfinite reports whether the bound is one of the infinity sentinels.
func (b Bound) IsInfinite() bool { return b.sign != SignFinite }

// IsPlusInfinity reports whether the bound is the +infinity sentinel.
func (b Bound) IsPlusInfinity() bool { return b.sign == SignPlusInfinity }

// IsMinusInfinity reports whether the bound is the -infinity sentinel.
func (b Bound) IsMinusInfinity() bool { return b.sign == SignMinusInfinity }

// Sign returns the bound's tri-state tag.
func (b Bound) Sign() BoundSign { return b.sign }

// Value returns the payload of a finite bound. Reading the value of an
// infinite bound is a contract violation.
func (b Bound) Value() (Value, error) {
	if b.IsInfinite() {
		return nil, errors.NewInternalError(errors.CodeInvalidState,
			"bound is infinite, it has no value")
	}
	return b.value, nil
}

// CopyBound returns a bound owning its own payload. Infinite bounds and
// by-value payloads are shared; by-reference payloads are deep-copied and
// reported to the tracker.
func CopyBound(src Bound, byValue bool, tracker *AllocTracker) Bound {
	if src.IsInfinite() || byValue {
		return src
	}
	return Bound{value: copyValue(src.value, tracker), sign: src.sign}
}

// FreeBound releases an owned by-reference payload. It is a no-op for
// infinite bounds and by-value payloads, mirroring CopyBound.
func FreeBound(b *Bound, byValue bool, tracker *AllocTracker) {
	if b.IsInfinite() || byValue {
		return
	}
	if _, ok := b.value.([]byte); ok {
		tracker.release()
	}
	b.value = nil
}

// String renders the bound for display.
func (b Bound) String() string {
	switch b.sign {
	case SignMinusInfinity:
		return "-inf"
	case SignPlusInfinity:
		return "+inf"
	default:
		if s, ok := b.value.([]byte); ok {
			return string(s)
		}
		return fmt.Sprintf("%v", b.value)
	}
}

// CompareBounds orders two bounds. Any -infinity is less than everything but
// another -infinity; any +infinity is greater than everything but another
// +infinity; finite bounds are ordered by cmp under the given collation.
func CompareBounds(cmp CompareFunc, collation Collation, a, b Bound) int {
	if a.sign != SignFinite && a.sign == b.sign {
		return 0
	}
	if a.IsMinusInfinity() || b.IsPlusInfinity() {
		return -1
	}
	if b.IsMinusInfinity() || a.IsPlusInfinity() {
		return 1
	}
	return cmp(collation, a.value, b.value)
}

// RangeEntry is one range partition's slice of the parent's key space.
// Descriptors keep these sorted ascending by Min.
type RangeEntry struct {
	Child RelationID
	Min   Bound
	Max   Bound
}
