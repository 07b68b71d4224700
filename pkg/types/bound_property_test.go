package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_BoundInfinityOrdering validates the bound comparison contract:
// -inf is below every finite value and +inf is above every finite value.
func TestProperty_BoundInfinityOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	minInf := MakeBoundInf(SignMinusInfinity)
	plusInf := MakeBoundInf(SignPlusInfinity)

	properties.Property("-inf < x < +inf for any finite x", prop.ForAll(
		func(x int64) bool {
			fin := MakeBound(x)
			return CompareBounds(int64Compare, CollationBinary, minInf, fin) == -1 &&
				CompareBounds(int64Compare, CollationBinary, fin, plusInf) == -1 &&
				CompareBounds(int64Compare, CollationBinary, fin, minInf) == 1 &&
				CompareBounds(int64Compare, CollationBinary, plusInf, fin) == 1
		},
		gen.Int64(),
	))

	properties.Property("comparison is antisymmetric", prop.ForAll(
		func(a, b int64) bool {
			ba, bb := MakeBound(a), MakeBound(b)
			return CompareBounds(int64Compare, CollationBinary, ba, bb) ==
				-CompareBounds(int64Compare, CollationBinary, bb, ba)
		},
		gen.Int64(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestProperty_CopyFreeBalance validates that any sequence of copies followed
// by matching frees leaves the allocation count unchanged.
func TestProperty_CopyFreeBalance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("copy then free is allocation-neutral", prop.ForAll(
		func(payload []byte, copies int) bool {
			if copies < 0 {
				copies = -copies
			}
			copies = copies%8 + 1

			tracker := &AllocTracker{}
			src := MakeBound(payload)

			owned := make([]Bound, 0, copies)
			for i := 0; i < copies; i++ {
				owned = append(owned, CopyBound(src, false, tracker))
			}
			if tracker.Live() != int64(copies) {
				return false
			}
			for i := range owned {
				FreeBound(&owned[i], false, tracker)
			}
			return tracker.Live() == 0
		},
		gen.SliceOf(gen.UInt8()),
		gen.Int(),
	))

	properties.TestingRun(t)
}
