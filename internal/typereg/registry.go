// Package typereg resolves value types to their comparison and hash
// functions. Descriptors record the resulting proc identifiers rather than
// the functions themselves so that a descriptor stays a plain value.
package typereg

import (
	"bytes"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// ProcID identifies a registered comparison or hash function.
type ProcID uint32

// InvalidProc is the zero proc identifier.
const InvalidProc ProcID = 0

// Proc identifier layout: comparison procs at 100+type, hash procs at
// 200+type. The layout is an implementation detail; callers treat ProcID as
// opaque.
func cmpProcFor(id types.TypeID) ProcID  { return ProcID(100 + uint32(id)) }
func hashProcFor(id types.TypeID) ProcID { return ProcID(200 + uint32(id)) }

type entry struct {
	byValue bool
	len     int16
	align   int8
	cmp     types.CompareFunc
	hash    types.HashFunc
}

// Registry maps value types to storage properties and procs.
type Registry struct {
	entries map[types.TypeID]entry
}

// NewRegistry creates a registry with the built-in types registered.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[types.TypeID]entry)}

	r.entries[types.TypeInt64] = entry{
		byValue: true, len: 8, align: 8,
		cmp:  compareInt64,
		hash: hashInt64,
	}
	r.entries[types.TypeTimestamp] = entry{
		byValue: true, len: 8, align: 8,
		cmp:  compareInt64,
		hash: hashInt64,
	}
	r.entries[types.TypeFloat64] = entry{
		byValue: true, len: 8, align: 8,
		cmp:  compareFloat64,
		hash: hashFloat64,
	}
	r.entries[types.TypeText] = entry{
		byValue: false, len: -1, align: 1,
		cmp:  compareText,
		hash: hashBytes,
	}
	r.entries[types.TypeBytes] = entry{
		byValue: false, len: -1, align: 1,
		cmp:  compareBytes,
		hash: hashBytes,
	}

	return r
}

// TypeInfo returns the full type descriptor for a result type under the
// given modifier and collation.
func (r *Registry) TypeInfo(id types.TypeID, modifier int32, collation types.Collation) (types.TypeInfo, error) {
	e, ok := r.entries[id]
	if !ok {
		return types.TypeInfo{}, errors.NewValidationError(errors.CodeUnknownType,
			fmt.Sprintf("no registered type %s", id))
	}
	if collation == "" {
		collation = types.CollationBinary
	}
	return types.TypeInfo{
		ID:        id,
		Modifier:  modifier,
		ByValue:   e.byValue,
		Len:       e.len,
		Align:     e.align,
		Collation: collation,
	}, nil
}

// Procs returns the comparison and hash proc identifiers for a type.
func (r *Registry) Procs(id types.TypeID) (cmp, hash ProcID, err error) {
	if _, ok := r.entries[id]; !ok {
		return InvalidProc, InvalidProc, errors.NewValidationError(errors.CodeUnknownType,
			fmt.Sprintf("no registered type %s", id))
	}
	return cmpProcFor(id), hashProcFor(id), nil
}

// Compare resolves a comparison proc identifier back to its function.
func (r *Registry) Compare(proc ProcID) (types.CompareFunc, error) {
	id := types.TypeID(uint32(proc) - 100)
	if e, ok := r.entries[id]; ok && proc == cmpProcFor(id) {
		return e.cmp, nil
	}
	return nil, errors.NewInternalError(errors.CodeInvalidState,
		fmt.Sprintf("unknown comparison proc %d", proc))
}

// Hash resolves a hash proc identifier back to its function.
func (r *Registry) Hash(proc ProcID) (types.HashFunc, error) {
	id := types.TypeID(uint32(proc) - 200)
	if e, ok := r.entries[id]; ok && proc == hashProcFor(id) {
		return e.hash, nil
	}
	return nil, errors.NewInternalError(errors.CodeInvalidState,
		fmt.Sprintf("unknown hash proc %d", proc))
}

// Comparison functions.

func compareInt64(_ types.Collation, a, b types.Value) int {
	av, bv := a.(int64), b.(int64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func compareFloat64(_ types.Collation, a, b types.Value) int {
	av, bv := a.(float64), b.(float64)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func compareBytes(_ types.Collation, a, b types.Value) int {
	return bytes.Compare(a.([]byte), b.([]byte))
}

func compareText(collation types.Collation, a, b types.Value) int {
	av, bv := a.([]byte), b.([]byte)
	if collation == types.CollationNoCase {
		return bytes.Compare(foldASCII(av), foldASCII(bv))
	}
	return bytes.Compare(av, bv)
}

// foldASCII lower-cases ASCII letters for case-insensitive comparison.
func foldASCII(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// Hash functions. Values are hashed over a fixed byte encoding so that the
// routing decision is stable across processes sharing the same catalog.

func hashInt64(v types.Value) uint64 {
	return murmur3.Sum64(int64ToBytes(v.(int64)))
}

func hashFloat64(v types.Value) uint64 {
	bits := math.Float64bits(v.(float64))
	return murmur3.Sum64(int64ToBytes(int64(bits)))
}

func hashBytes(v types.Value) uint64 {
	return murmur3.Sum64(v.([]byte))
}

// int64ToBytes converts an int64 to a byte slice (big-endian).
func int64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
	return b
}
