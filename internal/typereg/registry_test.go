package typereg

import (
	"testing"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

func TestProcRoundTrip(t *testing.T) {
	r := NewRegistry()

	for _, id := range []types.TypeID{types.TypeInt64, types.TypeFloat64, types.TypeText, types.TypeBytes, types.TypeTimestamp} {
		cmp, hash, err := r.Procs(id)
		if err != nil {
			t.Fatalf("Procs(%s): %v", id, err)
		}
		if _, err := r.Compare(cmp); err != nil {
			t.Errorf("Compare(%d) for %s: %v", cmp, id, err)
		}
		if _, err := r.Hash(hash); err != nil {
			t.Errorf("Hash(%d) for %s: %v", hash, id, err)
		}
	}

	if _, _, err := r.Procs(types.TypeInvalid); errors.GetCode(err) != errors.CodeUnknownType {
		t.Errorf("Procs(invalid) error = %v", err)
	}
	if _, err := r.Compare(9999); errors.GetCode(err) != errors.CodeInvalidState {
		t.Errorf("Compare(bogus) error = %v", err)
	}
}

func TestTypeInfo(t *testing.T) {
	r := NewRegistry()

	info, err := r.TypeInfo(types.TypeInt64, -1, "")
	if err != nil {
		t.Fatal(err)
	}
	if !info.ByValue || info.Len != 8 {
		t.Errorf("int64 info = %+v", info)
	}
	if info.Collation != types.CollationBinary {
		t.Errorf("default collation = %q", info.Collation)
	}

	info, err = r.TypeInfo(types.TypeText, -1, types.CollationNoCase)
	if err != nil {
		t.Fatal(err)
	}
	if info.ByValue || info.Len != -1 {
		t.Errorf("text info = %+v", info)
	}
}

func TestCompareFunctions(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		typ       types.TypeID
		collation types.Collation
		a, b      types.Value
		want      int
	}{
		{"int lt", types.TypeInt64, types.CollationBinary, int64(1), int64(2), -1},
		{"int eq", types.TypeInt64, types.CollationBinary, int64(5), int64(5), 0},
		{"float gt", types.TypeFloat64, types.CollationBinary, 2.5, 1.5, 1},
		{"text binary case-sensitive", types.TypeText, types.CollationBinary, []byte("A"), []byte("a"), -1},
		{"text nocase fold", types.TypeText, types.CollationNoCase, []byte("ABC"), []byte("abc"), 0},
		{"bytes", types.TypeBytes, types.CollationBinary, []byte{1}, []byte{2}, -1},
		{"timestamp", types.TypeTimestamp, types.CollationBinary, int64(100), int64(100), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc, _, err := r.Procs(tt.typ)
			if err != nil {
				t.Fatal(err)
			}
			cmp, err := r.Compare(proc)
			if err != nil {
				t.Fatal(err)
			}
			if got := cmp(tt.collation, tt.a, tt.b); got != tt.want {
				t.Errorf("cmp(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHashStability(t *testing.T) {
	r := NewRegistry()

	_, proc, err := r.Procs(types.TypeInt64)
	if err != nil {
		t.Fatal(err)
	}
	hash, err := r.Hash(proc)
	if err != nil {
		t.Fatal(err)
	}

	h1 := hash(int64(12345))
	h2 := hash(int64(12345))
	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if hash(int64(12345)) == hash(int64(12346)) {
		t.Error("adjacent keys should not trivially collide")
	}
}
