package catalog

import (
	"encoding/json"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// boundSpec is the stored form of a range bound. One of the value fields is
// populated according to the parent's expression type; infinite bounds carry
// only the sign.
type boundSpec struct {
	Sign  int8     `json:"sign"`
	Int   *int64   `json:"int,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Bytes []byte   `json:"bytes,omitempty"`
}

// EncodeBound serializes a bound for storage in the partitions table.
func EncodeBound(b types.Bound, t types.TypeID) (string, error) {
	spec := boundSpec{Sign: int8(b.Sign())}
	if b.IsInfinite() {
		data, err := json.Marshal(spec)
		if err != nil {
			return "", errors.NewCatalogError(errors.CodeCatalogIO, "failed to encode bound", err)
		}
		return string(data), nil
	}

	v, err := b.Value()
	if err != nil {
		return "", err
	}
	switch t {
	case types.TypeInt64, types.TypeTimestamp:
		iv, ok := v.(int64)
		if !ok {
			return "", errors.NewCatalogError(errors.CodeCatalogIO, "bound value is not int64", nil)
		}
		spec.Int = &iv
	case types.TypeFloat64:
		fv, ok := v.(float64)
		if !ok {
			return "", errors.NewCatalogError(errors.CodeCatalogIO, "bound value is not float64", nil)
		}
		spec.Float = &fv
	case types.TypeText, types.TypeBytes:
		bv, ok := v.([]byte)
		if !ok {
			return "", errors.NewCatalogError(errors.CodeCatalogIO, "bound value is not bytes", nil)
		}
		spec.Bytes = bv
	default:
		return "", errors.NewCatalogError(errors.CodeUnknownType, "unsupported bound type: "+t.String(), nil)
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return "", errors.NewCatalogError(errors.CodeCatalogIO, "failed to encode bound", err)
	}
	return string(data), nil
}

// DecodeBound reads a stored bound spec back, interpreting the value field
// selected by the parent's expression type.
func DecodeBound(data string, t types.TypeID) (types.Bound, error) {
	var spec boundSpec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return types.Bound{}, errors.NewCatalogError(errors.CodeCatalogIO, "failed to decode bound", err)
	}

	switch types.BoundSign(spec.Sign) {
	case types.SignMinusInfinity:
		return types.MakeBoundInf(types.SignMinusInfinity), nil
	case types.SignPlusInfinity:
		return types.MakeBoundInf(types.SignPlusInfinity), nil
	case types.SignFinite:
	default:
		return types.Bound{}, errors.NewCatalogError(errors.CodeCatalogIO, "invalid bound sign", nil)
	}

	switch t {
	case types.TypeInt64, types.TypeTimestamp:
		if spec.Int == nil {
			return types.Bound{}, errors.NewCatalogError(errors.CodeCatalogIO, "bound spec missing int value", nil)
		}
		return types.MakeBound(*spec.Int), nil
	case types.TypeFloat64:
		if spec.Float == nil {
			return types.Bound{}, errors.NewCatalogError(errors.CodeCatalogIO, "bound spec missing float value", nil)
		}
		return types.MakeBound(*spec.Float), nil
	case types.TypeText, types.TypeBytes:
		if spec.Bytes == nil {
			return types.Bound{}, errors.NewCatalogError(errors.CodeCatalogIO, "bound spec missing bytes value", nil)
		}
		return types.MakeBound(spec.Bytes), nil
	default:
		return types.Bound{}, errors.NewCatalogError(errors.CodeUnknownType, "unsupported bound type: "+t.String(), nil)
	}
}
