package expr

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// Column describes one column of a relation's schema as the cooker needs it.
type Column struct {
	Name    string
	Pos     int // 1-based column position
	Type    types.TypeID
	NotNull bool
}

// SchemaResolver supplies relation schemas to the cooker.
type SchemaResolver interface {
	// ColumnsOf returns the column schema of a relation, or a NOT_FOUND
	// error if the relation does not exist.
	ColumnsOf(ctx context.Context, relid types.RelationID) ([]Column, error)
}

// Cooked is a planned partitioning expression: bound to a relation's
// columns, type-checked, evaluatable and serializable.
type Cooked struct {
	Source     string       `json:"source"`
	Expr       Node         `json:"-"`
	ResultType types.TypeID `json:"result_type"`
	Columns    []int        `json:"columns"` // referenced column positions, ascending
}

// cookedWire is the serialized form of Cooked.
type cookedWire struct {
	Source     string          `json:"source"`
	Expr       json.RawMessage `json:"expr"`
	ResultType types.TypeID    `json:"result_type"`
	Columns    []int           `json:"columns"`
}

// Encode serializes the cooked expression to JSON.
func (c *Cooked) Encode() ([]byte, error) {
	exprData, err := EncodeNode(c.Expr)
	if err != nil {
		return nil, fmt.Errorf("expr: failed to encode expression tree: %w", err)
	}
	return json.Marshal(cookedWire{
		Source:     c.Source,
		Expr:       exprData,
		ResultType: c.ResultType,
		Columns:    c.Columns,
	})
}

// Decode deserializes a cooked expression from JSON.
func Decode(data []byte) (*Cooked, error) {
	var wire cookedWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("expr: failed to unmarshal cooked expression: %w", err)
	}
	node, err := DecodeNode(wire.Expr)
	if err != nil {
		return nil, err
	}
	return &Cooked{
		Source:     wire.Source,
		Expr:       node,
		ResultType: wire.ResultType,
		Columns:    wire.Columns,
	}, nil
}

// Canonicalize returns the stable textual form of the expression.
func (c *Cooked) Canonicalize() string {
	return c.Expr.String()
}

// Cooker plans partitioning expressions against relation schemas.
type Cooker struct {
	schema SchemaResolver
}

// NewCooker creates an expression cooker.
func NewCooker(schema SchemaResolver) *Cooker {
	return &Cooker{schema: schema}
}

// Cook parses the expression source, binds column references to the
// relation's schema, verifies the expression is usable as a partitioning
// key and infers its result type.
func (c *Cooker) Cook(ctx context.Context, relid types.RelationID, source string) (*Cooked, error) {
	node, err := Parse(source)
	if err != nil {
		return nil, errors.NewExpressionError(errors.CodeParseError,
			fmt.Sprintf("failed to parse partitioning expression %q", source), err)
	}

	columns, err := c.schema.ColumnsOf(ctx, relid)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]Column, len(columns))
	for _, col := range columns {
		byName[col.Name] = col
	}

	// Bind column references and collect their positions.
	referenced := make(map[int]struct{})
	var bindErr error
	Walk(node, func(n Node) {
		ref, ok := n.(*ColumnRef)
		if !ok || bindErr != nil {
			return
		}
		col, ok := byName[ref.Name]
		if !ok {
			bindErr = errors.NewExpressionError(errors.CodeCookError,
				fmt.Sprintf("column %q does not exist in relation %s", ref.Name, relid), nil)
			return
		}
		if !col.NotNull {
			bindErr = errors.NewExpressionError(errors.CodeCookError,
				fmt.Sprintf("column %q should be marked NOT NULL", ref.Name), nil)
			return
		}
		ref.Pos = col.Pos
		ref.Type = col.Type
		referenced[col.Pos] = struct{}{}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if len(referenced) == 0 {
		return nil, errors.NewExpressionError(errors.CodeCookError,
			fmt.Sprintf("partitioning expression %q references no columns of relation %s", source, relid), nil)
	}

	resultType, err := inferType(node)
	if err != nil {
		return nil, err
	}

	positions := make([]int, 0, len(referenced))
	for pos := range referenced {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	return &Cooked{
		Source:     source,
		Expr:       node,
		ResultType: resultType,
		Columns:    positions,
	}, nil
}

// inferType computes the expression's result type. Arithmetic is defined
// over the numeric types only; text, bytes and timestamp values can be
// partitioning keys but not operands.
func inferType(n Node) (types.TypeID, error) {
	switch v := n.(type) {
	case *ColumnRef:
		return v.Type, nil
	case *IntLit:
		return types.TypeInt64, nil
	case *FloatLit:
		return types.TypeFloat64, nil
	case *StringLit:
		return types.TypeText, nil
	case *BinaryExpr:
		left, err := inferType(v.Left)
		if err != nil {
			return types.TypeInvalid, err
		}
		right, err := inferType(v.Right)
		if err != nil {
			return types.TypeInvalid, err
		}
		if !isNumeric(left) || !isNumeric(right) {
			return types.TypeInvalid, errors.NewExpressionError(errors.CodeCookError,
				fmt.Sprintf("operator %q requires numeric operands, got %s and %s", v.Op, left, right), nil)
		}
		if v.Op == "%" {
			if left != types.TypeInt64 || right != types.TypeInt64 {
				return types.TypeInvalid, errors.NewExpressionError(errors.CodeCookError,
					fmt.Sprintf("operator %q requires integer operands, got %s and %s", v.Op, left, right), nil)
			}
			return types.TypeInt64, nil
		}
		if left == types.TypeFloat64 || right == types.TypeFloat64 {
			return types.TypeFloat64, nil
		}
		return types.TypeInt64, nil
	default:
		return types.TypeInvalid, errors.NewExpressionError(errors.CodeCookError,
			fmt.Sprintf("unsupported expression node %T", n), nil)
	}
}

func isNumeric(t types.TypeID) bool {
	return t == types.TypeInt64 || t == types.TypeFloat64
}
