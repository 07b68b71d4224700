package expr

import (
	"fmt"

	"github.com/relmeta/relmeta/internal/errors"
	"github.com/relmeta/relmeta/pkg/types"
)

// RowAccessor returns the value of the column at a 1-based position.
type RowAccessor func(pos int) (types.Value, error)

// Evaluate computes the cooked expression's value for one row.
func (c *Cooked) Evaluate(row RowAccessor) (types.Value, error) {
	return eval(c.Expr, row)
}

func eval(n Node, row RowAccessor) (types.Value, error) {
	switch v := n.(type) {
	case *ColumnRef:
		if v.Pos == 0 {
			return nil, errors.NewInternalError(errors.CodeInvalidState,
				fmt.Sprintf("evaluating unbound column reference %q", v.Name))
		}
		return row(v.Pos)
	case *IntLit:
		return v.Value, nil
	case *FloatLit:
		return v.Value, nil
	case *StringLit:
		return []byte(v.Value), nil
	case *BinaryExpr:
		left, err := eval(v.Left, row)
		if err != nil {
			return nil, err
		}
		right, err := eval(v.Right, row)
		if err != nil {
			return nil, err
		}
		return applyOp(v.Op, left, right)
	default:
		return nil, errors.NewInternalError(errors.CodeInvalidState,
			fmt.Sprintf("unsupported expression node %T", n))
	}
}

func applyOp(op string, left, right types.Value) (types.Value, error) {
	lf, lIsFloat := left.(float64)
	rf, rIsFloat := right.(float64)
	li, lIsInt := left.(int64)
	ri, rIsInt := right.(int64)

	if !lIsFloat && !lIsInt || !rIsFloat && !rIsInt {
		return nil, errors.NewInternalError(errors.CodeInvalidState,
			fmt.Sprintf("operator %q applied to non-numeric values %T, %T", op, left, right))
	}

	// Promote to float when either side is float.
	if lIsFloat || rIsFloat {
		if lIsInt {
			lf = float64(li)
		}
		if rIsInt {
			rf = float64(ri)
		}
		switch op {
		case "+":
			return lf + rf, nil
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, errors.NewExpressionError(errors.CodeCookError, "division by zero", nil)
			}
			return lf / rf, nil
		}
		return nil, errors.NewInternalError(errors.CodeInvalidState,
			fmt.Sprintf("operator %q not defined for floats", op))
	}

	switch op {
	case "+":
		return li + ri, nil
	case "-":
		return li - ri, nil
	case "*":
		return li * ri, nil
	case "/":
		if ri == 0 {
			return nil, errors.NewExpressionError(errors.CodeCookError, "division by zero", nil)
		}
		return li / ri, nil
	case "%":
		if ri == 0 {
			return nil, errors.NewExpressionError(errors.CodeCookError, "modulo by zero", nil)
		}
		return li % ri, nil
	default:
		return nil, errors.NewInternalError(errors.CodeInvalidState,
			fmt.Sprintf("unknown operator %q", op))
	}
}
