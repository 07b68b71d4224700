// Package expr implements the partitioning-expression cooker: parsing an
// expression source string, binding it to a relation's columns, inferring
// its result type and producing an evaluatable, serializable form.
package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relmeta/relmeta/pkg/types"
)

// NodeKind tags the variants of the expression tree.
type NodeKind string

const (
	KindColumn NodeKind = "column"
	KindInt    NodeKind = "int"
	KindFloat  NodeKind = "float"
	KindString NodeKind = "string"
	KindBinary NodeKind = "binary"
)

// Node is one node of a planned partitioning expression.
type Node interface {
	Kind() NodeKind
	String() string
}

// ColumnRef references a column of the parent relation. Pos and Type are
// zero until the expression is cooked against the relation's schema.
type ColumnRef struct {
	Name string
	Pos  int
	Type types.TypeID
}

func (c *ColumnRef) Kind() NodeKind { return KindColumn }
func (c *ColumnRef) String() string { return c.Name }

// IntLit is an integer literal.
type IntLit struct {
	Value int64
}

func (l *IntLit) Kind() NodeKind { return KindInt }
func (l *IntLit) String() string { return fmt.Sprintf("%d", l.Value) }

// FloatLit is a floating-point literal.
type FloatLit struct {
	Value float64
}

func (l *FloatLit) Kind() NodeKind { return KindFloat }
func (l *FloatLit) String() string { return fmt.Sprintf("%g", l.Value) }

// StringLit is a single-quoted string literal.
type StringLit struct {
	Value string
}

func (l *StringLit) Kind() NodeKind { return KindString }
func (l *StringLit) String() string {
	return "'" + strings.ReplaceAll(l.Value, "'", "''") + "'"
}

// BinaryExpr applies an arithmetic operator to two operands.
type BinaryExpr struct {
	Op    string // "+", "-", "*", "/", "%"
	Left  Node
	Right Node
}

func (b *BinaryExpr) Kind() NodeKind { return KindBinary }
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op, b.Right.String())
}

// Walk visits every node of the tree in depth-first order.
func Walk(n Node, visit func(Node)) {
	if n == nil {
		return
	}
	visit(n)
	if b, ok := n.(*BinaryExpr); ok {
		Walk(b.Left, visit)
		Walk(b.Right, visit)
	}
}

// envelope is the wire form of a node tree. A closed kind tag keeps
// deserialization from ever producing an unknown variant.
type envelope struct {
	Kind  NodeKind     `json:"kind"`
	Name  string       `json:"name,omitempty"`
	Pos   int          `json:"pos,omitempty"`
	Type  types.TypeID `json:"type,omitempty"`
	Int   int64        `json:"int,omitempty"`
	Float float64      `json:"float,omitempty"`
	Str   string       `json:"str,omitempty"`
	Op    string       `json:"op,omitempty"`
	Left  *envelope    `json:"left,omitempty"`
	Right *envelope    `json:"right,omitempty"`
}

func toEnvelope(n Node) *envelope {
	switch v := n.(type) {
	case *ColumnRef:
		return &envelope{Kind: KindColumn, Name: v.Name, Pos: v.Pos, Type: v.Type}
	case *IntLit:
		return &envelope{Kind: KindInt, Int: v.Value}
	case *FloatLit:
		return &envelope{Kind: KindFloat, Float: v.Value}
	case *StringLit:
		return &envelope{Kind: KindString, Str: v.Value}
	case *BinaryExpr:
		return &envelope{Kind: KindBinary, Op: v.Op, Left: toEnvelope(v.Left), Right: toEnvelope(v.Right)}
	default:
		return nil
	}
}

func fromEnvelope(e *envelope) (Node, error) {
	if e == nil {
		return nil, fmt.Errorf("expr: empty node envelope")
	}
	switch e.Kind {
	case KindColumn:
		return &ColumnRef{Name: e.Name, Pos: e.Pos, Type: e.Type}, nil
	case KindInt:
		return &IntLit{Value: e.Int}, nil
	case KindFloat:
		return &FloatLit{Value: e.Float}, nil
	case KindString:
		return &StringLit{Value: e.Str}, nil
	case KindBinary:
		left, err := fromEnvelope(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromEnvelope(e.Right)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: e.Op, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("expr: unknown node kind %q", e.Kind)
	}
}

// EncodeNode serializes a node tree to JSON.
func EncodeNode(n Node) ([]byte, error) {
	env := toEnvelope(n)
	if env == nil {
		return nil, fmt.Errorf("expr: cannot encode node of type %T", n)
	}
	return json.Marshal(env)
}

// DecodeNode deserializes a node tree from JSON.
func DecodeNode(data []byte) (Node, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("expr: failed to unmarshal node: %w", err)
	}
	return fromEnvelope(&env)
}
