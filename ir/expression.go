package ir

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
)

// Variable is a (virtual) register or temporary value of a known byte size.
// Variables are comparable and can be used as set elements and map keys.
type Variable struct {
	Name   string
	Size   uint16
	IsTemp bool
}

func (v Variable) String() string {
	return fmt.Sprintf("%s:%d", v.Name, v.Size)
}

// ExprKind tags the variant of an Expression node.
type ExprKind byte

const (
	ExprVar ExprKind = iota
	ExprConst
	ExprUnOp
	ExprBinOp
)

// UnOpType is the operation tag of a unary expression node.
type UnOpType byte

const (
	// BoolNegate is distinguished so that Negate can cancel double
	// negations instead of stacking wrapper nodes.
	BoolNegate UnOpType = iota
	IntNegate
	Int2Comp
)

// BinOpType is the operation tag of a binary expression node.
type BinOpType byte

const (
	IntAdd BinOpType = iota
	IntSub
	IntMult
	IntEqual
	IntNotEqual
	IntLess
	BoolAnd
	BoolOr
)

// Expression is a side-effect-free term over variables and constants.
// Equality between expressions is structural; no semantic simplification
// happens here. Expression trees are immutable once built, so subtrees may
// be shared freely.
type Expression struct {
	Kind ExprKind

	Var   Variable     // ExprVar
	Const *uint256.Int // ExprConst
	Width uint16       // ExprConst, byte width of the constant

	UnOp  UnOpType // ExprUnOp
	BinOp BinOpType

	Arg      *Expression // ExprUnOp
	Lhs, Rhs *Expression // ExprBinOp
}

// Equal reports structural equality between two expressions.
func (e *Expression) Equal(other *Expression) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Kind != other.Kind {
		return false
	}
	switch e.Kind {
	case ExprVar:
		return e.Var == other.Var
	case ExprConst:
		return e.Width == other.Width && e.Const.Eq(other.Const)
	case ExprUnOp:
		return e.UnOp == other.UnOp && e.Arg.Equal(other.Arg)
	case ExprBinOp:
		return e.BinOp == other.BinOp && e.Lhs.Equal(other.Lhs) && e.Rhs.Equal(other.Rhs)
	}
	return false
}

// Negate returns the canonical boolean negation of e: an existing BoolNegate
// wrapper is unwrapped, anything else is wrapped once. This keeps
// Negate(Negate(e)) structurally equal to e.
func (e *Expression) Negate() *Expression {
	if e.Kind == ExprUnOp && e.UnOp == BoolNegate {
		return e.Arg
	}
	return &Expression{Kind: ExprUnOp, UnOp: BoolNegate, Arg: e}
}

// InputVars returns the set of variables the expression reads.
func (e *Expression) InputVars() mapset.Set[Variable] {
	vars := mapset.NewThreadUnsafeSet[Variable]()
	e.collectVars(vars)
	return vars
}

func (e *Expression) collectVars(vars mapset.Set[Variable]) {
	switch e.Kind {
	case ExprVar:
		vars.Add(e.Var)
	case ExprUnOp:
		e.Arg.collectVars(vars)
	case ExprBinOp:
		e.Lhs.collectVars(vars)
		e.Rhs.collectVars(vars)
	}
}

func (e *Expression) String() string {
	switch e.Kind {
	case ExprVar:
		return e.Var.String()
	case ExprConst:
		return fmt.Sprintf("%s:%d", e.Const.Hex(), e.Width)
	case ExprUnOp:
		return fmt.Sprintf("%s(%s)", e.UnOp, e.Arg)
	case ExprBinOp:
		return fmt.Sprintf("(%s %s %s)", e.Lhs, e.BinOp, e.Rhs)
	}
	return "<invalid>"
}

func (op UnOpType) String() string {
	switch op {
	case BoolNegate:
		return "!"
	case IntNegate:
		return "-"
	case Int2Comp:
		return "~"
	}
	return "<unop?>"
}

func (op BinOpType) String() string {
	switch op {
	case IntAdd:
		return "+"
	case IntSub:
		return "-"
	case IntMult:
		return "*"
	case IntEqual:
		return "=="
	case IntNotEqual:
		return "!="
	case IntLess:
		return "<"
	case BoolAnd:
		return "&&"
	case BoolOr:
		return "||"
	}
	return "<binop?>"
}
