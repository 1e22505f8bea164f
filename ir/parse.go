package ir

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ParseExpr parses the compact fixture syntax used throughout the tests:
//
//	ZF:1            variable named ZF of size 1
//	0x42:8          constant of width 8
//	r0:4 + r1:4     binary operation over two atoms
//	!(ZF:1)         boolean negation
//
// The syntax covers only what test fixtures need; it is not a general
// expression grammar.
func ParseExpr(s string) (*Expression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty expression")
	}
	if inner, ok := strings.CutPrefix(s, "!("); ok {
		inner, ok = strings.CutSuffix(inner, ")")
		if !ok {
			return nil, errors.Errorf("unbalanced negation in %q", s)
		}
		arg, err := ParseExpr(inner)
		if err != nil {
			return nil, err
		}
		return &Expression{Kind: ExprUnOp, UnOp: BoolNegate, Arg: arg}, nil
	}
	for _, bin := range []struct {
		token string
		op    BinOpType
	}{
		{" == ", IntEqual},
		{" + ", IntAdd},
		{" - ", IntSub},
	} {
		if lhs, rhs, ok := strings.Cut(s, bin.token); ok {
			l, err := parseAtom(strings.TrimSpace(lhs))
			if err != nil {
				return nil, err
			}
			r, err := parseAtom(strings.TrimSpace(rhs))
			if err != nil {
				return nil, err
			}
			return &Expression{Kind: ExprBinOp, BinOp: bin.op, Lhs: l, Rhs: r}, nil
		}
	}
	return parseAtom(s)
}

func parseAtom(s string) (*Expression, error) {
	name, sizeStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.Errorf("malformed term %q: missing size suffix", s)
	}
	size, err := strconv.ParseUint(sizeStr, 10, 16)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed size in term %q", s)
	}
	if name == "" {
		return nil, errors.Errorf("malformed term %q: empty name", s)
	}
	if strings.HasPrefix(name, "0x") {
		val, err := uint256.FromHex(name)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed constant in term %q", s)
		}
		return &Expression{Kind: ExprConst, Const: val, Width: uint16(size)}, nil
	}
	if unicode.IsDigit(rune(name[0])) {
		val := new(uint256.Int)
		if err := val.SetFromDecimal(name); err != nil {
			return nil, errors.Wrapf(err, "malformed constant in term %q", s)
		}
		return &Expression{Kind: ExprConst, Const: val, Width: uint16(size)}, nil
	}
	return &Expression{Kind: ExprVar, Var: Variable{Name: name, Size: uint16(size)}}, nil
}

// ParseDef parses an assignment fixture of the form "tid: r0:4 = r1:4".
func ParseDef(s string) (*Def, error) {
	tid, rest, ok := strings.Cut(s, ": ")
	if !ok {
		return nil, errors.Errorf("malformed def %q: missing tid prefix", s)
	}
	lhs, rhs, ok := strings.Cut(rest, " = ")
	if !ok {
		return nil, errors.Errorf("malformed def %q: missing assignment", s)
	}
	dst, err := parseAtom(strings.TrimSpace(lhs))
	if err != nil {
		return nil, err
	}
	if dst.Kind != ExprVar {
		return nil, errors.Errorf("malformed def %q: destination must be a variable", s)
	}
	value, err := ParseExpr(rhs)
	if err != nil {
		return nil, err
	}
	return &Def{Tid: Tid(tid), Kind: DefAssign, Var: dst.Var, Value: value}, nil
}

// MustParseExpr is ParseExpr for fixtures that are known to be well-formed.
func MustParseExpr(s string) *Expression {
	expr, err := ParseExpr(s)
	if err != nil {
		panic(err)
	}
	return expr
}

// MustParseDef is ParseDef for fixtures that are known to be well-formed.
func MustParseDef(s string) *Def {
	def, err := ParseDef(s)
	if err != nil {
		panic(err)
	}
	return def
}
