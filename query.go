package main

import (
	"go/constant"
	"go/token"
	"go/types"
	"sync"

	"golang.org/x/tools/go/ssa"
)

// QueryOperator is the comparison (or truthiness test) a Query asks of its
// left-hand side.
type QueryOperator int

const (
	IsTrue QueryOperator = iota
	AreEqual
	AreNotEqual
	IsSignedGreaterThan
	IsUnsignedGreaterThan
	IsSignedGreaterThanOrEqual
	IsUnsignedGreaterThanOrEqual
	IsSignedLessThan
	IsUnsignedLessThan
	IsSignedLessThanOrEqual
	IsUnsignedLessThanOrEqual
)

// QueryResolution is the outcome of resolving a Query against an instruction.
type QueryResolution int

const (
	Undefined QueryResolution = iota
	True
	False
)

// Constant is a sign-agnostic, fixed-width integer drawn from the SSA value's
// own Go type. Go never exposes an integer kind wider than 64 bits, so unlike
// the original analysis's arbitrary-precision APInt, a two's-complement int64
// payload plus bit width and signedness is a complete, idiomatic
// representation for every Go integer kind (see DESIGN.md).
type Constant struct {
	Value  int64
	Bits   int
	Signed bool
}

func (c Constant) truthy() bool { return c.Value != 0 }

func (c Constant) masked() uint64 {
	if c.Bits >= 64 {
		return uint64(c.Value)
	}
	return uint64(c.Value) & (uint64(1)<<uint(c.Bits) - 1)
}

func (c Constant) signExtended() int64 {
	if !c.Signed || c.Bits >= 64 {
		return c.Value
	}
	shift := uint(64 - c.Bits)
	return (c.Value << shift) >> shift
}

// compare evaluates op between c and rhs.
func (c Constant) compare(op QueryOperator, rhs Constant) bool {
	switch op {
	case IsTrue:
		return c.truthy()
	case AreEqual:
		return c.masked() == rhs.masked()
	case AreNotEqual:
		return c.masked() != rhs.masked()
	case IsSignedGreaterThan:
		return c.signExtended() > rhs.signExtended()
	case IsSignedGreaterThanOrEqual:
		return c.signExtended() >= rhs.signExtended()
	case IsSignedLessThan:
		return c.signExtended() < rhs.signExtended()
	case IsSignedLessThanOrEqual:
		return c.signExtended() <= rhs.signExtended()
	case IsUnsignedGreaterThan:
		return c.masked() > rhs.masked()
	case IsUnsignedGreaterThanOrEqual:
		return c.masked() >= rhs.masked()
	case IsUnsignedLessThan:
		return c.masked() < rhs.masked()
	case IsUnsignedLessThanOrEqual:
		return c.masked() <= rhs.masked()
	}
	return false
}

// ArithOp is the opcode of a pending folded arithmetic operation.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpSDiv
	OpUDiv
)

func (c Constant) apply(op ArithOp, operand Constant) Constant {
	out := c
	switch op {
	case OpAdd:
		out.Value = c.Value + operand.Value
	case OpSub:
		out.Value = c.Value - operand.Value
	case OpMul:
		out.Value = c.Value * operand.Value
	case OpSDiv:
		if operand.Value != 0 {
			out.Value = c.signExtended() / operand.signExtended()
		}
	case OpUDiv:
		if operand.masked() != 0 {
			out.Value = int64(c.masked() / operand.masked())
		}
	}
	return out
}

// opStack is an interned, pointer-comparable cons-list of pending arithmetic
// operations. The head is the most recent push; since substitution walks a
// node backward, that is the innermost operation and is applied first.
// Interning it lets Query embed *opStack directly and remain a comparable
// struct usable as a map key — the same technique as CallStack.
type opStack struct {
	op      ArithOp
	operand Constant
	parent  *opStack
}

// opStackInterner is shared by every concurrent function analysis in the
// worker pool of §5, so its table is guarded by mu.
type opStackInterner struct {
	mu    sync.Mutex
	table map[opStackKey]*opStack
}

type opStackKey struct {
	parent  *opStack
	op      ArithOp
	operand Constant
}

func newOpStackInterner() *opStackInterner {
	return &opStackInterner{table: make(map[opStackKey]*opStack)}
}

func (in *opStackInterner) push(parent *opStack, op ArithOp, operand Constant) *opStack {
	in.mu.Lock()
	defer in.mu.Unlock()
	key := opStackKey{parent, op, operand}
	if s, ok := in.table[key]; ok {
		return s
	}
	s := &opStack{op: op, operand: operand, parent: parent}
	in.table[key] = s
	return s
}

// foldInto applies every pending operation, innermost (most recently pushed)
// first, to base.
func (s *opStack) foldInto(base Constant) Constant {
	for ; s != nil; s = s.parent {
		base = base.apply(s.op, s.operand)
	}
	return base
}

// Query is a symbolic predicate (lhs op rhs?) propagated backward through the
// CFG. LHS is nil to mean "the value about to be returned by the current
// callee" — the sentinel used for summary-node queries raised at a call
// (§4.1's "produce a per-predecessor query marked is_summary_node_query").
type Query struct {
	LHS     ssa.Value
	Op      QueryOperator
	RHS     Constant
	HasRHS  bool
	IsSN    bool
	Pending *opStack
}

// asConstant extracts a Constant from an ssa.Value if it is an integer or
// boolean constant, per the IR adapter contract in §6.
func asConstant(v ssa.Value) (Constant, bool) {
	c, ok := v.(*ssa.Const)
	if !ok || c.Value == nil {
		return Constant{}, false
	}
	switch c.Value.Kind() {
	case constant.Bool:
		val := int64(0)
		if constant.BoolVal(c.Value) {
			val = 1
		}
		return Constant{Value: val, Bits: 1, Signed: false}, true
	case constant.Int:
		bits, signed := intWidth(c.Type())
		i64, _ := constant.Int64Val(c.Value)
		return Constant{Value: i64, Bits: bits, Signed: signed}, true
	}
	return Constant{}, false
}

func intWidth(t types.Type) (bits int, signed bool) {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return 64, true
	}
	info := basic.Info()
	signed = info&types.IsUnsigned == 0
	switch basic.Kind() {
	case types.Int8, types.Uint8:
		return 8, signed
	case types.Int16, types.Uint16:
		return 16, signed
	case types.Int32, types.Uint32:
		return 32, signed
	default:
		return 64, signed
	}
}

func isNamedAddr(v ssa.Value) bool {
	switch v.(type) {
	case *ssa.Alloc, *ssa.Global:
		return true
	}
	return false
}

func addrName(v ssa.Value) string {
	switch a := v.(type) {
	case *ssa.Alloc:
		return a.Comment
	case *ssa.Global:
		return a.Name()
	}
	return ""
}

func arithOpFor(tok token.Token) (ArithOp, bool) {
	switch tok {
	case token.ADD:
		return OpAdd, true
	case token.SUB:
		return OpSub, true
	case token.MUL:
		return OpMul, true
	case token.QUO:
		return OpSDiv, true // signedness resolved by operand type at fold time
	}
	return 0, false
}

func cmpOperatorFor(tok token.Token, signed bool) (QueryOperator, bool) {
	switch tok {
	case token.EQL:
		return AreEqual, true
	case token.NEQ:
		return AreNotEqual, true
	case token.GTR:
		if signed {
			return IsSignedGreaterThan, true
		}
		return IsUnsignedGreaterThan, true
	case token.GEQ:
		if signed {
			return IsSignedGreaterThanOrEqual, true
		}
		return IsUnsignedGreaterThanOrEqual, true
	case token.LSS:
		if signed {
			return IsSignedLessThan, true
		}
		return IsUnsignedLessThan, true
	case token.LEQ:
		if signed {
			return IsSignedLessThanOrEqual, true
		}
		return IsUnsignedLessThanOrEqual, true
	}
	return 0, false
}

// reverseComparison swaps the operand sides of an ordered comparison (a op b
// becomes b op' a), used when substitute finds the constant operand on the
// left: "c > v" must become "v < c", not "v <= c".
func reverseComparison(op QueryOperator) QueryOperator {
	switch op {
	case IsSignedGreaterThan:
		return IsSignedLessThan
	case IsUnsignedGreaterThan:
		return IsUnsignedLessThan
	case IsSignedGreaterThanOrEqual:
		return IsSignedLessThanOrEqual
	case IsUnsignedGreaterThanOrEqual:
		return IsUnsignedLessThanOrEqual
	case IsSignedLessThan:
		return IsSignedGreaterThan
	case IsUnsignedLessThan:
		return IsUnsignedGreaterThan
	case IsSignedLessThanOrEqual:
		return IsSignedGreaterThanOrEqual
	case IsUnsignedLessThanOrEqual:
		return IsUnsignedGreaterThanOrEqual
	}
	return op
}
