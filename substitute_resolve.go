package main

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// Analysis bundles the arena and interners shared by every query-propagation
// pass over one analysis run — the single owner described in §5's memory
// discipline.
type Analysis struct {
	Graph  *Graph
	Ops    *opStackInterner
	Stacks *callStackInterner
	Prog   *ssa.Program
}

func NewAnalysis(prog *ssa.Program) *Analysis {
	return &Analysis{
		Graph:  NewGraph(),
		Ops:    newOpStackInterner(),
		Stacks: newCallStackInterner(),
		Prog:   prog,
	}
}

// substitute rewrites q to reflect how its LHS is defined within node id,
// walking the node's instructions in reverse, per §4.1. It never decides a
// truth value — that is resolve's job.
func (a *Analysis) substitute(id NodeID, q Query) Query {
	instrs := a.Graph.InstrsOf(id)
	for i := len(instrs) - 1; i >= 0; i-- {
		instr := instrs[i]

		if store, ok := instr.(*ssa.Store); ok {
			if isNamedAddr(store.Addr) && store.Addr == q.LHS {
				if _, isConst := store.Val.(*ssa.Const); !isConst {
					q.LHS = store.Val
				}
			}
			continue
		}

		val, isVal := instr.(ssa.Value)
		if !isVal || val != q.LHS {
			continue
		}

		switch v := instr.(type) {
		case *ssa.UnOp:
			if v.Op == token.MUL { // load
				q.LHS = v.X
			}
		case *ssa.Convert:
			if q.Op == IsTrue && isBoolType(v.Type()) && isIntegerType(v.X.Type()) {
				q.LHS = v.X
			}
		case *ssa.BinOp:
			if q.Op == IsTrue {
				if op, ok := cmpOperatorFor(v.Op, isSignedValue(v.X)); ok {
					xc, xConst := asConstant(v.X)
					yc, yConst := asConstant(v.Y)
					switch {
					case !xConst && yConst:
						q.LHS = v.X
						q.RHS = yc
						q.HasRHS = true
						q.Op = op
						continue
					case xConst && !yConst:
						q.LHS = v.Y
						q.RHS = xc
						q.HasRHS = true
						q.Op = reverseComparison(op)
						continue
					}
				}
			}
			if arith, ok := arithOpFor(v.Op); ok {
				xc, xConst := asConstant(v.X)
				yc, yConst := asConstant(v.Y)
				if !xConst && yConst {
					if arith == OpSDiv && !isSignedValue(v.X) {
						arith = OpUDiv
					}
					q.Pending = a.Ops.push(q.Pending, arith, yc)
					q.LHS = v.X
				} else if xConst && !yConst && (v.Op == token.ADD || v.Op == token.MUL) {
					if arith == OpSDiv && !isSignedValue(v.Y) {
						arith = OpUDiv
					}
					q.Pending = a.Ops.push(q.Pending, arith, xc)
					q.LHS = v.Y
				}
			}
		case *ssa.Call:
			q.IsSN = true
			if v.Call.Value() == q.LHS || callReturns(v, q.LHS) {
				q.LHS = nil // sentinel: "the callee's return value"
			}
			return q
		}
	}

	// Sentinel queries are only ever carried out of an exit node, whose
	// window ends in a Return; catch the non-constant case here so the
	// walk keeps tracking the real value backward through the callee.
	if q.LHS == nil && len(instrs) > 0 {
		if ret, ok := instrs[len(instrs)-1].(*ssa.Return); ok && len(ret.Results) == 1 {
			if _, isConst := ret.Results[0].(*ssa.Const); !isConst {
				q.LHS = ret.Results[0]
			}
		}
	}

	return q
}

func callReturns(call *ssa.Call, lhs ssa.Value) bool {
	return lhs != nil && call.Value() == lhs
}

func isBoolType(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsBoolean != 0
}

func isIntegerType(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsInteger != 0
}

// resolve walks node id's instructions in reverse looking for a definitive
// answer to q, per §4.1 and the fault table in §7.
func (a *Analysis) resolve(id NodeID, q Query) (bool, QueryResolution) {
	node := a.Graph.Node(id)
	instrs := a.Graph.InstrsOf(id)

	for i := len(instrs) - 1; i >= 0; i-- {
		instr := instrs[i]

		if store, ok := instr.(*ssa.Store); ok && isNamedAddr(store.Addr) && store.Addr == q.LHS {
			if c, ok := asConstant(store.Val); ok {
				folded := q.Pending.foldInto(c)
				return true, evalTruth(q, folded)
			}
			return false, Undefined
		}

		if deref, ok := dereferencedPointer(instr); ok && deref == q.LHS && q.Op == IsTrue {
			return true, False
		}

		if call, ok := instr.(*ssa.Call); ok {
			if _, isGlobal := q.LHS.(*ssa.Global); isGlobal && !IsLocalCallee(call.Call.StaticCallee()) {
				return true, Undefined
			}
		}

		if ret, ok := instr.(*ssa.Return); ok {
			if q.LHS == nil && len(ret.Results) == 1 {
				if c, ok := asConstant(ret.Results[0]); ok {
					folded := q.Pending.foldInto(c)
					return true, evalTruth(q, folded)
				}
			}
			for _, r := range ret.Results {
				if r == q.LHS {
					if c, ok := asConstant(r); ok {
						folded := q.Pending.foldInto(c)
						return true, evalTruth(q, folded)
					}
				}
			}
		}

		val, isVal := instr.(ssa.Value)
		if !isVal || val != q.LHS {
			continue
		}

		switch v := instr.(type) {
		case *ssa.Convert:
			if q.Op == IsTrue && isIntegerType(v.X.Type()) && !isBoolType(v.Type()) {
				return true, Undefined
			}
		case *ssa.BinOp:
			xc, xConst := asConstant(v.X)
			yc, yConst := asConstant(v.Y)
			if xConst && yConst {
				if op, ok := cmpOperatorFor(v.Op, isSignedValue(v.X)); ok && q.Op == IsTrue {
					return true, boolToResolution(xc.compare(op, yc))
				}
				if arith, ok := arithOpFor(v.Op); ok {
					folded := q.Pending.foldInto(xc.apply(arith, yc))
					return true, evalTruth(q, folded)
				}
			}
		}
	}

	if node.IsEntry && node.Func.Name() == "main" {
		if g, ok := q.LHS.(*ssa.Global); ok {
			if c, ok := globalInitConstant(a.Prog, g); ok {
				folded := q.Pending.foldInto(c)
				return true, evalTruth(q, folded)
			}
		}
	}

	if node.IsEntry {
		return true, Undefined
	}

	if r, ok := a.priorConditionRefutes(id, q); ok {
		return true, r
	}

	return false, Undefined
}

// dereferencedPointer returns the pointer operand of an instruction that
// dereferences a value without loading through it as q's tracked value (the
// Go analogue of a GEP): field/index address computation or an actual
// indexed load/store address base.
func dereferencedPointer(instr ssa.Instruction) (ssa.Value, bool) {
	switch v := instr.(type) {
	case *ssa.FieldAddr:
		return v.X, true
	case *ssa.IndexAddr:
		return v.X, true
	case *ssa.Index:
		return v.X, true
	case *ssa.Lookup:
		return v.X, true
	}
	return nil, false
}

func evalTruth(q Query, c Constant) QueryResolution {
	if q.Op == IsTrue {
		return boolToResolution(c.truthy())
	}
	if !q.HasRHS {
		return Undefined
	}
	return boolToResolution(c.compare(q.Op, q.RHS))
}

func boolToResolution(b bool) QueryResolution {
	if b {
		return True
	}
	return False
}

func isSignedValue(v ssa.Value) bool {
	bits, signed := intWidth(v.Type())
	_ = bits
	return signed
}

// opCategory classifies a comparison operator by its ordering relation,
// independent of operand signedness: IsSignedGreaterThan and
// IsUnsignedGreaterThan both mean "strictly greater," so a fact proven in one
// correlates with a query phrased in the other the same way.
type opCategory int

const (
	catEQ opCategory = iota
	catNE
	catGT
	catGE
	catLT
	catLE
)

func categoryOf(op QueryOperator) (opCategory, bool) {
	switch op {
	case AreEqual:
		return catEQ, true
	case AreNotEqual:
		return catNE, true
	case IsSignedGreaterThan, IsUnsignedGreaterThan:
		return catGT, true
	case IsSignedGreaterThanOrEqual, IsUnsignedGreaterThanOrEqual:
		return catGE, true
	case IsSignedLessThan, IsUnsignedLessThan:
		return catLT, true
	case IsSignedLessThanOrEqual, IsUnsignedLessThanOrEqual:
		return catLE, true
	}
	return 0, false
}

// impliesResolution reports what a known-true fact in category known implies
// about a query in category query, given both compare the same LHS against
// the same RHS constant — e.g. known=catGT implies query=catLT is False
// ("x>0" rules out "x<0"), which is exactly §8 Scenario 2's correlated-branch
// case. Pairs with no fixed implication (e.g. knowing x>=c says nothing about
// x==c) are absent from the table and fall through to Undefined.
func impliesResolution(known, query opCategory) QueryResolution {
	table := map[[2]opCategory]QueryResolution{
		{catGT, catGT}: True, {catGT, catGE}: True, {catGT, catLT}: False, {catGT, catLE}: False, {catGT, catEQ}: False, {catGT, catNE}: True,
		{catGE, catGE}: True, {catGE, catLT}: False,
		{catLT, catGT}: False, {catLT, catGE}: False, {catLT, catLT}: True, {catLT, catLE}: True, {catLT, catEQ}: False, {catLT, catNE}: True,
		{catLE, catGT}: False, {catLE, catLE}: True,
		{catEQ, catGT}: False, {catEQ, catGE}: True, {catEQ, catLT}: False, {catEQ, catLE}: True, {catEQ, catEQ}: True, {catEQ, catNE}: False,
		{catNE, catEQ}: False, {catNE, catNE}: True,
	}
	if r, ok := table[[2]opCategory{known, query}]; ok {
		return r
	}
	return Undefined
}

// priorConditionRefutes implements §4.1's final resolve rule: if node has
// exactly one predecessor ending in a conditional branch whose guard (read in
// the direction of the edge actually taken to reach node) correlates with the
// current query over the same LHS and RHS, the query is resolved without
// looking any further back.
func (a *Analysis) priorConditionRefutes(id NodeID, q Query) (QueryResolution, bool) {
	preds := a.Graph.Predecessors(id)
	if len(preds) != 1 {
		return Undefined, false
	}
	predNode := a.Graph.Node(preds[0])
	if predNode.CallIdx != len(a.Graph.localCallsOf(predNode.Block)) {
		return Undefined, false
	}
	ifInstr, ok := predNode.Block.Instrs[len(predNode.Block.Instrs)-1].(*ssa.If)
	if !ok {
		return Undefined, false
	}
	guard, isBin := ifInstr.Cond.(*ssa.BinOp)
	if !isBin {
		return Undefined, false
	}
	op, ok := cmpOperatorFor(guard.Op, isSignedValue(guard.X))
	if !ok {
		return Undefined, false
	}
	xc, xConst := asConstant(guard.X)
	yc, yConst := asConstant(guard.Y)
	var guardLHS ssa.Value
	var guardRHS Constant
	switch {
	case !xConst && yConst:
		guardLHS, guardRHS = guard.X, yc
	case xConst && !yConst:
		guardLHS, guardRHS, op = guard.Y, xc, reverseComparison(op)
	default:
		return Undefined, false
	}
	// Under NaiveForm each read of a variable is its own load, so a guard on
	// a load of y is matched against a query already substituted back to y.
	if ld, ok := guardLHS.(*ssa.UnOp); ok && ld.Op == token.MUL && isNamedAddr(ld.X) && ld.X == q.LHS {
		guardLHS = ld.X
	}
	if guardLHS != q.LHS || !q.HasRHS || guardRHS != q.RHS {
		return Undefined, false
	}
	// Determine which successor of the If block leads to id: if it is the
	// false edge, the guard's negation holds here.
	takesFalse := predNode.Block.Succs[1] == a.Graph.Node(id).Block
	if takesFalse {
		op = negateOperator(op)
	}
	knownCat, ok := categoryOf(op)
	if !ok {
		return Undefined, false
	}
	queryCat, ok := categoryOf(q.Op)
	if !ok {
		return Undefined, false
	}
	if r := impliesResolution(knownCat, queryCat); r != Undefined {
		return r, true
	}
	return Undefined, false
}

func negateOperator(op QueryOperator) QueryOperator {
	switch op {
	case AreEqual:
		return AreNotEqual
	case AreNotEqual:
		return AreEqual
	case IsSignedGreaterThan:
		return IsSignedLessThanOrEqual
	case IsSignedLessThanOrEqual:
		return IsSignedGreaterThan
	case IsSignedGreaterThanOrEqual:
		return IsSignedLessThan
	case IsSignedLessThan:
		return IsSignedGreaterThanOrEqual
	case IsUnsignedGreaterThan:
		return IsUnsignedLessThanOrEqual
	case IsUnsignedLessThanOrEqual:
		return IsUnsignedGreaterThan
	case IsUnsignedGreaterThanOrEqual:
		return IsUnsignedLessThan
	case IsUnsignedLessThan:
		return IsUnsignedGreaterThanOrEqual
	}
	return op
}

// globalInitConstant looks for a constant store to g in its package's init
// function, approximating "a global with a constant initializer" for source
// forms like `var g = 5`.
func globalInitConstant(prog *ssa.Program, g *ssa.Global) (Constant, bool) {
	pkg := prog.Package(g.Pkg.Pkg)
	if pkg == nil {
		return Constant{}, false
	}
	initFn := pkg.Func("init")
	if initFn == nil {
		return Constant{}, false
	}
	for _, b := range initFn.Blocks {
		for _, instr := range b.Instrs {
			store, ok := instr.(*ssa.Store)
			if !ok || store.Addr != ssa.Value(g) {
				continue
			}
			if c, ok := asConstant(store.Val); ok {
				return c, true
			}
		}
	}
	return Constant{}, false
}
