package main

import (
	"sync"

	"golang.org/x/tools/go/ssa"
)

// DefUsePair reports that a use of a variable at UseNode can observe the
// definition written at DefNode, under the calling context CS, unless the
// path between them is pruned as infeasible.
type DefUsePair struct {
	Var     ssa.Value
	DefNode NodeID
	UseNode NodeID
	CS      *CallStack
}

// duQuery is a single in-flight demand: "what defines var, walking backward
// from node under the calling context CS".
type duQuery struct {
	Node NodeID
	Var  ssa.Value
	CS   *CallStack
}

// SummaryNode is the §3 summary-node record for def-use: the def-use pairs a
// demand-driven walk discovered inside a callee, keyed at the callee's exit
// node, plus whether the callee left the variable untouched ("transparent" —
// a future walk may bypass the callee body entirely rather than re-entering
// it).
type SummaryNode struct {
	DefUse      []DefUsePair
	Transparent bool
}

type snKey struct {
	Exit NodeID
	Var  ssa.Value
	CS   *CallStack
}

// DefUseEngine runs the demand-driven def-use algorithm of §4.4, reusing an
// Analysis's Graph/interners and a Detector's infeasible-path classification
// to prune branches that can never execute. Each FindDefs call memoizes
// (node, var, call-stack) triples for the duration of that one query via
// visited; sn is the longer-lived function-query-style cache of §3's Summary
// Node, keyed by (callee-exit-node, variable, call-stack-in) and shared
// across every FindDefs call this engine ever serves, guarded by snMu since
// the bounded worker pool of §5 analyzes independent functions concurrently
// and two of them can reach the same callee at once.
type DefUseEngine struct {
	A    *Analysis
	D    *Detector
	snMu sync.Mutex
	sn   map[snKey]*SummaryNode
}

func NewDefUseEngine(a *Analysis, d *Detector) *DefUseEngine {
	return &DefUseEngine{A: a, D: d, sn: make(map[snKey]*SummaryNode)}
}

func (e *DefUseEngine) lookupSummary(exit NodeID, v ssa.Value, cs *CallStack) (*SummaryNode, bool) {
	e.snMu.Lock()
	defer e.snMu.Unlock()
	sn, ok := e.sn[snKey{Exit: exit, Var: v, CS: cs}]
	return sn, ok
}

func (e *DefUseEngine) storeSummary(exit NodeID, v ssa.Value, cs *CallStack, sn *SummaryNode) {
	e.snMu.Lock()
	defer e.snMu.Unlock()
	e.sn[snKey{Exit: exit, Var: v, CS: cs}] = sn
}

// FindDefs returns every definition of v that can reach the use at useNode
// under calling context cs, pruning any predecessor edge the infeasible-path
// detector has classified as never-taken for the branch guarding it.
func (e *DefUseEngine) FindDefs(useNode NodeID, v ssa.Value, cs *CallStack) []DefUsePair {
	var out []DefUsePair
	visited := make(map[duQuery]bool)
	e.walk(useNode, useNode, v, cs, visited, &out)
	return out
}

func (e *DefUseEngine) walk(useNode, node NodeID, v ssa.Value, cs *CallStack, visited map[duQuery]bool, out *[]DefUsePair) {
	key := duQuery{Node: node, Var: v, CS: cs}
	if visited[key] {
		return
	}
	visited[key] = true

	n := e.A.Graph.Node(node)

	if _, ok := e.definitionIn(node, v); ok {
		// A def sitting inside one arm of a branch is only reachable if the
		// edge entering this node wasn't just proven, by its governing
		// branch, to never be taken (Scenario 5: "if c { v=1 } else { v=2 }"
		// must drop whichever arm the branch's own condition rules out).
		if e.reachable(node, cs) {
			*out = append(*out, DefUsePair{Var: v, DefNode: node, UseNode: useNode, CS: cs})
		}
		return
	}

	if n.IsEntry {
		sites := e.A.Graph.CallSitesOf(n.Func)
		if len(sites) == 0 {
			return // a parameter or package-level value with no further def visible here
		}
		if isLocalToFunction(v, n.Func) {
			return // cannot escape into a caller: the locality rule of §4.4
		}
		if cs != nil {
			top, _ := cs.Top()
			rest := cs.Pop()
			// Resume at the call site itself, not its predecessors: the call
			// site's own node still covers everything in its block up to and
			// including the call, which a jump straight to its predecessors
			// would skip over.
			e.walk(useNode, top, v, rest, visited, out)
		} else {
			for _, site := range sites {
				e.walk(useNode, site, v, nil, visited, out)
			}
		}
		return
	}

	site, crossesIntoCallee := e.A.Graph.CallSiteOf(node)
	for _, p := range e.A.Graph.Predecessors(node) {
		if e.edgeInfeasible(p, node, cs) {
			continue
		}
		if !crossesIntoCallee {
			e.walk(useNode, p, v, cs, visited, out)
			continue
		}

		if cs.Contains(site) {
			// Already inside a call through this exact site further up the
			// stack: recursing in would grow the call stack without bound.
			// Drop this path instead of exploring it again.
			continue
		}
		cs2 := e.A.Stacks.Push(cs, site)

		// §4.4's interprocedural dispatch: consult the Summary Node cache
		// for this (callee-exit, var, call-stack-in) before re-entering the
		// callee's body.
		if sn, ok := e.lookupSummary(p, v, cs2); ok {
			*out = append(*out, sn.DefUse...)
			if sn.Transparent {
				// The callee never touches v: bypass its body entirely and
				// resume at the call site itself (not its predecessors, for
				// the same reason the entry-crossing case above does this),
				// under the call stack this function was already carrying.
				e.walk(useNode, site, v, cs, visited, out)
			}
			continue
		}

		before := len(*out)
		e.walk(useNode, p, v, cs2, visited, out)
		added := append([]DefUsePair(nil), (*out)[before:]...)
		// Transparent: no def was found inside the callee itself; defs found
		// after the walk returned out to the call site do not count.
		callee := e.A.Graph.Node(p).Func
		transparent := true
		for _, pr := range added {
			if e.A.Graph.Node(pr.DefNode).Func == callee {
				transparent = false
				break
			}
		}
		e.storeSummary(p, v, cs2, &SummaryNode{DefUse: added, Transparent: transparent})
	}
}

// definitionIn reports whether v is (re)defined somewhere within node's
// instruction window: either v itself originates there (an *ssa.Alloc,
// *ssa.Call result, or any other SSA-defining instruction whose value is v),
// or a Store targets the alloc/global that v represents.
func (e *DefUseEngine) definitionIn(node NodeID, v ssa.Value) (ssa.Instruction, bool) {
	instrs := e.A.Graph.InstrsOf(node)
	for i := len(instrs) - 1; i >= 0; i-- {
		instr := instrs[i]
		if store, ok := instr.(*ssa.Store); ok && isNamedAddr(store.Addr) && store.Addr == v {
			return store, true
		}
		if val, ok := instr.(ssa.Value); ok && val == v {
			return instr, true
		}
	}
	return nil, false
}

// isLocalToFunction reports whether v is a stack-allocated variable (or SSA
// temporary) whose storage cannot outlive fn — it is pointless, and
// unsound, to keep searching for its definition in a caller.
func isLocalToFunction(v ssa.Value, fn *ssa.Function) bool {
	switch val := v.(type) {
	case *ssa.Alloc:
		return val.Parent() == fn && !val.Heap
	case *ssa.Parameter:
		return false
	case *ssa.Global:
		return false
	default:
		if instr, ok := v.(ssa.Instruction); ok {
			return instr.Parent() == fn
		}
		return true
	}
}

// edgeInfeasible reports whether the CFG edge (from, to) is the destination
// a resolved branch never takes: §4.4 step 1 would intersect the in-progress
// paths with startSet[e] and drop the path on a hit; here, with no IPP
// threaded through the walk, that is equivalent to asking whether to is the
// sibling of the branch's proven destination — the End set carries a
// resolution entry on the destination consistent with it (Step 3's trailing
// block in infeasible.go), and nothing on the other one, so an edge is
// infeasible exactly when its own End set is empty while its sibling's is
// not.
func (e *DefUseEngine) edgeInfeasible(from, to NodeID, cs *CallStack) bool {
	fromNode := e.A.Graph.Node(from)
	calls := e.A.Graph.localCallsOf(fromNode.Block)
	if fromNode.CallIdx != len(calls) {
		return false // not a block tail; can't be a branch source
	}
	block := fromNode.Block
	if len(block.Instrs) == 0 {
		return false
	}
	if _, ok := block.Instrs[len(block.Instrs)-1].(*ssa.If); !ok {
		return false
	}
	if len(block.Succs) != 2 {
		return false
	}

	trueDest := e.A.Graph.nodeFor(block.Succs[0], 0)
	falseDest := e.A.Graph.nodeFor(block.Succs[1], 0)
	if to != trueDest && to != falseDest {
		return false
	}

	result := e.D.DetectInfeasiblePaths(block)
	trueFeasible := len(result.EndSetAt(Edge{From: from, To: trueDest}, cs)) > 0
	falseFeasible := len(result.EndSetAt(Edge{From: from, To: falseDest}, cs)) > 0

	if to == trueDest {
		return falseFeasible && !trueFeasible
	}
	return trueFeasible && !falseFeasible
}

// reachable reports whether node can be entered at all under cs: false only
// when every edge leading into it has been proven, by its governing branch,
// to never be taken. definitionIn is checked before any recursion into
// node's own predecessors, so without this a def sitting in a branch arm
// would be reported even when that arm's entering edge is the one the
// detector has ruled out.
func (e *DefUseEngine) reachable(node NodeID, cs *CallStack) bool {
	preds := e.A.Graph.Predecessors(node)
	if len(preds) == 0 {
		return true
	}
	for _, p := range preds {
		if !e.edgeInfeasible(p, node, cs) {
			return true
		}
	}
	return false
}

// RaiseQuery turns a discovered definition into a branch-feasibility demand:
// per §4.4, reaching a definition through a path whose guard depends on the
// defined variable's value lets the detector narrow later uses, so callers
// that want the full infeasible-path cross-check should run
// Detector.DetectInfeasiblePaths on every conditional block along the
// DefUsePair's path, not just the one nearest the use.
func RaiseQuery(d *Detector, block *ssa.BasicBlock) *InfeasiblePathResult {
	return d.DetectInfeasiblePaths(block)
}
