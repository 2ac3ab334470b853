package main

import (
	"sync"

	"golang.org/x/tools/go/ssa"
)

// NodeID is a handle into a Graph's node arena. Node identity is owned
// centrally by the Graph: there is exactly one Node per (block, program-point)
// key, and every other structure in this package (CallStack, Query pending-op
// stacks, InfeasiblePathResult edges) refers to nodes by NodeID rather than by
// pointer, since a *Node itself is never a valid Go map key once it would need
// to embed a slice.
type NodeID int32

// Node identifies a position in the interprocedural CFG: a basic block plus a
// program point within that block. A block containing k calls to locally
// analyzable functions is split into k+1 nodes, indexed 0..k: node i (i<k)
// sits just before the i-th such call, and node k is the block's tail (the
// position from just after the last split-worthy call through the
// terminator).
type Node struct {
	ID      NodeID
	Func    *ssa.Function
	Block   *ssa.BasicBlock
	CallIdx int  // 0..len(localCalls(Block)); == len(...) for the tail node
	IsEntry bool // IsEntry: CallIdx==0 and Block is Func's entry block
	IsExit  bool // IsExit: tail node of a block whose terminator has no successors
}

type nodeKey struct {
	block   *ssa.BasicBlock
	callIdx int
}

// Graph is the centralized arena of nodes for one analysis run, built once
// (lazily, on demand) over every function reachable from the program's SSA
// build. It also maintains the call-site index used to stitch callers to
// callees: entries are keyed by callee so that an entry node's
// interprocedural predecessors (the set of call sites that call it) can be
// looked up in O(1).
//
// Graph is safe for concurrent use: §5's bounded worker pool fans out the
// orchestration loop across functions, and any one of them can lazily
// materialize a node — including one belonging to another function, reached
// by crossing a call edge — in this same shared arena. mu is the single lock
// serializing that growth. Every method that is itself mutation-free but
// reads nodes/localCalls/callSites still takes mu, because a concurrent
// nodeFor can reallocate g.nodes' backing array underneath it. To avoid
// reentrant locking, each public method locks once and calls the unexported,
// lock-free twin (suffixed "Locked"); those twins call only one another, never
// back out through a locking method.
type Graph struct {
	mu         sync.Mutex
	nodes      []Node
	index      map[nodeKey]NodeID
	localCalls map[*ssa.BasicBlock][]*ssa.Call
	callSites  map[*ssa.Function][]NodeID
}

// NewGraph creates an empty arena.
func NewGraph() *Graph {
	return &Graph{
		index:      make(map[nodeKey]NodeID),
		localCalls: make(map[*ssa.BasicBlock][]*ssa.Call),
		callSites:  make(map[*ssa.Function][]NodeID),
	}
}

// Node returns a copy of the Node behind a handle. A copy, not a pointer into
// g.nodes, is returned deliberately: the backing slice can be reallocated by
// a concurrent nodeFor, so a live pointer into it would not be safe to read
// without holding g.mu for the read's whole duration.
func (g *Graph) Node(id NodeID) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	return &n
}

// IsLocalCallee reports whether callee is a function this analysis can enter:
// non-synthetic, defined in a known (in-module) package, with a body. Any
// other call — through an interface method, a function value, into the
// standard library or a third-party dependency, or into a declared-only
// function — is treated as opaque per the Non-goals: it never splits a
// block, and its effect on a tracked global resolves to Undefined.
func IsLocalCallee(callee *ssa.Function) bool {
	return callee != nil &&
		callee.Synthetic == "" &&
		callee.Pkg != nil &&
		len(callee.Blocks) > 0 &&
		modSet.IsKnownPkg(callee.Pkg.Pkg.Path())
}

// localCallsOf returns, in instruction order, the call instructions within
// block that split it into additional program points.
func (g *Graph) localCallsOf(block *ssa.BasicBlock) []*ssa.Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.localCallsOfLocked(block)
}

func (g *Graph) localCallsOfLocked(block *ssa.BasicBlock) []*ssa.Call {
	if calls, ok := g.localCalls[block]; ok {
		return calls
	}
	var calls []*ssa.Call
	for _, instr := range block.Instrs {
		call, ok := instr.(*ssa.Call)
		if !ok {
			continue
		}
		if IsLocalCallee(call.Call.StaticCallee()) {
			calls = append(calls, call)
		}
	}
	g.localCalls[block] = calls
	return calls
}

// nodeFor returns the handle for (block, callIdx), materializing it (and its
// callSites index entry, if it is itself a call node) on first use.
func (g *Graph) nodeFor(block *ssa.BasicBlock, callIdx int) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodeForLocked(block, callIdx)
}

func (g *Graph) nodeForLocked(block *ssa.BasicBlock, callIdx int) NodeID {
	key := nodeKey{block, callIdx}
	if id, ok := g.index[key]; ok {
		return id
	}

	calls := g.localCallsOfLocked(block)
	fn := block.Parent()
	n := Node{
		CallIdx: callIdx,
		Func:    fn,
		Block:   block,
		IsEntry: callIdx == 0 && block == fn.Blocks[0],
		IsExit:  callIdx == len(calls) && len(block.Succs) == 0,
	}
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.index[key] = n.ID

	if callIdx < len(calls) {
		callee := calls[callIdx].Call.StaticCallee()
		g.callSites[callee] = append(g.callSites[callee], n.ID)
	}
	return n.ID
}

// TailNodeOf returns the tail (post-last-call) node of block.
func (g *Graph) TailNodeOf(block *ssa.BasicBlock) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tailNodeOfLocked(block)
}

func (g *Graph) tailNodeOfLocked(block *ssa.BasicBlock) NodeID {
	return g.nodeForLocked(block, len(g.localCallsOfLocked(block)))
}

// EntryNodeOf returns the entry node of a function.
func (g *Graph) EntryNodeOf(fn *ssa.Function) NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entryNodeOfLocked(fn)
}

func (g *Graph) entryNodeOfLocked(fn *ssa.Function) NodeID {
	return g.nodeForLocked(fn.Blocks[0], 0)
}

// ExitNodesOf returns the tail nodes of fn's blocks with no CFG successors.
func (g *Graph) ExitNodesOf(fn *ssa.Function) []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exitNodesOfLocked(fn)
}

func (g *Graph) exitNodesOfLocked(fn *ssa.Function) []NodeID {
	var exits []NodeID
	for _, b := range fn.Blocks {
		if len(b.Succs) == 0 {
			exits = append(exits, g.tailNodeOfLocked(b))
		}
	}
	return exits
}

// CallSitesOf returns every node, across the whole program, that sits just
// before a local call to fn. This is the interprocedural replacement for
// fn's entry block's natural (intraprocedural) predecessors.
func (g *Graph) CallSitesOf(fn *ssa.Function) []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.callSites[fn]
}

// CalleeAt returns the function a call node stitches into, or nil if id is
// not a call node.
func (g *Graph) CalleeAt(id NodeID) *ssa.Function {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calleeAtLocked(id)
}

func (g *Graph) calleeAtLocked(id NodeID) *ssa.Function {
	n := g.nodes[id]
	calls := g.localCallsOfLocked(n.Block)
	if n.CallIdx >= len(calls) {
		return nil
	}
	return calls[n.CallIdx].Call.StaticCallee()
}

// Successors returns id's successors: a call node's sole successor is the callee's entry node; a tail node's
// successors are the block's normal CFG successors (empty for an exit
// node — interprocedural continuation past a return is handled explicitly
// by the detector/def-use engine via CallSitesOf, not by Successors).
func (g *Graph) Successors(id NodeID) []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	calls := g.localCallsOfLocked(n.Block)
	if n.CallIdx < len(calls) {
		callee := calls[n.CallIdx].Call.StaticCallee()
		return []NodeID{g.entryNodeOfLocked(callee)}
	}
	succs := make([]NodeID, 0, len(n.Block.Succs))
	for _, s := range n.Block.Succs {
		succs = append(succs, g.nodeForLocked(s, 0))
	}
	return succs
}

// InstrsOf returns, in forward order, the instructions "owned" by node id:
// everything strictly after the previous local call (or the start of the
// block) through this node's own call instruction (inclusive) or, for a tail
// node, through the terminator.
func (g *Graph) InstrsOf(id NodeID) []ssa.Instruction {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	calls := g.localCallsOfLocked(n.Block)

	start := 0
	if n.CallIdx > 0 {
		prev := calls[n.CallIdx-1]
		for i, instr := range n.Block.Instrs {
			if instr == ssa.Instruction(prev) {
				start = i + 1
				break
			}
		}
	}

	end := len(n.Block.Instrs)
	if n.CallIdx < len(calls) {
		call := calls[n.CallIdx]
		for i, instr := range n.Block.Instrs {
			if instr == ssa.Instruction(call) {
				end = i + 1
				break
			}
		}
	}
	return n.Block.Instrs[start:end]
}

// PredecessorCallee returns the function whose exit nodes are id's
// predecessors (because id sits just after a local call to it), or nil if
// id's predecessors are ordinary intraprocedural CFG/call predecessors. This
// is the boundary callers must push onto a CallStack when continuing a
// backward walk across Predecessors(id).
func (g *Graph) PredecessorCallee(id NodeID) *ssa.Function {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	if n.CallIdx == 0 {
		return nil
	}
	return g.calleeAtLocked(g.nodeForLocked(n.Block, n.CallIdx-1))
}

// CallSiteOf returns the call-site node whose callee's exit nodes are id's
// predecessors, when id sits just after a local call. This is the node a
// CallStack entry should record when a backward walk crosses from id into
// that callee's body.
func (g *Graph) CallSiteOf(id NodeID) (NodeID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	if n.CallIdx == 0 {
		return 0, false
	}
	return g.nodeForLocked(n.Block, n.CallIdx-1), true
}

// Predecessors returns id's structural predecessors: the node just after a
// call's predecessors are the callee's exit nodes; a block's first node's predecessors are the block's
// normal CFG predecessors wrapped at their tail node, UNLESS this is the
// function's entry node, in which case there are no intraprocedural
// predecessors at all (see CallSitesOf for the interprocedural case).
func (g *Graph) Predecessors(id NodeID) []NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[id]
	if n.CallIdx > 0 {
		callee := g.calleeAtLocked(g.nodeForLocked(n.Block, n.CallIdx-1))
		return g.exitNodesOfLocked(callee)
	}
	if n.IsEntry {
		return nil
	}
	preds := make([]NodeID, 0, len(n.Block.Preds))
	for _, p := range n.Block.Preds {
		preds = append(preds, g.tailNodeOfLocked(p))
	}
	return preds
}
