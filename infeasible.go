package main

import (
	"sync"

	"golang.org/x/tools/go/ssa"
)

// Edge is a directed edge (p, n) in the interprocedural CFG.
type Edge struct {
	From NodeID
	To   NodeID
}

// ResolutionEntry is one (resolution, calling-context) fact attached to an
// edge or a (node, query) pair.
type ResolutionEntry struct {
	R  QueryResolution
	CS *CallStack
}

// InfeasiblePathResult holds the three per-edge classifications: every map is
// keyed by (Edge, Query) and yields the set of resolutions observed under
// each calling context.
type InfeasiblePathResult struct {
	Start   map[edgeQuery]map[ResolutionEntry]struct{}
	Present map[edgeQuery]map[ResolutionEntry]struct{}
	End     map[edgeQuery]map[ResolutionEntry]struct{}
}

type edgeQuery struct {
	Edge Edge
	Q    Query
}

func newInfeasiblePathResult() *InfeasiblePathResult {
	return &InfeasiblePathResult{
		Start:   make(map[edgeQuery]map[ResolutionEntry]struct{}),
		Present: make(map[edgeQuery]map[ResolutionEntry]struct{}),
		End:     make(map[edgeQuery]map[ResolutionEntry]struct{}),
	}
}

func addEntry(m map[edgeQuery]map[ResolutionEntry]struct{}, eq edgeQuery, e ResolutionEntry) bool {
	set, ok := m[eq]
	if !ok {
		set = make(map[ResolutionEntry]struct{})
		m[eq] = set
	}
	if _, exists := set[e]; exists {
		return false
	}
	set[e] = struct{}{}
	return true
}

// StartSetAt returns every (Resolution, call stack) entry in startSet[e] whose
// recorded call stack is a suffix of cs — the context-sensitive lookup of §4.3.
func (r *InfeasiblePathResult) StartSetAt(e Edge, cs *CallStack) []ResolutionEntry {
	return filterByContext(r.Start, e, cs)
}

func (r *InfeasiblePathResult) PresentSetAt(e Edge, cs *CallStack) []ResolutionEntry {
	return filterByContext(r.Present, e, cs)
}

func (r *InfeasiblePathResult) EndSetAt(e Edge, cs *CallStack) []ResolutionEntry {
	return filterByContext(r.End, e, cs)
}

func filterByContext(m map[edgeQuery]map[ResolutionEntry]struct{}, e Edge, cs *CallStack) []ResolutionEntry {
	var out []ResolutionEntry
	for eq, set := range m {
		if eq.Edge != e {
			continue
		}
		for entry := range set {
			if entry.CS.IsSuffixOf(cs) {
				out = append(out, entry)
			}
		}
	}
	return out
}

// Detector computes InfeasiblePathResult for individual conditional-branch
// blocks, memoizing per block as §4.5 prescribes. cacheMu guards cache: the
// bounded worker pool of §5 can call DetectInfeasiblePaths for blocks in
// different functions concurrently, and a def-use walk crossing into a
// callee can trigger a detection for a block the outer orchestration loop
// hasn't reached yet.
type Detector struct {
	A       *Analysis
	cacheMu sync.Mutex
	cache   map[*ssa.BasicBlock]*InfeasiblePathResult
}

func NewDetector(a *Analysis) *Detector {
	return &Detector{A: a, cache: make(map[*ssa.BasicBlock]*InfeasiblePathResult)}
}

type nodeQuery struct {
	Node NodeID
	Q    Query
}

type workItem struct {
	Node NodeID
	Q    Query
	CS   *CallStack
}

// DetectInfeasiblePaths runs the three-pass algorithm of §4.2/§4.3 for the
// two-way conditional branch terminating block B, returning the edge
// classification for the whole interprocedural subgraph it explored.
func (d *Detector) DetectInfeasiblePaths(b *ssa.BasicBlock) *InfeasiblePathResult {
	d.cacheMu.Lock()
	cached, ok := d.cache[b]
	d.cacheMu.Unlock()
	if ok {
		return cached
	}
	ifInstr, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If)
	if !ok {
		res := newInfeasiblePathResult()
		d.cacheMu.Lock()
		d.cache[b] = res
		d.cacheMu.Unlock()
		return res
	}

	result := newInfeasiblePathResult()

	q0 := Query{LHS: ifInstr.Cond, Op: IsTrue}
	bNode := d.A.Graph.TailNodeOf(b)

	// ---- Step 1: backward exploration ----
	terminal := make(map[nodeQuery]map[ResolutionEntry]struct{}) // resolved directly here
	seenAt := make(map[NodeID]map[Query]struct{})                // queries ever visited at a node
	visitedItem := make(map[workItem]bool)

	var worklist []workItem
	push := func(w workItem) {
		if visitedItem[w] {
			return
		}
		visitedItem[w] = true
		worklist = append(worklist, w)
	}
	push(workItem{Node: bNode, Q: q0, CS: nil})

	for len(worklist) > 0 {
		w := worklist[0]
		worklist = worklist[1:]

		if seenAt[w.Node] == nil {
			seenAt[w.Node] = make(map[Query]struct{})
		}
		seenAt[w.Node][w.Q] = struct{}{}

		node := d.A.Graph.Node(w.Node)
		sites := d.A.Graph.CallSitesOf(node.Func)

		if node.IsEntry && len(sites) > 0 {
			qEntry := d.A.substitute(w.Node, w.Q)
			if w.CS != nil {
				top, _ := w.CS.Top()
				rest := w.CS.Pop()
				// Resume at the call site itself, not its predecessors: the
				// call site's own node still covers everything in its block
				// up to and including the call, which a jump straight to its
				// predecessors would skip over.
				push(workItem{Node: top, Q: qEntry, CS: rest})
			} else {
				for _, site := range sites {
					push(workItem{Node: site, Q: qEntry, CS: nil})
				}
			}
			continue
		}

		resolved, r := d.A.resolve(w.Node, w.Q)
		if resolved {
			key := nodeQuery{w.Node, w.Q}
			if terminal[key] == nil {
				terminal[key] = make(map[ResolutionEntry]struct{})
			}
			terminal[key][ResolutionEntry{R: r, CS: w.CS}] = struct{}{}
			continue
		}

		qNext := d.A.substitute(w.Node, w.Q)
		preds := d.A.Graph.Predecessors(w.Node)
		site, crossesIntoCallee := d.A.Graph.CallSiteOf(w.Node)
		for _, p := range preds {
			cs := w.CS
			if crossesIntoCallee {
				if cs.Contains(site) {
					// Already inside a call through this exact site further
					// up the stack: recursing in would grow the call stack
					// without bound. Drop this path instead of exploring it
					// again.
					continue
				}
				cs = d.A.Stacks.Push(cs, site)
			}
			push(workItem{Node: p, Q: qNext, CS: cs})
		}
	}

	// ---- Step 2: forward propagation to a fixpoint ----
	nodeRes := make(map[nodeQuery]map[ResolutionEntry]struct{})
	for key, set := range terminal {
		nodeRes[key] = set
	}

	var fwQueue []NodeID
	inQueue := make(map[NodeID]bool)
	enqueueSuccessors := func(n NodeID) {
		for _, s := range d.A.Graph.Successors(n) {
			if !inQueue[s] {
				inQueue[s] = true
				fwQueue = append(fwQueue, s)
			}
		}
	}
	for key := range terminal {
		enqueueSuccessors(key.Node)
	}

	for len(fwQueue) > 0 {
		n := fwQueue[0]
		fwQueue = fwQueue[1:]
		inQueue[n] = false

		for q := range seenAt[n] {
			key := nodeQuery{n, q}
			if _, isTerminal := terminal[key]; isTerminal {
				continue // resolved directly; never overwritten by forward union
			}
			qAtPred := d.A.substitute(n, q)
			grew := false
			site, crossesIntoCallee := d.A.Graph.CallSiteOf(n)
			for _, p := range d.A.Graph.Predecessors(n) {
				predKey := nodeQuery{p, qAtPred}
				for entry := range nodeRes[predKey] {
					cs := entry.CS
					if crossesIntoCallee {
						top, ok := cs.Top()
						if !ok || top != site {
							continue
						}
						cs = cs.Pop()
					}
					if nodeRes[key] == nil {
						nodeRes[key] = make(map[ResolutionEntry]struct{})
					}
					if _, ok := nodeRes[key][ResolutionEntry{R: entry.R, CS: cs}]; !ok {
						nodeRes[key][ResolutionEntry{R: entry.R, CS: cs}] = struct{}{}
						grew = true
					}
				}
			}
			if grew {
				enqueueSuccessors(n)
			}
		}
	}

	// ---- Step 3: classify edges ----
	for n, queries := range seenAt {
		for q := range queries {
			key := nodeQuery{n, q}
			set := nodeRes[key]
			distinctR := make(map[QueryResolution]bool)
			for entry := range set {
				distinctR[entry.R] = true
			}
			for _, p := range d.A.Graph.Predecessors(n) {
				qAtPred := d.A.substitute(n, q)
				predKey := nodeQuery{p, qAtPred}
				predSet := nodeRes[predKey]
				if predSet == nil {
					continue
				}
				e := Edge{From: p, To: n}
				predDistinct := make(map[QueryResolution]bool)
				for entry := range predSet {
					predDistinct[entry.R] = true
					if entry.R == True || entry.R == False {
						addEntry(result.Present, edgeQuery{e, qAtPred}, entry)
					}
				}
				// Undefined is never promoted to True/False here (§7): a
				// predecessor set of {True, Undefined} must not count as
				// "only True observed", or a start entry would fire even
				// though the sibling alternative was never actually ruled
				// out.
				if predDistinct[True] && !predDistinct[False] && !predDistinct[Undefined] && len(distinctR) > 1 {
					for entry := range predSet {
						if entry.R == True {
							addEntry(result.Start, edgeQuery{e, qAtPred}, entry)
						}
					}
				}
				if predDistinct[False] && !predDistinct[True] && !predDistinct[Undefined] && len(distinctR) > 1 {
					for entry := range predSet {
						if entry.R == False {
							addEntry(result.Start, edgeQuery{e, qAtPred}, entry)
						}
					}
				}
			}
		}
	}

	if len(ifInstr.Block().Succs) == 2 {
		trueDest := d.A.Graph.nodeFor(ifInstr.Block().Succs[0], 0)
		falseDest := d.A.Graph.nodeFor(ifInstr.Block().Succs[1], 0)
		for entry := range nodeRes[nodeQuery{bNode, q0}] {
			switch entry.R {
			case True:
				addEntry(result.End, edgeQuery{Edge{bNode, trueDest}, q0}, entry)
				addEntry(result.Present, edgeQuery{Edge{bNode, trueDest}, q0}, entry)
			case False:
				addEntry(result.End, edgeQuery{Edge{bNode, falseDest}, q0}, entry)
				addEntry(result.Present, edgeQuery{Edge{bNode, falseDest}, q0}, entry)
			}
		}
	}

	d.cacheMu.Lock()
	d.cache[b] = result
	d.cacheMu.Unlock()

	return result
}
