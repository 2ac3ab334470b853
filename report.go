package main

import (
	"fmt"
	"go/token"
	"io"
	"sort"

	"golang.org/x/tools/go/ssa"
)

// defUseKey is one (def-node, use-node) pair, the unit §6's text formatter
// groups by variable name.
type defUseKey struct {
	Def NodeID
	Use NodeID
}

// ComputeDefUse runs the demand-driven engine from every load in fn and
// returns the def-use map described in §6's Driver API: variable name to the
// set of (def-block, use-block) pairs reaching it.
func ComputeDefUse(e *DefUseEngine, fn *ssa.Function) map[string]map[defUseKey]struct{} {
	result := make(map[string]map[defUseKey]struct{})
	g := e.A.Graph

	for _, b := range fn.Blocks {
		calls := g.localCallsOf(b)
		for callIdx := 0; callIdx <= len(calls); callIdx++ {
			node := g.nodeFor(b, callIdx)
			for _, instr := range g.InstrsOf(node) {
				load, ok := instr.(*ssa.UnOp)
				if !ok || load.Op != token.MUL {
					continue
				}
				name, ok := VariableName(load.X)
				if !ok {
					continue
				}
				for _, d := range e.FindDefs(node, load.X, nil) {
					if result[name] == nil {
						result[name] = make(map[defUseKey]struct{})
					}
					result[name][defUseKey{Def: d.DefNode, Use: d.UseNode}] = struct{}{}
				}
			}
		}
	}
	return result
}

// VariableName returns the source name of an addressable value worth
// reporting by name: a named local or a package-level global.
func VariableName(v ssa.Value) (string, bool) {
	switch val := v.(type) {
	case *ssa.Alloc:
		if val.Comment != "" {
			return val.Comment, true
		}
		return "", false
	case *ssa.Global:
		return val.Name(), true
	}
	return "", false
}

// funcIdentity renders fn's deterministic cross-run identifier via the same
// FuncID scheme the teacher's node-ID layer uses elsewhere in this repo, so a
// report line can be correlated back to a specific declaration even across
// two functions that share a bare name (distinct receivers, or shadowing
// across packages).
func funcIdentity(fn *ssa.Function) string {
	pkgPath := ""
	if fn.Pkg != nil {
		pkgPath = PkgID(fn.Pkg.Pkg.Path())
	}
	recv := ""
	if fn.Signature.Recv() != nil {
		recv = fn.Signature.Recv().Type().String()
	}
	pos := fn.Prog.Fset.Position(fn.Pos())
	return FuncID(pkgPath, recv, fn.Name(), BaseName(pos.Filename), pos.Line, pos.Column)
}

func blockLabel(g *Graph, id NodeID) string {
	n := g.Node(id)
	return BlockID(n.Func.Name(), n.Block.Index)
}

func callStackLabel(g *Graph, cs *CallStack) string {
	sites := cs.Slice()
	if len(sites) == 0 {
		return ""
	}
	labels := make([]string, len(sites))
	for i, s := range sites {
		labels[i] = blockLabel(g, s)
	}
	out := labels[0]
	for _, l := range labels[1:] {
		out += "," + l
	}
	return out
}

func resolutionLabel(r QueryResolution) string {
	switch r {
	case True:
		return "T"
	case False:
		return "F"
	default:
		return "U"
	}
}

// WriteFunctionReport writes the text report for one function: its def-use
// pairs, and, when verbose, the start/present/end sets of every conditional
// branch block it contains.
func WriteFunctionReport(w io.Writer, a *Analysis, d *Detector, e *DefUseEngine, fn *ssa.Function, verbose bool) {
	fmt.Fprintf(w, "func %s (%s)\n", fn.Name(), funcIdentity(fn))

	defUse := ComputeDefUse(e, fn)
	names := make([]string, 0, len(defUse))
	for name := range defUse {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		keys := make([]defUseKey, 0, len(defUse[name]))
		for k := range defUse[name] {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Def != keys[j].Def {
				return keys[i].Def < keys[j].Def
			}
			return keys[i].Use < keys[j].Use
		})
		fmt.Fprintf(w, "  Def-Use(%s):", name)
		for _, k := range keys {
			fmt.Fprintf(w, " (%s, %s)", blockLabel(a.Graph, k.Def), blockLabel(a.Graph, k.Use))
		}
		fmt.Fprintln(w)
	}

	if !verbose {
		return
	}

	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); !ok {
			continue
		}
		result := d.DetectInfeasiblePaths(b)
		writeEdgeSet(w, a.Graph, "Start set", result.Start)
		writeEdgeSet(w, a.Graph, "Present set", result.Present)
		writeEdgeSet(w, a.Graph, "End set", result.End)
	}
}

// LabeledDefUse renders ComputeDefUse's NodeID-keyed pairs as the block-label
// strings both the text report and the persisted database use, so a NodeID
// (valid only for this run's arena) never leaks into either surface.
func LabeledDefUse(a *Analysis, e *DefUseEngine, fn *ssa.Function) map[string]map[DefUseLabel]struct{} {
	raw := ComputeDefUse(e, fn)
	out := make(map[string]map[DefUseLabel]struct{}, len(raw))
	for name, pairs := range raw {
		labeled := make(map[DefUseLabel]struct{}, len(pairs))
		for k := range pairs {
			labeled[DefUseLabel{Def: blockLabel(a.Graph, k.Def), Use: blockLabel(a.Graph, k.Use)}] = struct{}{}
		}
		out[name] = labeled
	}
	return out
}

// CollectPersistedEdges flattens every conditional block's start/present/end
// sets into the row shape db.go persists, reusing the same block/call-stack/
// resolution labels the text formatter prints so the two surfaces agree.
func CollectPersistedEdges(a *Analysis, d *Detector, fn *ssa.Function) []PersistedEdge {
	var out []PersistedEdge
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); !ok {
			continue
		}
		result := d.DetectInfeasiblePaths(b)
		out = append(out, flattenEdgeSet(a.Graph, "start", result.Start)...)
		out = append(out, flattenEdgeSet(a.Graph, "present", result.Present)...)
		out = append(out, flattenEdgeSet(a.Graph, "end", result.End)...)
	}
	return out
}

func flattenEdgeSet(g *Graph, kind string, m map[edgeQuery]map[ResolutionEntry]struct{}) []PersistedEdge {
	var out []PersistedEdge
	for eq, set := range m {
		for entry := range set {
			out = append(out, PersistedEdge{
				Set:        kind,
				FromBlock:  blockLabel(g, eq.Edge.From),
				ToBlock:    blockLabel(g, eq.Edge.To),
				CallStack:  callStackLabel(g, entry.CS),
				Resolution: resolutionLabel(entry.R),
			})
		}
	}
	return out
}

func writeEdgeSet(w io.Writer, g *Graph, label string, m map[edgeQuery]map[ResolutionEntry]struct{}) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", label)

	edges := make(map[Edge][]ResolutionEntry)
	for eq, set := range m {
		for entry := range set {
			edges[eq.Edge] = append(edges[eq.Edge], entry)
		}
	}
	ordered := make([]Edge, 0, len(edges))
	for e := range edges {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].From != ordered[j].From {
			return ordered[i].From < ordered[j].From
		}
		return ordered[i].To < ordered[j].To
	})

	for _, e := range ordered {
		for _, entry := range edges[e] {
			cs := callStackLabel(g, entry.CS)
			fmt.Fprintf(w, "    {e: %s, %s CS: (%s) R: %s}\n",
				blockLabel(g, e.From), blockLabel(g, e.To), cs, resolutionLabel(entry.R))
		}
	}
}
