package main

import (
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// SSAResult holds the SSA program and all functions for downstream consumers.
type SSAResult struct {
	Prog     *ssa.Program
	AllFuncs map[*ssa.Function]bool
}

// BuildSSA constructs the SSA representation from loaded packages.
func BuildSSA(pkgs []*packages.Package, prog *Progress) *SSAResult {
	prog.Log("Building SSA...")

	// NaiveForm disables go/ssa's automatic lifting of local variables into
	// SSA registers: §4.5's model ("Allocas name a local... Stores to named
	// pointers record a local definition") needs every local's Alloc/Store/
	// Load to stay explicit in the IR, not just the ones that already escape
	// to the heap.
	ssaProg, ssaPkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics|ssa.NaiveForm)
	var ssaFailed int
	for i, sp := range ssaPkgs {
		if sp == nil && i < len(pkgs) {
			prog.Verbose("SSA build skipped package: %s", pkgs[i].PkgPath)
			ssaFailed++
		}
	}
	if ssaFailed > 0 {
		prog.Log("Warning: %d packages failed SSA construction", ssaFailed)
	}
	ssaProg.Build()

	allFuncs := ssautil.AllFunctions(ssaProg)

	var count int
	for fn := range allFuncs {
		if fn.Synthetic != "" {
			continue
		}
		if fn.Pkg == nil {
			continue
		}
		if modSet.IsKnownPkg(fn.Pkg.Pkg.Path()) {
			count++
		}
	}

	prog.Log("Built SSA for %d functions across %d modules", count, len(modSet.Dirs()))

	return &SSAResult{
		Prog:     ssaProg,
		AllFuncs: allFuncs,
	}
}

// LocalFunctions returns the non-synthetic functions belonging to a known module,
// in a deterministic order (by package path then function name) so that driver
// output is reproducible run to run.
func LocalFunctions(res *SSAResult) []*ssa.Function {
	var fns []*ssa.Function
	for fn := range res.AllFuncs {
		if fn.Synthetic != "" || fn.Pkg == nil || len(fn.Blocks) == 0 {
			continue
		}
		if !modSet.IsKnownPkg(fn.Pkg.Pkg.Path()) {
			continue
		}
		fns = append(fns, fn)
	}
	sortFunctions(fns)
	return fns
}

func sortFunctions(fns []*ssa.Function) {
	for i := 1; i < len(fns); i++ {
		for j := i; j > 0 && functionLess(fns[j], fns[j-1]); j-- {
			fns[j], fns[j-1] = fns[j-1], fns[j]
		}
	}
}

func functionLess(a, b *ssa.Function) bool {
	ap, bp := "", ""
	if a.Pkg != nil {
		ap = a.Pkg.Pkg.Path()
	}
	if b.Pkg != nil {
		bp = b.Pkg.Pkg.Path()
	}
	if ap != bp {
		return ap < bp
	}
	return a.RelString(nil) < b.RelString(nil)
}
