package main

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/tools/go/ssa"
)

// loadTestProgram writes src as a single-file module under t.TempDir() and
// runs it through the same Load -> BuildSSA -> LocalFunctions pipeline
// main.go uses, per §8.1: engine scenarios are exercised against real SSA
// built from real source, never against mocked ssa.* types. It returns a
// fresh Analysis sharing that SSA program plus every local function, keyed by
// name, so a scenario test can just index into the function it cares about.
func loadTestProgram(t *testing.T, src string) (*Analysis, map[string]*ssa.Function) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module testprog\n\ngo 1.21\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte(src), 0o644); err != nil {
		t.Fatalf("write main.go: %v", err)
	}

	progLog := NewProgress(false)
	loadResult, err := LoadPackages(dir, []string{"./..."}, progLog)
	if err != nil {
		t.Fatalf("LoadPackages: %v", err)
	}
	modSet = moduleSetFromPackages(loadResult.Packages)

	ssaResult := BuildSSA(loadResult.Packages, progLog)
	fns := LocalFunctions(ssaResult)
	if len(fns) == 0 {
		t.Fatalf("no local functions found in test program")
	}

	a := NewAnalysis(ssaResult.Prog)
	out := make(map[string]*ssa.Function, len(fns))
	for _, fn := range fns {
		out[fn.Name()] = fn
	}
	return a, out
}

// mustFunc looks up fn by name or fails the test, so scenario tests read as a
// flat sequence of setup rather than threading error checks everywhere.
func mustFunc(t *testing.T, fns map[string]*ssa.Function, name string) *ssa.Function {
	t.Helper()
	fn, ok := fns[name]
	if !ok {
		t.Fatalf("function %q not found among local functions", name)
	}
	return fn
}

// findIf returns the *ssa.BasicBlock of fn whose terminator is a two-way
// conditional branch, and fails the test if fn has zero or more than one —
// scenario fixtures are written with exactly one `if` so the detector under
// test is unambiguous about which block it is being asked about.
func findIf(t *testing.T, fn *ssa.Function) *ssa.BasicBlock {
	t.Helper()
	var found *ssa.BasicBlock
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); !ok {
			continue
		}
		if found != nil {
			t.Fatalf("function %s has more than one conditional branch block", fn.Name())
		}
		found = b
	}
	if found == nil {
		t.Fatalf("function %s has no conditional branch block", fn.Name())
	}
	return found
}

// findAllIfs returns every block in fn whose terminator is a two-way
// conditional branch, in block-index order.
func findAllIfs(fn *ssa.Function) []*ssa.BasicBlock {
	var out []*ssa.BasicBlock
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			continue
		}
		if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); ok {
			out = append(out, b)
		}
	}
	return out
}
