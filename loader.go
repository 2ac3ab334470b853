package main

import (
	"fmt"
	"go/token"
	"strings"

	"golang.org/x/tools/go/packages"
)

// LoadResult holds the output of package loading.
type LoadResult struct {
	Packages []*packages.Package
	Fset     *token.FileSet
}

// LoadPackages loads the target module's packages via golang.org/x/tools/go/packages,
// requesting enough information to build SSA and to resolve types for the Query
// algebra (constant initializers, integer signedness).
func LoadPackages(dir string, patterns []string, prog *Progress) (*LoadResult, error) {
	prog.Log("Loading packages from %s...", dir)

	fset := token.NewFileSet()
	cfg := &packages.Config{
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedCompiledGoFiles |
			packages.NeedImports |
			packages.NeedDeps |
			packages.NeedTypes |
			packages.NeedSyntax |
			packages.NeedTypesInfo |
			packages.NeedTypesSizes |
			packages.NeedModule,
		Dir:   dir,
		Fset:  fset,
		Tests: false,
	}

	initial, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("packages.Load: %w", err)
	}
	if packages.PrintErrors(initial) > 0 {
		prog.Log("  warning: one or more packages reported load errors (continuing)")
	}

	var fileCount, loc int
	for _, pkg := range initial {
		for i, f := range pkg.CompiledGoFiles {
			if shouldSkipFile(f) {
				continue
			}
			fileCount++
			if i < len(pkg.Syntax) {
				loc += fset.Position(pkg.Syntax[i].End()).Line
			}
		}
	}

	prog.Log("Loaded %d packages (%d files, ~%dk LOC)", len(initial), fileCount, loc/1000)

	return &LoadResult{Packages: initial, Fset: fset}, nil
}

// shouldSkipFile returns true for generated/test files that should be excluded
// from the analysis surface.
func shouldSkipFile(path string) bool {
	base := BaseName(path)
	if strings.HasSuffix(base, "_test.go") {
		return true
	}
	if strings.HasSuffix(base, ".pb.go") {
		return true
	}
	return false
}
