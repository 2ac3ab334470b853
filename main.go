package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Config is the flat set of CLI flags described in §7.2.
type Config struct {
	Pattern    string
	Verbose    bool
	DBPath     string
	Report     string // "text" or "json"
	Workers    int
	FuncFilter string
}

// run is the real entry point, split from main so every defer (such as the
// database close in persistResults) still executes on an error return, the way main.go
// elsewhere in this repo already separates flag parsing from orchestration.
func run(ctx context.Context) error {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	prog := NewProgress(cfg.Verbose)
	prog.Log("Analyzing pattern %q", cfg.Pattern)

	loadResult, err := LoadPackages(".", strings.Split(cfg.Pattern, ","), prog)
	if err != nil {
		return fmt.Errorf("loading %s: %w", cfg.Pattern, err)
	}
	modSet = moduleSetFromPackages(loadResult.Packages)

	ssaResult := BuildSSA(loadResult.Packages, prog)
	fns := LocalFunctions(ssaResult)
	if cfg.FuncFilter != "" {
		fns = filterFunctions(fns, cfg.FuncFilter)
		if len(fns) == 0 {
			return fmt.Errorf("no function matches -func=%q", cfg.FuncFilter)
		}
	}
	prog.Log("Analyzing %d functions", len(fns))

	analysis := NewAnalysis(ssaResult.Prog)
	detector := NewDetector(analysis)
	defUse := NewDefUseEngine(analysis, detector)

	results := analyzeFunctions(ctx, analysis, detector, defUse, fns, cfg.Workers, cfg.Verbose, prog)

	switch cfg.Report {
	case "json":
		if err := writeJSONReport(os.Stdout, results); err != nil {
			return fmt.Errorf("writing json report: %w", err)
		}
	default:
		for _, r := range results {
			os.Stdout.Write(r.Text)
		}
	}

	if cfg.DBPath != "" {
		if err := persistResults(cfg, results, prog); err != nil {
			return err
		}
	}

	prog.Log("Done. %d functions analyzed.", len(results))
	return nil
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("cpg-gen", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "print start/present/end sets alongside def-use")
	dbPath := fs.String("db", "", "write results to this SQLite database path")
	report := fs.String("report", "text", "report format: text or json")
	workers := fs.Int("workers", runtime.GOMAXPROCS(0), "bounded worker pool size for the orchestration loop")
	funcFilter := fs.String("func", "", "restrict analysis to one function (by name)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cpg-gen [flags] <package-pattern>\n\n")
		fmt.Fprintf(os.Stderr, "Computes infeasible-path and demand-driven def-use analysis over a Go package.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return Config{}, fmt.Errorf("expected exactly one package pattern, got %d", fs.NArg())
	}
	if *report != "text" && *report != "json" {
		return Config{}, fmt.Errorf("-report must be %q or %q, got %q", "text", "json", *report)
	}
	if *workers < 1 {
		*workers = 1
	}
	return Config{
		Pattern:    fs.Arg(0),
		Verbose:    *verbose,
		DBPath:     *dbPath,
		Report:     *report,
		Workers:    *workers,
		FuncFilter: *funcFilter,
	}, nil
}

// filterFunctions narrows fns to those whose short name or fully-qualified
// RelString matches filter exactly, mirroring the teacher's own pattern of
// flags that narrow a full pass to a subset for focused debugging.
func filterFunctions(fns []*ssa.Function, filter string) []*ssa.Function {
	var out []*ssa.Function
	for _, fn := range fns {
		if fn.Name() == filter || fn.RelString(nil) == filter {
			out = append(out, fn)
		}
	}
	return out
}

// funcResult bundles everything one function contributes to either report
// surface, computed once and rendered twice (text to stdout, rows to SQLite).
type funcResult struct {
	Fn        *ssa.Function
	Text      []byte
	Persisted PersistedFunction
}

// analyzeFunctions runs the engine over every function in fns through a
// bounded worker pool sized from cfg.Workers (defaulting to GOMAXPROCS),
// per §5: "independent functions... may be analyzed in parallel via a
// bounded worker pool". The shared Graph/interners/Detector cache are safe
// for concurrent use (see their own doc comments); ctx is checked once per
// function and only ever stops scheduling new work, never aborts one
// already in flight, matching §5's cancellation model.
func analyzeFunctions(ctx context.Context, a *Analysis, d *Detector, e *DefUseEngine, fns []*ssa.Function, workers int, verbose bool, prog *Progress) []funcResult {
	results := make([]funcResult, len(fns))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, fn := range fns {
		if ctx.Err() != nil {
			prog.Log("context cancelled, stopping at %d/%d functions scheduled", i, len(fns))
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, fn *ssa.Function) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = buildFuncResult(a, d, e, fn, verbose)
		}(i, fn)
	}
	wg.Wait()

	out := results[:0]
	for _, r := range results {
		if r.Fn != nil {
			out = append(out, r)
		}
	}
	return out
}

func buildFuncResult(a *Analysis, d *Detector, e *DefUseEngine, fn *ssa.Function, verbose bool) funcResult {
	var buf bytes.Buffer
	WriteFunctionReport(&buf, a, d, e, fn, verbose)

	pkgPath := ""
	if fn.Pkg != nil {
		pkgPath = modSet.RelPkg(fn.Pkg.Pkg.Path())
	}

	return funcResult{
		Fn:   fn,
		Text: buf.Bytes(),
		Persisted: PersistedFunction{
			Name:    fn.Name(),
			Package: pkgPath,
			Metrics: ComputeMetrics(fn),
			DefUse:  LabeledDefUse(a, e, fn),
			Edges:   CollectPersistedEdges(a, d, fn),
		},
	}
}

// moduleSetFromPackages derives the ModuleSet used by IsLocalCallee/RelPkg
// from whatever packages.Load actually resolved, rather than hard-coding a
// single module path: a pattern can span more than one module (a workspace,
// or a directory with a nested module), so every distinct module among the
// initially-requested packages becomes a known module, primary first.
func moduleSetFromPackages(pkgs []*packages.Package) *ModuleSet {
	seen := make(map[string]bool)
	var infos []ModuleInfo
	for _, pkg := range pkgs {
		if pkg.Module == nil {
			continue
		}
		if seen[pkg.Module.Path] {
			continue
		}
		seen[pkg.Module.Path] = true
		infos = append(infos, ModuleInfo{ModPath: pkg.Module.Path, Dir: pkg.Module.Dir})
	}
	if len(infos) == 0 {
		return NewModuleSet(ModuleInfo{}, nil)
	}
	// The module of the first initially-loaded package is primary (unprefixed
	// package paths); any other module swept in by the pattern gets its last
	// path element as a display prefix, the way module_set.go always has.
	primary := infos[0]
	primary.Prefix = ""
	extras := make([]ModuleInfo, 0, len(infos)-1)
	for _, m := range infos[1:] {
		m.Prefix = lastPathElement(m.ModPath)
		extras = append(extras, m)
	}
	return NewModuleSet(primary, extras)
}

func lastPathElement(p string) string {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

func persistResults(cfg Config, results []funcResult, prog *Progress) error {
	conn, err := OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	funcs := make([]PersistedFunction, len(results))
	for i, r := range results {
		funcs[i] = r.Persisted
	}

	runID, err := WriteRun(conn, cfg.Pattern, cfg.FuncFilter, funcs, prog)
	if err != nil {
		return fmt.Errorf("writing run: %w", err)
	}
	prog.Log("Wrote run %s to %s", runID, cfg.DBPath)
	ReportDBSize(cfg.DBPath, prog)
	return nil
}

// jsonFunctionReport is the JSON rendering of one function's results, the
// convenience surface §6 describes on top of the required text formatter.
type jsonFunctionReport struct {
	Name    string                  `json:"name"`
	Package string                  `json:"package"`
	DefUse  map[string][][2]string  `json:"def_use"`
}

func writeJSONReport(w *os.File, results []funcResult) error {
	out := make([]jsonFunctionReport, 0, len(results))
	for _, r := range results {
		defUse := make(map[string][][2]string, len(r.Persisted.DefUse))
		for name, pairs := range r.Persisted.DefUse {
			labels := make([]DefUseLabel, 0, len(pairs))
			for k := range pairs {
				labels = append(labels, k)
			}
			sort.Slice(labels, func(i, j int) bool {
				if labels[i].Def != labels[j].Def {
					return labels[i].Def < labels[j].Def
				}
				return labels[i].Use < labels[j].Use
			})
			pairsOut := make([][2]string, len(labels))
			for i, l := range labels {
				pairsOut[i] = [2]string{l.Def, l.Use}
			}
			defUse[name] = pairsOut
		}
		out = append(out, jsonFunctionReport{Name: r.Persisted.Name, Package: r.Persisted.Package, DefUse: defUse})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
