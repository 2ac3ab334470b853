package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// PersistedEdge is one row of a function's start/present/end set, flattened
// for storage: set is "start", "present", or "end".
type PersistedEdge struct {
	Set       string
	FromBlock string
	ToBlock   string
	CallStack string
	Resolution string
}

// DefUseLabel is a (def-block, use-block) pair already rendered to the same
// block-label strings the text formatter prints, so the SQLite rows and the
// text report agree on identifiers (a raw NodeID is only valid for the
// lifetime of the arena that minted it, so it is never what gets persisted).
type DefUseLabel struct {
	Def string
	Use string
}

// PersistedFunction is everything one function contributes to a run.
type PersistedFunction struct {
	Name    string
	Package string
	Metrics FunctionMetrics
	DefUse  map[string]map[DefUseLabel]struct{}
	Edges   []PersistedEdge
}

const dbBatchSize = 5000

// OpenDB creates (overwriting) a SQLite database file for one analysis run,
// matching the teacher's own pragma choices for a bulk-write workload.
func OpenDB(path string) (*sqlite.Conn, error) {
	_ = os.Remove(path)

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -64000",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := createTables(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func createTables(conn *sqlite.Conn) error {
	ddl := `
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    pattern TEXT NOT NULL,
    func_filter TEXT
);

CREATE TABLE functions (
    run_id TEXT NOT NULL,
    name TEXT NOT NULL,
    package TEXT NOT NULL,
    complexity INTEGER,
    blocks INTEGER,
    instructions INTEGER,
    num_params INTEGER,
    PRIMARY KEY (run_id, name)
);

CREATE TABLE def_use_pairs (
    run_id TEXT NOT NULL,
    func_name TEXT NOT NULL,
    var_name TEXT NOT NULL,
    def_block TEXT NOT NULL,
    use_block TEXT NOT NULL
);

CREATE TABLE edge_resolutions (
    run_id TEXT NOT NULL,
    func_name TEXT NOT NULL,
    set_kind TEXT NOT NULL,
    from_block TEXT NOT NULL,
    to_block TEXT NOT NULL,
    call_stack TEXT,
    resolution TEXT NOT NULL
);
`
	if err := sqlitex.ExecuteScript(conn, ddl, nil); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// WriteRun persists one analysis run: a fresh UUID run id, the pattern that
// was loaded, and every function's metrics, def-use pairs, and edge sets.
func WriteRun(conn *sqlite.Conn, pattern, funcFilter string, funcs []PersistedFunction, prog *Progress) (runID string, err error) {
	id := uuid.NewString()
	started := time.Now().UTC().Format(time.RFC3339)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn,
		`INSERT INTO runs (id, started_at, pattern, func_filter) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []interface{}{id, started, pattern, funcFilter}}); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if err = insertFunctions(conn, id, funcs); err != nil {
		return "", err
	}
	if err = insertDefUse(conn, id, funcs, prog); err != nil {
		return "", err
	}
	if err = insertEdges(conn, id, funcs, prog); err != nil {
		return "", err
	}

	return id, nil
}

func insertFunctions(conn *sqlite.Conn, runID string, funcs []PersistedFunction) error {
	stmt, err := conn.Prepare(`INSERT INTO functions (run_id, name, package, complexity, blocks, instructions, num_params) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare function insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for _, f := range funcs {
		stmt.BindText(1, runID)
		stmt.BindText(2, f.Name)
		stmt.BindText(3, f.Package)
		stmt.BindInt64(4, int64(f.Metrics.CyclomaticComplexity))
		stmt.BindInt64(5, int64(f.Metrics.Blocks))
		stmt.BindInt64(6, int64(f.Metrics.Instructions))
		stmt.BindInt64(7, int64(f.Metrics.NumParams))
		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert function %s: %w", f.Name, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

func insertDefUse(conn *sqlite.Conn, runID string, funcs []PersistedFunction, prog *Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO def_use_pairs (run_id, func_name, var_name, def_block, use_block) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare def-use insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	count := 0
	for _, f := range funcs {
		for name, pairs := range f.DefUse {
			for k := range pairs {
				stmt.BindText(1, runID)
				stmt.BindText(2, f.Name)
				stmt.BindText(3, name)
				stmt.BindText(4, k.Def)
				stmt.BindText(5, k.Use)
				if _, err := stmt.Step(); err != nil {
					return fmt.Errorf("insert def-use (%s, %s): %w", f.Name, name, err)
				}
				_ = stmt.Reset()
				count++
				if count%dbBatchSize == 0 && prog != nil {
					prog.Verbose("wrote %d def-use pairs", count)
				}
			}
		}
	}
	return nil
}

func insertEdges(conn *sqlite.Conn, runID string, funcs []PersistedFunction, prog *Progress) error {
	stmt, err := conn.Prepare(`INSERT INTO edge_resolutions (run_id, func_name, set_kind, from_block, to_block, call_stack, resolution) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	count := 0
	for _, f := range funcs {
		for _, e := range f.Edges {
			stmt.BindText(1, runID)
			stmt.BindText(2, f.Name)
			stmt.BindText(3, e.Set)
			stmt.BindText(4, e.FromBlock)
			stmt.BindText(5, e.ToBlock)
			stmt.BindText(6, e.CallStack)
			stmt.BindText(7, e.Resolution)
			if _, err := stmt.Step(); err != nil {
				return fmt.Errorf("insert edge (%s): %w", f.Name, err)
			}
			_ = stmt.Reset()
			count++
			if count%dbBatchSize == 0 && prog != nil {
				prog.Verbose("wrote %d edge resolutions", count)
			}
		}
	}
	return nil
}

// ReportDBSize logs the on-disk database size in human-readable form, the
// way the teacher's own tooling summarizes a write.
func ReportDBSize(path string, prog *Progress) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	prog.Log("database %s: %s", path, humanize.Bytes(uint64(info.Size())))
}
