package main

import "fmt"

// LatestRunID returns the most recently started run, for callers that want
// "the current results" without naming a run id.
func (db *DB) LatestRunID() (string, error) {
	var id string
	err := db.QueryRow(queryLatestRunID).Scan(&id)
	return id, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 || limit > maxFunctionListLimit {
		limit = 50
	}
	rows, err := db.Query(queryRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Pattern, &r.FuncFilter); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunByID fetches one run's metadata, or sql.ErrNoRows if runID is unknown.
func (db *DB) RunByID(runID string) (Run, error) {
	var r Run
	err := db.QueryRow(queryRunByID, runID).Scan(&r.ID, &r.StartedAt, &r.Pattern, &r.FuncFilter)
	return r, err
}

// Functions returns every function persisted for runID, optionally narrowed
// to one package (exact match or LIKE substring).
func (db *DB) Functions(runID, pkg string) ([]FunctionSummary, error) {
	like := ""
	if pkg != "" {
		like = "%" + pkg + "%"
	}
	rows, err := db.Query(queryFunctionsForRun, runID, pkg, pkg, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []FunctionSummary{}
	for rows.Next() {
		var f FunctionSummary
		if err := rows.Scan(&f.Name, &f.Package, &f.Complexity, &f.Blocks, &f.Instructions, &f.NumParams); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SearchFunctions returns functions in runID whose name contains pattern.
func (db *DB) SearchFunctions(runID, pattern string, limit int) ([]FunctionSummary, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	rows, err := db.Query(querySearchFunctions, runID, "%"+pattern+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []FunctionSummary{}
	for rows.Next() {
		var f FunctionSummary
		if err := rows.Scan(&f.Name, &f.Package, &f.Complexity, &f.Blocks, &f.Instructions, &f.NumParams); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DefUse returns every (var, defBlock, useBlock) tuple for one function.
func (db *DB) DefUse(runID, funcName string) ([]DefUsePair, error) {
	rows, err := db.Query(queryDefUseForFunction, runID, funcName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DefUsePair{}
	for rows.Next() {
		var p DefUsePair
		if err := rows.Scan(&p.VarName, &p.DefBlock, &p.UseBlock); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Edges returns one function's edge resolutions, optionally narrowed to a
// single set ("start", "present", or "end"); an empty setKind returns all
// three.
func (db *DB) Edges(runID, funcName, setKind string) ([]EdgeResolution, error) {
	if setKind != "" && setKind != "start" && setKind != "present" && setKind != "end" {
		return nil, fmt.Errorf("unknown set %q: want start, present, or end", setKind)
	}
	rows, err := db.Query(queryEdgesForFunction, runID, funcName, setKind, setKind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []EdgeResolution{}
	for rows.Next() {
		var e EdgeResolution
		if err := rows.Scan(&e.Set, &e.FromBlock, &e.ToBlock, &e.CallStack, &e.Resolution); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
