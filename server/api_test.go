package main

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "modernc.org/sqlite"
)

const testRunID = "run-1"

// setupTestDB creates an in-memory SQLite DB with the schema the analysis
// driver writes and a handful of rows for one run.
func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
	CREATE TABLE runs (id TEXT PRIMARY KEY, started_at TEXT NOT NULL, pattern TEXT NOT NULL, func_filter TEXT);
	CREATE TABLE functions (run_id TEXT NOT NULL, name TEXT NOT NULL, package TEXT NOT NULL, complexity INTEGER, blocks INTEGER, instructions INTEGER, num_params INTEGER, PRIMARY KEY (run_id, name));
	CREATE TABLE def_use_pairs (run_id TEXT NOT NULL, func_name TEXT NOT NULL, var_name TEXT NOT NULL, def_block TEXT NOT NULL, use_block TEXT NOT NULL);
	CREATE TABLE edge_resolutions (run_id TEXT NOT NULL, func_name TEXT NOT NULL, set_kind TEXT NOT NULL, from_block TEXT NOT NULL, to_block TEXT NOT NULL, call_stack TEXT, resolution TEXT NOT NULL);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}

	_, _ = db.Exec(`INSERT INTO runs VALUES (?, '2026-07-31T00:00:00Z', './...', '')`, testRunID)
	_, _ = db.Exec(`INSERT INTO functions VALUES (?, 'Handler', 'main', 3, 4, 20, 1)`, testRunID)
	_, _ = db.Exec(`INSERT INTO functions VALUES (?, 'helper', 'main/internal', 1, 1, 5, 0)`, testRunID)
	_, _ = db.Exec(`INSERT INTO def_use_pairs VALUES (?, 'Handler', 'x', 'Handler::bb0', 'Handler::bb2')`, testRunID)
	_, _ = db.Exec(`INSERT INTO edge_resolutions VALUES (?, 'Handler', 'start', 'Handler::bb0', 'Handler::bb1', '', 'T')`, testRunID)
	_, _ = db.Exec(`INSERT INTO edge_resolutions VALUES (?, 'Handler', 'end', 'Handler::bb0', 'Handler::bb2', '', 'F')`, testRunID)

	return db
}

func TestAPI_Runs(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/runs: want 200, got %d", rec.Code)
	}
	var runs []Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != testRunID {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func TestAPI_Run_Latest(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/latest/", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/runs/latest/: want 200, got %d", rec.Code)
	}
	var run Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != testRunID {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestAPI_Run_NotFound(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/bogus/", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/runs/bogus/: want 404, got %d", rec.Code)
	}
}

func TestAPI_Functions(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/functions", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET .../functions: want 200, got %d", rec.Code)
	}
	var funcs []FunctionSummary
	if err := json.NewDecoder(rec.Body).Decode(&funcs); err != nil {
		t.Fatalf("decode functions: %v", err)
	}
	if len(funcs) != 2 {
		t.Errorf("expected 2 functions, got %d", len(funcs))
	}
}

func TestAPI_Functions_FilteredByPackage(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/functions?package=main/internal", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET .../functions?package=...: want 200, got %d", rec.Code)
	}
	var funcs []FunctionSummary
	if err := json.NewDecoder(rec.Body).Decode(&funcs); err != nil {
		t.Fatalf("decode functions: %v", err)
	}
	if len(funcs) != 1 || funcs[0].Name != "helper" {
		t.Errorf("unexpected functions: %+v", funcs)
	}
}

func TestAPI_Search_MissingParam(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/search", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET search without q: want 400, got %d", rec.Code)
	}
}

func TestAPI_Search_Success(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/search?q=Hand", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET search?q=Hand: want 200, got %d", rec.Code)
	}
	var funcs []FunctionSummary
	if err := json.NewDecoder(rec.Body).Decode(&funcs); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if len(funcs) != 1 || funcs[0].Name != "Handler" {
		t.Errorf("unexpected search result: %+v", funcs)
	}
}

func TestAPI_DefUse(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/functions/Handler/defuse", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET .../defuse: want 200, got %d", rec.Code)
	}
	var pairs []DefUsePair
	if err := json.NewDecoder(rec.Body).Decode(&pairs); err != nil {
		t.Fatalf("decode defuse: %v", err)
	}
	if len(pairs) != 1 || pairs[0].VarName != "x" {
		t.Errorf("unexpected def-use pairs: %+v", pairs)
	}
}

func TestAPI_Edges_FilteredBySet(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/functions/Handler/edges?set=start", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET .../edges?set=start: want 200, got %d", rec.Code)
	}
	var edges []EdgeResolution
	if err := json.NewDecoder(rec.Body).Decode(&edges); err != nil {
		t.Fatalf("decode edges: %v", err)
	}
	if len(edges) != 1 || edges[0].Set != "start" {
		t.Errorf("unexpected edges: %+v", edges)
	}
}

func TestAPI_Edges_UnknownSet(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+testRunID+"/functions/Handler/edges?set=bogus", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET .../edges?set=bogus: want 400, got %d", rec.Code)
	}
}

func TestAPI_CORS(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("CORS Access-Control-Allow-Origin: want *, got %q", origin)
	}
}

func TestAPI_ContentType(t *testing.T) {
	db := setupTestDB(t)
	app := NewApp(db, "")
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type: want application/json; charset=utf-8, got %q", ct)
	}
}
