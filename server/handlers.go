package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// resolveRunID takes the {run} path param as given, except for the literal
// "latest", which is resolved to the most recently started run.
func (a *App) resolveRunID(r *http.Request) (string, error) {
	runID := chi.URLParam(r, "run")
	if runID != "latest" {
		return runID, nil
	}
	return a.db.LatestRunID()
}

func (a *App) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.db.Runs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (a *App) handleRun(w http.ResponseWriter, r *http.Request) {
	runID, err := a.resolveRunID(r)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	run, err := a.db.RunByID(runID)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	writeJSON(w, run)
}

func (a *App) handleFunctions(w http.ResponseWriter, r *http.Request) {
	runID, err := a.resolveRunID(r)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	pkg := r.URL.Query().Get("package")
	funcs, err := a.db.Functions(runID, pkg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, funcs)
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	runID, err := a.resolveRunID(r)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	funcs, err := a.db.SearchFunctions(runID, q, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, funcs)
}

func (a *App) handleDefUse(w http.ResponseWriter, r *http.Request) {
	runID, err := a.resolveRunID(r)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	funcName := chi.URLParam(r, "func")
	pairs, err := a.db.DefUse(runID, funcName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, pairs)
}

func (a *App) handleEdges(w http.ResponseWriter, r *http.Request) {
	runID, err := a.resolveRunID(r)
	if err != nil {
		a.writeRunLookupError(w, err)
		return
	}
	funcName := chi.URLParam(r, "func")
	setKind := r.URL.Query().Get("set")
	edges, err := a.db.Edges(runID, funcName, setKind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, edges)
}

func (a *App) writeRunLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
