package main

import (
	"database/sql"
)

// DB wraps *sql.DB and provides query helpers over one run's persisted
// analysis results.
type DB struct {
	*sql.DB
}

// NewDB returns a DB wrapper.
func NewDB(db *sql.DB) *DB {
	return &DB{DB: db}
}

// Run is one row of the runs table: a single invocation of the analysis
// driver against a package pattern.
type Run struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	Pattern    string `json:"pattern"`
	FuncFilter string `json:"func_filter,omitempty"`
}

// FunctionSummary is one function's metrics as persisted by the driver.
type FunctionSummary struct {
	Name         string `json:"name"`
	Package      string `json:"package"`
	Complexity   int    `json:"complexity"`
	Blocks       int    `json:"blocks"`
	Instructions int    `json:"instructions"`
	NumParams    int    `json:"num_params"`
}

// DefUsePair is one (def-block, use-block) pair for a named variable.
type DefUsePair struct {
	VarName  string `json:"var_name"`
	DefBlock string `json:"def_block"`
	UseBlock string `json:"use_block"`
}

// EdgeResolution is one row of a function's start/present/end set.
type EdgeResolution struct {
	Set        string `json:"set"`
	FromBlock  string `json:"from_block"`
	ToBlock    string `json:"to_block"`
	CallStack  string `json:"call_stack,omitempty"`
	Resolution string `json:"resolution"`
}
