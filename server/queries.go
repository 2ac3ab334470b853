package main

// SQL constants matching the tables the analysis driver (db.go, the other
// module in this repo) creates: runs, functions, def_use_pairs,
// edge_resolutions.

const queryLatestRunID = `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`

const queryRuns = `
SELECT id, started_at, pattern, COALESCE(func_filter, '')
FROM runs
ORDER BY started_at DESC
LIMIT ?
`

const queryRunByID = `
SELECT id, started_at, pattern, COALESCE(func_filter, '')
FROM runs
WHERE id = ?
`

const queryFunctionsForRun = `
SELECT name, package, COALESCE(complexity, 0), COALESCE(blocks, 0), COALESCE(instructions, 0), COALESCE(num_params, 0)
FROM functions
WHERE run_id = ? AND (? = '' OR package = ? OR package LIKE ?)
ORDER BY package, name
`

const querySearchFunctions = `
SELECT name, package, COALESCE(complexity, 0), COALESCE(blocks, 0), COALESCE(instructions, 0), COALESCE(num_params, 0)
FROM functions
WHERE run_id = ? AND name LIKE ?
ORDER BY name
LIMIT ?
`

const queryDefUseForFunction = `
SELECT var_name, def_block, use_block
FROM def_use_pairs
WHERE run_id = ? AND func_name = ?
ORDER BY var_name, def_block, use_block
`

const queryEdgesForFunction = `
SELECT set_kind, from_block, to_block, COALESCE(call_stack, ''), resolution
FROM edge_resolutions
WHERE run_id = ? AND func_name = ? AND (? = '' OR set_kind = ?)
ORDER BY set_kind, from_block, to_block
`

const maxFunctionListLimit = 500
const maxSearchLimit = 100
