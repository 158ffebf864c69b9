// Package factstest builds fact databases for tests.
package factstest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/stretchr/testify/require"
)

// DB is a fact database under t.TempDir with insert helpers. Every helper
// fails the test on error.
type DB struct {
	t     testing.TB
	Path  string
	Store *facts.Store
}

func New(t testing.TB) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facts.db")
	s, err := facts.Open(context.Background(), path, facts.Options{Create: true})
	require.NoError(t, err)
	s.Quiet()
	t.Cleanup(func() { _ = s.Close() })
	return &DB{t: t, Path: path, Store: s}
}

func (f *DB) Exec(q string, args ...any) {
	f.t.Helper()
	_, err := f.Store.DB().Exec(q, args...)
	require.NoError(f.t, err)
}

func (f *DB) File(path, lang string) {
	f.t.Helper()
	f.Exec(`INSERT INTO files (path, lang, hash) VALUES (?, ?, ?)`, path, lang, "h-"+path)
}

func (f *DB) Symbol(path, name, kind string, line int) {
	f.t.Helper()
	f.Exec(`INSERT INTO symbols (path, name, type, line, col) VALUES (?, ?, ?, ?, 0)`, path, name, kind, line)
}

// Function registers a function symbol.
func (f *DB) Function(path, name string, line int) {
	f.t.Helper()
	f.Symbol(path, name, "function", line)
}

// Assign records target = expr in fn, read from sources.
func (f *DB) Assign(file string, line int, fn, target, expr string, sources ...string) {
	f.t.Helper()
	f.Exec(`INSERT INTO assignments (file, line, target_var, source_expr, in_function) VALUES (?, ?, ?, ?, ?)`,
		file, line, target, expr, fn)
	for _, s := range sources {
		f.Exec(`INSERT INTO assignment_sources (file, line, target_var, source_var) VALUES (?, ?, ?, ?)`,
			file, line, target, s)
	}
}

// AssignCall records target = expr where expr is the result of calling
// callee.
func (f *DB) AssignCall(file string, line int, fn, target, expr, callee string, sources ...string) {
	f.t.Helper()
	f.Assign(file, line, fn, target, expr, sources...)
	f.Exec(`UPDATE assignments SET source_callee = ? WHERE file = ? AND line = ? AND target_var = ?`,
		callee, file, line, target)
}

// Call records one argument of a call. Identifier args use the expression as
// the variable name.
func (f *DB) Call(file string, line int, caller, callee string, idx int, expr string, kind facts.ArgKind, param string) {
	f.t.Helper()
	f.Exec(`INSERT INTO function_call_args
		(file, line, caller_function, callee_function, argument_index, argument_expr, argument_kind, param_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, file, line, caller, callee, idx, expr, string(kind), param)
}

func (f *DB) Return(file string, line int, fn, expr string, vars ...string) {
	f.t.Helper()
	f.Exec(`INSERT INTO function_returns (file, line, function_name, return_expr) VALUES (?, ?, ?, ?)`,
		file, line, fn, expr)
	for _, v := range vars {
		f.Exec(`INSERT INTO function_return_sources (file, line, function_name, return_var) VALUES (?, ?, ?, ?)`,
			file, line, fn, v)
	}
}

func (f *DB) Import(src, value, resolved string) {
	f.t.Helper()
	f.Exec(`INSERT INTO imports (src, kind, value, resolved_target) VALUES (?, 'import', ?, ?)`, src, value, resolved)
}

func (f *DB) SQL(file string, line int, text, command string, parameterized bool) {
	f.t.Helper()
	f.Exec(`INSERT INTO sql_queries (file, line, query_text, command, is_parameterized) VALUES (?, ?, ?, ?, ?)`,
		file, line, text, command, parameterized)
}

func (f *DB) OrmQuery(file string, line int, model, queryType, target string) {
	f.t.Helper()
	f.Exec(`INSERT INTO orm_queries (file, line, model, query_type, target_var) VALUES (?, ?, ?, ?, ?)`,
		file, line, model, queryType, target)
}

func (f *DB) Block(id int, file, fn, blockType string, start, end int) {
	f.t.Helper()
	f.Exec(`INSERT INTO cfg_blocks (id, file, function_name, block_type, start_line, end_line) VALUES (?, ?, ?, ?, ?, ?)`,
		id, file, fn, blockType, start, end)
}

func (f *DB) CfgEdge(file, fn string, from, to int, edgeType string) {
	f.t.Helper()
	f.Exec(`INSERT INTO cfg_edges (file, function_name, source_block_id, target_block_id, edge_type) VALUES (?, ?, ?, ?, ?)`,
		file, fn, from, to, edgeType)
}

func (f *DB) Endpoint(file string, line int, method, pattern, handler, requestParam string) {
	f.t.Helper()
	f.Exec(`INSERT INTO api_endpoints (file, line, method, pattern, handler_function, request_param) VALUES (?, ?, ?, ?, ?, ?)`,
		file, line, method, pattern, handler, requestParam)
}

func (f *DB) Validation(file string, line int, framework, method, variable string, isValidator bool) {
	f.t.Helper()
	f.Exec(`INSERT INTO validation_framework_usage (file, line, framework, method, variable_name, is_validator) VALUES (?, ?, ?, ?, ?, ?)`,
		file, line, framework, method, variable, isValidator)
}

func (f *DB) Model(name, table, file string, line int) {
	f.t.Helper()
	f.Exec(`INSERT INTO orm_models (model_name, table_name, file, line) VALUES (?, ?, ?, ?)`, name, table, file, line)
}

func (f *DB) Association(file string, line int, model, assocType, target, alias, foreignKey string) {
	f.t.Helper()
	f.Exec(`INSERT INTO orm_associations (file, line, model_name, association_type, target_model, alias, foreign_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, file, line, model, assocType, target, alias, foreignKey)
}

func (f *DB) SafeSink(pattern, sinkType string, safe bool) {
	f.t.Helper()
	f.Exec(`INSERT INTO framework_safe_sinks (framework_id, sink_pattern, sink_type, is_safe, reason) VALUES (1, ?, ?, ?, 'framework escapes input')`,
		pattern, sinkType, safe)
}
