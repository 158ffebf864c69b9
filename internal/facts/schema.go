package facts

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/agentic-research/flowgraph/internal/diag"
)

// Tables lists the consumed fact tables and the columns the loaders read.
// Extra columns are ignored; a missing one is a configuration error.
var Tables = map[string][]string{
	"files":                      {"path", "lang", "hash"},
	"symbols":                    {"path", "name", "type", "line", "col"},
	"assignments":                {"file", "line", "target_var", "source_expr", "in_function"},
	"assignment_sources":         {"file", "line", "target_var", "source_var"},
	"function_call_args":         {"file", "line", "caller_function", "callee_function", "argument_index", "argument_expr", "argument_kind", "param_name"},
	"function_returns":           {"file", "line", "function_name", "return_expr"},
	"function_return_sources":    {"file", "line", "function_name", "return_var"},
	"imports":                    {"src", "kind", "value", "resolved_target"},
	"sql_queries":                {"file", "line", "query_text", "command", "is_parameterized"},
	"orm_queries":                {"file", "line", "model", "query_type", "target_var"},
	"cfg_blocks":                 {"id", "file", "function_name", "block_type", "start_line", "end_line"},
	"cfg_edges":                  {"file", "function_name", "source_block_id", "target_block_id", "edge_type"},
	"api_endpoints":              {"file", "line", "method", "pattern", "handler_function", "request_param"},
	"validation_framework_usage": {"file", "line", "framework", "method", "variable_name", "is_validator"},
	"orm_models":                 {"model_name", "table_name", "file", "line"},
	"orm_associations":           {"file", "line", "model_name", "association_type", "target_model", "alias", "foreign_key"},
}

// Optional lists columns read only when present. Older extractors do not
// write them, and their absence is not a configuration error. An optional
// table counts as present only with every listed column.
var Optional = map[string][]string{
	"assignments":          {"source_callee"},
	"framework_safe_sinks": {"framework_id", "sink_pattern", "sink_type", "is_safe", "reason"},
}

// FactSchema is the DDL of the fact tables. The extraction layer owns the
// real database; this exists for fixtures and for bootstrapping empty runs.
const FactSchema = `
CREATE TABLE IF NOT EXISTS files (path TEXT PRIMARY KEY, lang TEXT, hash TEXT);
CREATE TABLE IF NOT EXISTS symbols (path TEXT, name TEXT, type TEXT, line INTEGER, col INTEGER);
CREATE TABLE IF NOT EXISTS assignments (file TEXT, line INTEGER, target_var TEXT, source_expr TEXT, in_function TEXT,
	source_callee TEXT);
CREATE TABLE IF NOT EXISTS assignment_sources (file TEXT, line INTEGER, target_var TEXT, source_var TEXT);
CREATE TABLE IF NOT EXISTS function_call_args (file TEXT, line INTEGER, caller_function TEXT, callee_function TEXT,
	argument_index INTEGER, argument_expr TEXT, argument_kind TEXT, param_name TEXT);
CREATE TABLE IF NOT EXISTS function_returns (file TEXT, line INTEGER, function_name TEXT, return_expr TEXT);
CREATE TABLE IF NOT EXISTS function_return_sources (file TEXT, line INTEGER, function_name TEXT, return_var TEXT);
CREATE TABLE IF NOT EXISTS imports (src TEXT, kind TEXT, value TEXT, resolved_target TEXT);
CREATE TABLE IF NOT EXISTS sql_queries (file TEXT, line INTEGER, query_text TEXT, command TEXT, is_parameterized INTEGER);
CREATE TABLE IF NOT EXISTS orm_queries (file TEXT, line INTEGER, model TEXT, query_type TEXT, target_var TEXT);
CREATE TABLE IF NOT EXISTS cfg_blocks (id INTEGER, file TEXT, function_name TEXT, block_type TEXT, start_line INTEGER, end_line INTEGER);
CREATE TABLE IF NOT EXISTS cfg_edges (file TEXT, function_name TEXT, source_block_id INTEGER, target_block_id INTEGER, edge_type TEXT);
CREATE TABLE IF NOT EXISTS api_endpoints (file TEXT, line INTEGER, method TEXT, pattern TEXT, handler_function TEXT, request_param TEXT);
CREATE TABLE IF NOT EXISTS validation_framework_usage (file TEXT, line INTEGER, framework TEXT, method TEXT, variable_name TEXT, is_validator INTEGER);
CREATE TABLE IF NOT EXISTS orm_models (model_name TEXT, table_name TEXT, file TEXT, line INTEGER);
CREATE TABLE IF NOT EXISTS orm_associations (file TEXT, line INTEGER, model_name TEXT, association_type TEXT, target_model TEXT, alias TEXT, foreign_key TEXT);
CREATE TABLE IF NOT EXISTS framework_safe_sinks (framework_id INTEGER, sink_pattern TEXT, sink_type TEXT, is_safe INTEGER, reason TEXT);
`

// CreateSchema creates any missing fact tables.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, FactSchema); err != nil {
		return fmt.Errorf("create fact schema: %w", err)
	}
	return nil
}

// ValidateSchema checks that every consumed table and column exists. It
// reports the first missing element in table-name order.
func ValidateSchema(ctx context.Context, db *sql.DB) error {
	names := make([]string, 0, len(Tables))
	for name := range Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, table := range names {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			return &diag.ConfigurationError{Element: "table " + table}
		}
		for _, c := range Tables[table] {
			if _, ok := cols[c]; !ok {
				return &diag.ConfigurationError{Element: "column " + table + "." + c}
			}
		}
	}
	return nil
}

// features records which optional columns the database carries.
type features struct {
	sourceCallee bool
	safeSinks    bool
}

func detectOptional(ctx context.Context, db *sql.DB) (features, error) {
	var f features
	has := func(table string) (bool, error) {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return false, err
		}
		for _, c := range Optional[table] {
			if _, ok := cols[c]; !ok {
				return false, nil
			}
		}
		return true, nil
	}
	var err error
	if f.sourceCallee, err = has("assignments"); err != nil {
		return f, err
	}
	if f.safeSinks, err = has("framework_safe_sinks"); err != nil {
		return f, err
	}
	return f, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	// PRAGMA arguments cannot be bound; table names come from Tables and
	// Optional only.
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}
