package facts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentic-research/flowgraph/internal/diag"
)

// Loaders issue one query per table. Per-file loaders take optional raw file
// values: none loads the whole table, which is what the cache does at
// startup; some is the on-demand refill after eviction. Each per-file table
// also has a Stream variant that hands rows to a callback instead of
// building a slice.
//
// Every loader orders its rows so repeated loads are identical.

func stream[T any](ctx context.Context, db *sql.DB, table, q string, args []any, scan func(*sql.Rows) (T, bool, error), yield func(T) error) error {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		v, ok, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if !ok {
			continue
		}
		if err := yield(v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

func collect[T any](ctx context.Context, db *sql.DB, table, q string, args []any, scan func(*sql.Rows) (T, bool, error)) ([]T, error) {
	return gather(func(yield func(T) error) error {
		return stream(ctx, db, table, q, args, scan, yield)
	})
}

// gather drains a streaming loader into a slice.
func gather[T any](run func(yield func(T) error) error) ([]T, error) {
	var out []T
	err := run(func(v T) error {
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fileFilter restricts a query to the given raw path values. Empty values
// are ignored; no values means the whole table.
func fileFilter(col string, files []string) (string, []any) {
	var args []any
	for _, f := range files {
		if f != "" {
			args = append(args, f)
		}
	}
	if len(args) == 0 {
		return "", nil
	}
	return " WHERE " + col + " IN (?" + strings.Repeat(", ?", len(args)-1) + ")", args
}

func (s *Store) LoadFiles(ctx context.Context, d *diag.Diagnostics) ([]File, error) {
	q := `SELECT path, COALESCE(lang, ''), COALESCE(hash, '') FROM files ORDER BY path`
	return collect(ctx, s.db, "files", q, nil, func(r *sql.Rows) (File, bool, error) {
		var f File
		if err := r.Scan(&f.Path, &f.Lang, &f.Hash); err != nil {
			return f, false, err
		}
		p, ok := s.canon(d, "files", "path", f.Path)
		f.Path = p
		return f, ok, nil
	})
}

func (s *Store) LoadSymbols(ctx context.Context, d *diag.Diagnostics, files ...string) ([]Symbol, error) {
	return gather(func(yield func(Symbol) error) error { return s.StreamSymbols(ctx, d, yield, files...) })
}

func (s *Store) StreamSymbols(ctx context.Context, d *diag.Diagnostics, yield func(Symbol) error, files ...string) error {
	where, args := fileFilter("path", files)
	q := `SELECT path, name, COALESCE(type, ''), COALESCE(line, 0), COALESCE(col, 0) FROM symbols` +
		where + ` ORDER BY path, line, col, name`
	return stream(ctx, s.db, "symbols", q, args, func(r *sql.Rows) (Symbol, bool, error) {
		var sym Symbol
		if err := r.Scan(&sym.File, &sym.Name, &sym.Kind, &sym.Line, &sym.Col); err != nil {
			return sym, false, err
		}
		p, ok := s.canon(d, "symbols", "path", sym.File)
		sym.File = p
		return sym, ok, nil
	}, yield)
}

// LoadAssignments joins assignment_sources onto assignments so each
// Assignment carries its right-hand-side variables.
func (s *Store) LoadAssignments(ctx context.Context, d *diag.Diagnostics, files ...string) ([]Assignment, error) {
	return gather(func(yield func(Assignment) error) error { return s.StreamAssignments(ctx, d, yield, files...) })
}

func (s *Store) StreamAssignments(ctx context.Context, d *diag.Diagnostics, yield func(Assignment) error, files ...string) error {
	where, args := fileFilter("a.file", files)
	callee := `''`
	if s.has.sourceCallee {
		callee = `COALESCE(a.source_callee, '')`
	}
	q := `SELECT a.file, a.line, a.target_var, COALESCE(a.source_expr, ''), COALESCE(a.in_function, ''), ` + callee + `,
		COALESCE(s.source_var, '')
		FROM assignments a
		LEFT JOIN assignment_sources s
		  ON s.file = a.file AND s.line = a.line AND s.target_var = a.target_var` +
		where + ` ORDER BY a.file, a.line, a.target_var, s.source_var`

	type row struct {
		a   Assignment
		src string
	}
	var cur *Assignment
	err := stream(ctx, s.db, "assignments", q, args, func(r *sql.Rows) (row, bool, error) {
		var x row
		if err := r.Scan(&x.a.File, &x.a.Line, &x.a.TargetVar, &x.a.SourceExpr, &x.a.Function, &x.a.SourceCallee, &x.src); err != nil {
			return x, false, err
		}
		p, ok := s.canon(d, "assignments", "file", x.a.File)
		x.a.File = p
		x.a.Function = Scope(x.a.Function)
		return x, ok, nil
	}, func(x row) error {
		if cur != nil && cur.File == x.a.File && cur.Line == x.a.Line && cur.TargetVar == x.a.TargetVar {
			cur.SourceVars = appendDistinct(cur.SourceVars, x.src)
			return nil
		}
		if cur != nil {
			if err := yield(*cur); err != nil {
				return err
			}
		}
		a := x.a
		a.SourceVars = appendDistinct(nil, x.src)
		cur = &a
		return nil
	})
	if err != nil || cur == nil {
		return err
	}
	return yield(*cur)
}

func (s *Store) LoadCalls(ctx context.Context, d *diag.Diagnostics, files ...string) ([]CallArg, error) {
	return gather(func(yield func(CallArg) error) error { return s.StreamCalls(ctx, d, yield, files...) })
}

func (s *Store) StreamCalls(ctx context.Context, d *diag.Diagnostics, yield func(CallArg) error, files ...string) error {
	where, args := fileFilter("file", files)
	q := `SELECT file, line, COALESCE(caller_function, ''), callee_function, COALESCE(argument_index, 0),
		COALESCE(argument_expr, ''), COALESCE(argument_kind, ''), COALESCE(param_name, '')
		FROM function_call_args` + where + ` ORDER BY file, line, callee_function, argument_index`
	return stream(ctx, s.db, "function_call_args", q, args, func(r *sql.Rows) (CallArg, bool, error) {
		var c CallArg
		var kind string
		if err := r.Scan(&c.File, &c.Line, &c.Caller, &c.Callee, &c.ArgIndex, &c.ArgExpr, &kind, &c.ParamName); err != nil {
			return c, false, err
		}
		c.ArgKind = ArgKind(kind)
		c.Caller = Scope(c.Caller)
		p, ok := s.canon(d, "function_call_args", "file", c.File)
		c.File = p
		return c, ok, nil
	}, yield)
}

func (s *Store) LoadReturns(ctx context.Context, d *diag.Diagnostics, files ...string) ([]Return, error) {
	return gather(func(yield func(Return) error) error { return s.StreamReturns(ctx, d, yield, files...) })
}

func (s *Store) StreamReturns(ctx context.Context, d *diag.Diagnostics, yield func(Return) error, files ...string) error {
	where, args := fileFilter("r.file", files)
	q := `SELECT r.file, r.line, r.function_name, COALESCE(r.return_expr, ''), COALESCE(s.return_var, '')
		FROM function_returns r
		LEFT JOIN function_return_sources s
		  ON s.file = r.file AND s.line = r.line AND s.function_name = r.function_name` +
		where + ` ORDER BY r.file, r.line, r.function_name, s.return_var`

	type row struct {
		r   Return
		src string
	}
	var cur *Return
	err := stream(ctx, s.db, "function_returns", q, args, func(r *sql.Rows) (row, bool, error) {
		var x row
		if err := r.Scan(&x.r.File, &x.r.Line, &x.r.Function, &x.r.ReturnExpr, &x.src); err != nil {
			return x, false, err
		}
		p, ok := s.canon(d, "function_returns", "file", x.r.File)
		x.r.File = p
		return x, ok, nil
	}, func(x row) error {
		if cur != nil && cur.File == x.r.File && cur.Line == x.r.Line && cur.Function == x.r.Function {
			cur.ReturnVars = appendDistinct(cur.ReturnVars, x.src)
			return nil
		}
		if cur != nil {
			if err := yield(*cur); err != nil {
				return err
			}
		}
		ret := x.r
		ret.ReturnVars = appendDistinct(nil, x.src)
		cur = &ret
		return nil
	})
	if err != nil || cur == nil {
		return err
	}
	return yield(*cur)
}

// LoadImports rejects records whose source or resolved target is not a
// canonical path. An empty resolved target is an external import.
func (s *Store) LoadImports(ctx context.Context, d *diag.Diagnostics, files ...string) ([]Import, error) {
	return gather(func(yield func(Import) error) error { return s.StreamImports(ctx, d, yield, files...) })
}

func (s *Store) StreamImports(ctx context.Context, d *diag.Diagnostics, yield func(Import) error, files ...string) error {
	where, args := fileFilter("src", files)
	q := `SELECT src, COALESCE(kind, ''), COALESCE(value, ''), COALESCE(resolved_target, '') FROM imports` +
		where + ` ORDER BY src, value, resolved_target`
	return stream(ctx, s.db, "imports", q, args, func(r *sql.Rows) (Import, bool, error) {
		var im Import
		if err := r.Scan(&im.File, &im.Kind, &im.Value, &im.ResolvedTarget); err != nil {
			return im, false, err
		}
		p, ok := s.canon(d, "imports", "src", im.File)
		if !ok {
			return im, false, nil
		}
		im.File = p
		if im.ResolvedTarget != "" {
			t, ok := s.canon(d, "imports", "resolved_target", im.ResolvedTarget)
			if !ok {
				return im, false, nil
			}
			im.ResolvedTarget = t
		}
		return im, true, nil
	}, yield)
}

func (s *Store) LoadSQL(ctx context.Context, d *diag.Diagnostics, files ...string) ([]SQLQuery, error) {
	return gather(func(yield func(SQLQuery) error) error { return s.StreamSQL(ctx, d, yield, files...) })
}

func (s *Store) StreamSQL(ctx context.Context, d *diag.Diagnostics, yield func(SQLQuery) error, files ...string) error {
	where, args := fileFilter("file", files)
	q := `SELECT file, line, COALESCE(query_text, ''), COALESCE(command, ''), COALESCE(is_parameterized, 0)
		FROM sql_queries` + where + ` ORDER BY file, line`
	return stream(ctx, s.db, "sql_queries", q, args, func(r *sql.Rows) (SQLQuery, bool, error) {
		var sq SQLQuery
		if err := r.Scan(&sq.File, &sq.Line, &sq.QueryText, &sq.Command, &sq.Parameterized); err != nil {
			return sq, false, err
		}
		p, ok := s.canon(d, "sql_queries", "file", sq.File)
		sq.File = p
		return sq, ok, nil
	}, yield)
}

func (s *Store) LoadOrmQueries(ctx context.Context, d *diag.Diagnostics, files ...string) ([]OrmQuery, error) {
	return gather(func(yield func(OrmQuery) error) error { return s.StreamOrmQueries(ctx, d, yield, files...) })
}

func (s *Store) StreamOrmQueries(ctx context.Context, d *diag.Diagnostics, yield func(OrmQuery) error, files ...string) error {
	where, args := fileFilter("file", files)
	q := `SELECT file, line, model, COALESCE(query_type, ''), COALESCE(target_var, '')
		FROM orm_queries` + where + ` ORDER BY file, line, model`
	return stream(ctx, s.db, "orm_queries", q, args, func(r *sql.Rows) (OrmQuery, bool, error) {
		var oq OrmQuery
		if err := r.Scan(&oq.File, &oq.Line, &oq.Model, &oq.QueryType, &oq.TargetVar); err != nil {
			return oq, false, err
		}
		p, ok := s.canon(d, "orm_queries", "file", oq.File)
		oq.File = p
		return oq, ok, nil
	}, yield)
}

func (s *Store) LoadCfgBlocks(ctx context.Context, d *diag.Diagnostics, files ...string) ([]CfgBlock, error) {
	return gather(func(yield func(CfgBlock) error) error { return s.StreamCfgBlocks(ctx, d, yield, files...) })
}

func (s *Store) StreamCfgBlocks(ctx context.Context, d *diag.Diagnostics, yield func(CfgBlock) error, files ...string) error {
	where, args := fileFilter("file", files)
	q := `SELECT id, file, COALESCE(function_name, ''), COALESCE(block_type, ''), COALESCE(start_line, 0), COALESCE(end_line, 0)
		FROM cfg_blocks` + where + ` ORDER BY file, function_name, start_line, id`
	return stream(ctx, s.db, "cfg_blocks", q, args, func(r *sql.Rows) (CfgBlock, bool, error) {
		var b CfgBlock
		if err := r.Scan(&b.ID, &b.File, &b.Function, &b.BlockType, &b.StartLine, &b.EndLine); err != nil {
			return b, false, err
		}
		b.Function = Scope(b.Function)
		p, ok := s.canon(d, "cfg_blocks", "file", b.File)
		b.File = p
		return b, ok, nil
	}, yield)
}

func (s *Store) LoadCfgEdges(ctx context.Context, d *diag.Diagnostics, files ...string) ([]CfgEdge, error) {
	return gather(func(yield func(CfgEdge) error) error { return s.StreamCfgEdges(ctx, d, yield, files...) })
}

func (s *Store) StreamCfgEdges(ctx context.Context, d *diag.Diagnostics, yield func(CfgEdge) error, files ...string) error {
	where, args := fileFilter("file", files)
	q := `SELECT file, COALESCE(function_name, ''), source_block_id, target_block_id, COALESCE(edge_type, '')
		FROM cfg_edges` + where + ` ORDER BY file, function_name, source_block_id, target_block_id`
	return stream(ctx, s.db, "cfg_edges", q, args, func(r *sql.Rows) (CfgEdge, bool, error) {
		var e CfgEdge
		if err := r.Scan(&e.File, &e.Function, &e.Source, &e.Target, &e.EdgeType); err != nil {
			return e, false, err
		}
		e.Function = Scope(e.Function)
		p, ok := s.canon(d, "cfg_edges", "file", e.File)
		e.File = p
		return e, ok, nil
	}, yield)
}

func (s *Store) LoadEndpoints(ctx context.Context, d *diag.Diagnostics) ([]Endpoint, error) {
	q := `SELECT file, line, COALESCE(method, ''), COALESCE(pattern, ''), COALESCE(handler_function, ''), COALESCE(request_param, '')
		FROM api_endpoints ORDER BY file, line, method, pattern`
	return collect(ctx, s.db, "api_endpoints", q, nil, func(r *sql.Rows) (Endpoint, bool, error) {
		var ep Endpoint
		if err := r.Scan(&ep.File, &ep.Line, &ep.Method, &ep.Pattern, &ep.Handler, &ep.RequestParam); err != nil {
			return ep, false, err
		}
		p, ok := s.canon(d, "api_endpoints", "file", ep.File)
		ep.File = p
		return ep, ok, nil
	})
}

func (s *Store) LoadValidation(ctx context.Context, d *diag.Diagnostics) ([]ValidationUsage, error) {
	q := `SELECT file, line, COALESCE(framework, ''), COALESCE(method, ''), COALESCE(variable_name, ''), COALESCE(is_validator, 0)
		FROM validation_framework_usage ORDER BY file, line, framework, method`
	return collect(ctx, s.db, "validation_framework_usage", q, nil, func(r *sql.Rows) (ValidationUsage, bool, error) {
		var v ValidationUsage
		if err := r.Scan(&v.File, &v.Line, &v.Framework, &v.Method, &v.Variable, &v.IsValidator); err != nil {
			return v, false, err
		}
		p, ok := s.canon(d, "validation_framework_usage", "file", v.File)
		v.File = p
		return v, ok, nil
	})
}

func (s *Store) LoadOrmModels(ctx context.Context, d *diag.Diagnostics) ([]OrmModel, error) {
	q := `SELECT model_name, COALESCE(table_name, ''), file, COALESCE(line, 0) FROM orm_models ORDER BY model_name, file`
	return collect(ctx, s.db, "orm_models", q, nil, func(r *sql.Rows) (OrmModel, bool, error) {
		var m OrmModel
		if err := r.Scan(&m.Name, &m.Table, &m.File, &m.Line); err != nil {
			return m, false, err
		}
		p, ok := s.canon(d, "orm_models", "file", m.File)
		m.File = p
		return m, ok, nil
	})
}

func (s *Store) LoadAssociations(ctx context.Context, d *diag.Diagnostics) ([]OrmAssociation, error) {
	q := `SELECT file, line, model_name, COALESCE(association_type, ''), COALESCE(target_model, ''), COALESCE(alias, ''), COALESCE(foreign_key, '')
		FROM orm_associations ORDER BY model_name, alias, file, line`
	return collect(ctx, s.db, "orm_associations", q, nil, func(r *sql.Rows) (OrmAssociation, bool, error) {
		var a OrmAssociation
		if err := r.Scan(&a.File, &a.Line, &a.Model, &a.Type, &a.Target, &a.Alias, &a.ForeignKey); err != nil {
			return a, false, err
		}
		p, ok := s.canon(d, "orm_associations", "file", a.File)
		a.File = p
		return a, ok, nil
	})
}

// LoadFile loads every per-file table for one canonical file, matching every
// raw spelling of it the store has seen.
func (s *Store) LoadFile(ctx context.Context, d *diag.Diagnostics, file string) (*FileFacts, error) {
	if file == "" {
		return nil, fmt.Errorf("load file: empty path")
	}
	raw := s.Spellings(file)
	ff := &FileFacts{File: file}
	var err error
	if ff.Symbols, err = s.LoadSymbols(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.Assignments, err = s.LoadAssignments(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.Calls, err = s.LoadCalls(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.Returns, err = s.LoadReturns(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.Imports, err = s.LoadImports(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.SQL, err = s.LoadSQL(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.OrmQueries, err = s.LoadOrmQueries(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.CfgBlocks, err = s.LoadCfgBlocks(ctx, d, raw...); err != nil {
		return nil, err
	}
	if ff.CfgEdges, err = s.LoadCfgEdges(ctx, d, raw...); err != nil {
		return nil, err
	}
	return ff, nil
}

// LoadSafeSinks returns the framework sink patterns marked safe. Databases
// without a framework_safe_sinks table yield none.
func (s *Store) LoadSafeSinks(ctx context.Context) ([]SafeSink, error) {
	if !s.has.safeSinks {
		return nil, nil
	}
	q := `SELECT COALESCE(framework_id, 0), sink_pattern, COALESCE(sink_type, ''), COALESCE(is_safe, 0), COALESCE(reason, '')
		FROM framework_safe_sinks WHERE sink_pattern IS NOT NULL ORDER BY sink_pattern, framework_id`
	return collect(ctx, s.db, "framework_safe_sinks", q, nil, func(r *sql.Rows) (SafeSink, bool, error) {
		var ss SafeSink
		if err := r.Scan(&ss.FrameworkID, &ss.Pattern, &ss.Type, &ss.Safe, &ss.Reason); err != nil {
			return ss, false, err
		}
		return ss, ss.Pattern != "", nil
	})
}

func appendDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
