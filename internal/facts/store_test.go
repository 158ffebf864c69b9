package facts_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/facts/factstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingTableIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(facts.FactSchema)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE assignments`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = facts.Open(context.Background(), path, facts.Options{})
	var ce *diag.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "table assignments", ce.Element)
	assert.True(t, diag.IsFatal(err))
}

func TestOpen_MissingColumnIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(facts.FactSchema)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE cfg_edges`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE cfg_edges (file TEXT, function_name TEXT, source_block_id INTEGER, target_block_id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = facts.Open(context.Background(), path, facts.Options{})
	var ce *diag.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "column cfg_edges.edge_type", ce.Element)
}

func TestLoadAssignments_GroupsSources(t *testing.T) {
	f := factstest.New(t)
	f.Assign("src/a.ts", 3, "handler", "x", "req.body", "req.body")
	f.Assign("src/a.ts", 4, "handler", "y", "x + z", "x", "z")
	f.Assign("src/a.ts", 9, "", "cfg", "{}")

	d := diag.NewDiagnostics()
	got, err := f.Store.LoadAssignments(context.Background(), d, "")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"req.body"}, got[0].SourceVars)
	assert.Equal(t, []string{"x", "z"}, got[1].SourceVars)
	assert.Empty(t, got[2].SourceVars)
	assert.Equal(t, facts.GlobalScope, got[2].Function)
}

func TestLoaders_SkipNonCanonicalPaths(t *testing.T) {
	f := factstest.New(t)
	f.Assign("src/a.ts", 1, "main", "x", "1")
	f.Assign("/abs/src/b.ts", 1, "main", "y", "2")
	f.Assign(`src\c.ts`, 1, "main", "z", "3")
	f.Import("src/a.ts", "./b", "/abs/src/b.ts")
	f.Import("src/a.ts", "express", "")

	d := diag.NewDiagnostics()
	ctx := context.Background()

	as, err := f.Store.LoadAssignments(ctx, d, "")
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.Equal(t, "x", as[0].TargetVar)

	ims, err := f.Store.LoadImports(ctx, d, "")
	require.NoError(t, err)
	require.Len(t, ims, 1, "absolute resolved target is rejected, external import kept")
	assert.Equal(t, "express", ims[0].Value)

	defects := d.Defects()
	require.Len(t, defects, 3)
	assert.Equal(t, "assignments", defects[0].Table)
	assert.Equal(t, "resolved_target", defects[2].Field)
}

func TestLoadFile_OnlyThatFile(t *testing.T) {
	f := factstest.New(t)
	f.Function("src/a.ts", "main", 1)
	f.Function("src/b.ts", "other", 1)
	f.Call("src/a.ts", 2, "main", "db.query", 0, "q", facts.ArgIdentifier, "")
	f.Call("src/b.ts", 2, "other", "db.query", 0, "q", facts.ArgIdentifier, "")
	f.Return("src/a.ts", 5, "main", "x", "x")
	f.Block(1, "src/a.ts", "main", "entry", 1, 5)

	ff, err := f.Store.LoadFile(context.Background(), nil, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "src/a.ts", ff.File)
	require.Len(t, ff.Symbols, 1)
	require.Len(t, ff.Calls, 1)
	assert.Equal(t, "src/a.ts", ff.Calls[0].File)
	require.Len(t, ff.Returns, 1)
	assert.Equal(t, []string{"x"}, ff.Returns[0].ReturnVars)
	require.Len(t, ff.CfgBlocks, 1)
}

func TestWriteFlows_WriteOnce(t *testing.T) {
	f := factstest.New(t)
	ctx := context.Background()

	flow := api.ResolvedFlow{
		Source:            api.Location{File: "src/a.ts", Line: 3, Symbol: "req.body"},
		Sink:              api.Location{File: "src/a.ts", Line: 9, Symbol: "db.execute"},
		Status:            api.StatusSanitized,
		HopCount:          2,
		Path:              []api.Hop{{File: "src/a.ts", Line: 3, OpKind: api.OpAssignment}, {File: "src/a.ts", Line: 9, OpKind: api.OpCallArgument}},
		Sanitizer:         &api.Sanitizer{File: "src/a.ts", Line: 5, Method: "schema.parseAsync"},
		Category:          "sql",
		Engine:            api.EngineBackward,
		VulnerabilityType: "SQL Injection",
		RelatedSources: []api.RelatedSource{
			{Source: api.Location{File: "src/b.ts", Line: 4, Symbol: "req.query"}, HopCount: 3, Status: api.StatusVulnerable},
		},
	}

	n, err := f.Store.WriteFlows(ctx, []api.ResolvedFlow{flow, flow})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.Store.WriteFlows(ctx, []api.ResolvedFlow{flow})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.Store.ReadFlows(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, flow, got[0])
}

func TestFlowKey_Stable(t *testing.T) {
	a := api.ResolvedFlow{Source: api.Location{File: "a", Line: 1}, Sink: api.Location{File: "b", Line: 2}, Status: api.StatusVulnerable}
	b := a
	assert.Equal(t, facts.FlowKey(a), facts.FlowKey(b))
	b.Status = api.StatusSanitized
	assert.NotEqual(t, facts.FlowKey(a), facts.FlowKey(b))
}

func TestLoadFile_MatchesRawSpellings(t *testing.T) {
	f := factstest.New(t)
	f.Call("./src/a.ts", 2, "main", "db.query", 0, "q", facts.ArgIdentifier, "")
	f.Call("src/a.ts", 3, "main", "log", 0, "q", facts.ArgIdentifier, "")
	ctx := context.Background()

	all, err := f.Store.LoadCalls(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"src/a.ts", "./src/a.ts"}, f.Store.Spellings("src/a.ts"))

	ff, err := f.Store.LoadFile(ctx, nil, "src/a.ts")
	require.NoError(t, err)
	require.Len(t, ff.Calls, 2)
	assert.Equal(t, "src/a.ts", ff.Calls[0].File)
	assert.Equal(t, "src/a.ts", ff.Calls[1].File)
	assert.Equal(t, 2, ff.Len())
}

func TestStreamAssignments_StopsOnCallbackError(t *testing.T) {
	f := factstest.New(t)
	f.Assign("src/a.ts", 1, "main", "x", "1")
	f.Assign("src/a.ts", 2, "main", "y", "x", "x")
	stop := errors.New("stop")

	seen := 0
	err := f.Store.StreamAssignments(context.Background(), nil, func(facts.Assignment) error {
		seen++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, seen)
}

func TestLoadAssignments_SourceCallee(t *testing.T) {
	f := factstest.New(t)
	require.True(t, f.Store.HasSourceCallee())
	f.AssignCall("src/a.ts", 4, "main", "y", "updateUser(x)", "updateUser", "x")
	f.Assign("src/a.ts", 5, "main", "z", "y", "y")

	got, err := f.Store.LoadAssignments(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "updateUser", got[0].SourceCallee)
	assert.Empty(t, got[1].SourceCallee)
}

func TestOpen_OptionalColumnsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(facts.FactSchema)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE framework_safe_sinks`)
	require.NoError(t, err)
	_, err = db.Exec(`ALTER TABLE assignments DROP COLUMN source_callee`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO assignments (file, line, target_var, source_expr, in_function) VALUES ('src/a.ts', 1, 'x', 'f()', 'main')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := facts.Open(context.Background(), path, facts.Options{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	s.Quiet()
	assert.False(t, s.HasSourceCallee())

	as, err := s.LoadAssignments(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, as, 1)
	assert.Empty(t, as[0].SourceCallee)

	sinks, err := s.LoadSafeSinks(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sinks)
}

func TestLoadSafeSinks(t *testing.T) {
	f := factstest.New(t)
	f.SafeSink("res.render", "xss", true)
	f.SafeSink("res.send", "xss", false)

	got, err := f.Store.LoadSafeSinks(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "res.render", got[0].Pattern)
	assert.True(t, got[0].Safe)
	assert.False(t, got[1].Safe)
}

func TestWriteFlows_AddsColumnsToOlderTable(t *testing.T) {
	f := factstest.New(t)
	f.Exec(`CREATE TABLE resolved_flows (
		flow_key TEXT PRIMARY KEY, source_file TEXT NOT NULL, source_line INTEGER NOT NULL, source_symbol TEXT NOT NULL,
		sink_file TEXT NOT NULL, sink_line INTEGER NOT NULL, sink_symbol TEXT NOT NULL, status TEXT NOT NULL,
		hop_count INTEGER NOT NULL, path_json TEXT NOT NULL, sanitizer_file TEXT, sanitizer_line INTEGER,
		sanitizer_method TEXT, category TEXT, engine TEXT, caveats_json TEXT)`)

	flow := api.ResolvedFlow{
		Source:            api.Location{File: "src/a.ts", Line: 1, Symbol: "req.body"},
		Sink:              api.Location{File: "src/a.ts", Line: 2, Symbol: "exec"},
		Status:            api.StatusVulnerable,
		HopCount:          1,
		Path:              []api.Hop{{File: "src/a.ts", Line: 2, OpKind: api.OpCallArgument}},
		VulnerabilityType: "Command Injection",
	}
	n, err := f.Store.WriteFlows(context.Background(), []api.ResolvedFlow{flow})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.Store.ReadFlows(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Command Injection", got[0].VulnerabilityType)
	assert.Nil(t, got[0].RelatedSources)
}
