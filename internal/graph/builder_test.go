package graph

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/facts/factstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newBuilder(t *testing.T, f *factstest.DB) (*Builder, *diag.Diagnostics) {
	t.Helper()
	d := diag.NewDiagnostics()
	c, err := cache.Load(context.Background(), f.Store, cache.Options{Diagnostics: d, Logger: quietLogger()})
	require.NoError(t, err)
	return NewBuilder(c, d, quietLogger()), d
}

// crossFileFacts: handler in a.ts calls save (defined in b.ts, imported) and
// updateUser (defined in both c.ts and d.ts, neither imported).
func crossFileFacts(t *testing.T) *factstest.DB {
	t.Helper()
	f := factstest.New(t)
	for _, p := range []string{"src/a.ts", "src/b.ts", "src/c.ts", "src/d.ts"} {
		f.File(p, "typescript")
	}
	f.Function("src/a.ts", "handler", 1)
	f.Function("src/a.ts", "local", 20)
	f.Function("src/b.ts", "save", 1)
	f.Function("src/c.ts", "updateUser", 1)
	f.Function("src/d.ts", "updateUser", 1)
	f.Import("src/a.ts", "./b", "src/b.ts")
	f.Import("src/a.ts", "express", "")

	f.Assign("src/a.ts", 3, "handler", "x", "req.body", "req.body")
	f.Call("src/a.ts", 4, "handler", "save", 0, "x", facts.ArgIdentifier, "data")
	f.Call("src/a.ts", 5, "handler", "updateUser", 0, "x", facts.ArgIdentifier, "")
	f.Call("src/a.ts", 6, "handler", "local", 0, "42", facts.ArgLiteral, "n")
	f.AssignCall("src/a.ts", 7, "handler", "y", "save(x)", "save")
	f.Call("src/a.ts", 7, "handler", "save", 0, "x", facts.ArgIdentifier, "data")
	f.Return("src/b.ts", 5, "save", "data", "data")
	return f
}

func TestCallResolver(t *testing.T) {
	b, d := newBuilder(t, crossFileFacts(t))
	r := b.Resolver()

	t.Run("same file", func(t *testing.T) {
		res := r.Resolve("src/a.ts", 6, "local")
		assert.True(t, res.Resolved)
		assert.Equal(t, "src/a.ts::local", res.ID)
	})
	t.Run("imported file", func(t *testing.T) {
		res := r.Resolve("src/a.ts", 4, "save")
		assert.True(t, res.Resolved)
		assert.Equal(t, "src/b.ts", res.File)
	})
	t.Run("ambiguous without import link", func(t *testing.T) {
		res := r.Resolve("src/a.ts", 5, "updateUser")
		assert.False(t, res.Resolved)
		assert.Equal(t, "unresolved::updateUser", res.ID)
		assert.Equal(t, "ambiguous", res.Reason)
	})
	t.Run("external", func(t *testing.T) {
		res := r.Resolve("src/a.ts", 9, "db.execute")
		assert.False(t, res.Resolved)
		assert.Equal(t, "external", res.Reason)
	})
	t.Run("no substring matching", func(t *testing.T) {
		assert.False(t, r.Resolve("src/a.ts", 9, "sav").Resolved)
	})

	assert.Contains(t, d.UnresolvedNodes(), "unresolved::updateUser")
}

func TestImportGraph_RebuildIsStable(t *testing.T) {
	b, _ := newBuilder(t, crossFileFacts(t))

	g1 := b.ImportGraph()
	g2 := b.ImportGraph()
	assert.Equal(t, g1.NodeCount(TypeImport), g2.NodeCount(TypeImport))
	assert.Equal(t, g1.EdgeCount(TypeImport), g2.EdgeCount(TypeImport))
	assert.Equal(t, 4, g1.NodeCount(TypeImport))
	assert.Equal(t, 2, g1.EdgeCount(TypeImport), "one import plus its reverse; external import has no edge")
	require.NoError(t, g1.CheckReverseEdges(TypeImport))
}

func TestImportGraph_RejectsAbsoluteTarget(t *testing.T) {
	f := crossFileFacts(t)
	f.Import("src/a.ts", "./abs", "/home/dev/proj/src/c.ts")
	b, d := newBuilder(t, f)

	g := b.ImportGraph()
	assert.Equal(t, 2, g.EdgeCount(TypeImport))
	require.Len(t, d.Defects(), 1)
	assert.Equal(t, "resolved_target", d.Defects()[0].Field)
}

func TestCallGraph_AmbiguousCalleeIsGhost(t *testing.T) {
	b, _ := newBuilder(t, crossFileFacts(t))
	g := b.CallGraph()

	ghost, err := g.Node(TypeCall, "unresolved::updateUser")
	require.NoError(t, err)
	assert.Equal(t, NodeUnresolved, ghost.Type)

	out := g.Out(TypeCall, "src/a.ts::handler", EdgeCall)
	targets := make([]string, 0, len(out))
	for _, e := range out {
		targets = append(targets, e.Target)
	}
	assert.ElementsMatch(t, []string{"src/b.ts::save", "unresolved::updateUser", "src/a.ts::local"}, targets)
	assert.Empty(t, g.In(TypeCall, "src/c.ts::updateUser", EdgeCall), "no edge fabricated to either candidate")
	assert.Empty(t, g.In(TypeCall, "src/d.ts::updateUser", EdgeCall))

	save, ok := g.Edge(EdgeKey{"src/a.ts::handler", "src/b.ts::save", EdgeCall, TypeCall})
	require.True(t, ok)
	assert.Equal(t, []int{4, 7}, save.Lines)
}

func TestDataFlowGraph_Edges(t *testing.T) {
	b, _ := newBuilder(t, crossFileFacts(t))
	g := b.DataFlowGraph()
	require.NoError(t, g.CheckReverseEdges(TypeDataFlow))

	x := VariableID("src/a.ts", "handler", "x")

	in := g.In(TypeDataFlow, x, EdgeAssignment)
	require.Len(t, in, 1)
	assert.Equal(t, VariableID("src/a.ts", "handler", "req.body"), in[0].Source)

	out := g.Out(TypeDataFlow, x, EdgeParameterBinding)
	targets := map[string][]int{}
	for _, e := range out {
		targets[e.Target] = e.Lines
	}
	assert.Equal(t, []int{4, 7}, targets[VariableID("src/b.ts", "save", "data")])
	assert.Equal(t, []int{5}, targets["unresolved::updateUser::arg0"])
	assert.Len(t, targets, 2, "literal arguments produce no edges")

	ret := g.In(TypeDataFlow, ReturnID("src/b.ts", "save"), EdgeReturn)
	require.Len(t, ret, 1)
	assert.Equal(t, VariableID("src/b.ts", "save", "data"), ret[0].Source)

	cr := g.In(TypeDataFlow, VariableID("src/a.ts", "handler", "y"), EdgeCallReturn)
	require.Len(t, cr, 1)
	assert.Equal(t, ReturnID("src/b.ts", "save"), cr[0].Source)
	assert.Equal(t, []int{7}, cr[0].Lines)
}

func TestCallForAssignment(t *testing.T) {
	calls := []facts.CallArg{
		{Line: 3, Caller: "h", Callee: "toString"},
		{Line: 3, Caller: "h", Callee: "schema.parseAsync", ArgIndex: 0},
	}

	a := facts.Assignment{Line: 3, Function: "h", TargetVar: "v", SourceExpr: "await schema.parseAsync(x)", SourceCallee: "schema.parseAsync"}
	c, ok := CallForAssignment(a, calls)
	require.True(t, ok)
	assert.Equal(t, "schema.parseAsync", c.Callee)
	assert.Equal(t, 0, c.ArgIndex)

	_, ok = CallForAssignment(facts.Assignment{Line: 3, Function: "h", SourceExpr: "schema.parseAsync(x)"}, calls)
	assert.False(t, ok, "sharing a line with a call does not bind")

	zero, ok := CallForAssignment(facts.Assignment{File: "a.ts", Line: 8, Function: "h", SourceCallee: "getInput"}, nil)
	require.True(t, ok)
	assert.Equal(t, "getInput", zero.Callee)
	assert.Equal(t, -1, zero.ArgIndex)
}

func TestDataFlowGraph_LineSharingCallIsNotBound(t *testing.T) {
	f := crossFileFacts(t)
	// y = z; save(z) on one line: y is not save's result.
	f.Assign("src/a.ts", 12, "handler", "y2", "z", "z")
	f.Call("src/a.ts", 12, "handler", "save", 0, "z", facts.ArgIdentifier, "data")
	b, d := newBuilder(t, f)
	g := b.DataFlowGraph()

	y2 := VariableID("src/a.ts", "handler", "y2")
	assert.Empty(t, g.In(TypeDataFlow, y2, EdgeCallReturn))
	in := g.In(TypeDataFlow, y2, EdgeAssignment)
	require.Len(t, in, 1)
	assert.Equal(t, VariableID("src/a.ts", "handler", "z"), in[0].Source)

	assert.Contains(t, d.UnboundAssignments(), y2)
	assert.NotContains(t, d.UnresolvedNodes(), y2)
}
