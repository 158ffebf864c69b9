package taint

import (
	"context"
	"testing"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/facts/factstest"
	"github.com/agentic-research/flowgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discover(t *testing.T, f *factstest.DB, r *Registry, k int) *Discovery {
	t.Helper()
	d := diag.NewDiagnostics()
	c, err := cache.Load(context.Background(), f.Store, cache.Options{Diagnostics: d, Logger: quiet()})
	require.NoError(t, err)
	return NewDiscovery(c, r, graph.NewCallResolver(c, d), d, k)
}

func occurrenceNames(occ []Occurrence) []string {
	var out []string
	for _, o := range occ {
		out = append(out, o.Kind+":"+o.Path.String())
	}
	return out
}

func TestDiscovery_SourceKinds(t *testing.T) {
	f := factstest.New(t)
	f.File(app, "typescript")
	f.Function(app, "handler", 1)
	f.Block(1, app, "handler", "body", 1, 8)
	f.Assign(app, 2, "handler", "a", "req.body.name", "req.body.name")
	f.Call(app, 3, "handler", "log", 0, "req.body", facts.ArgIdentifier, "")
	f.Return(app, 4, "handler", "req.body", "req.body")
	f.Symbol(app, "req.body", "property", 5)
	f.Call(app, 6, "handler", "getInput", 0, "opts", facts.ArgIdentifier, "")
	f.AssignCall(app, 6, "handler", "input", "getInput(opts)", "getInput", "opts")
	f.Assign(app, 7, "handler", "b", "request.body", "request.body")

	r, err := NewRegistryBuilder().
		RegisterSource("req.body", "http").
		RegisterSource("getInput", "call").
		RegisterSink("db.execute", "sql").
		Build()
	require.NoError(t, err)

	occ := discover(t, f, r, DefaultMaxFields).Sources()
	assert.Equal(t, []string{
		"read:req.body.name",
		"argument:req.body",
		"return:req.body",
		"property:req.body",
		"call_result:input",
	}, occurrenceNames(occ))
	for _, o := range occ {
		assert.Equal(t, "handler", o.Scope)
	}
	assert.True(t, occ[4].Defines)
	assert.Equal(t, "call", occ[4].Category)
}

func TestDiscovery_SinksCarrySQL(t *testing.T) {
	f := factstest.New(t)
	f.File(app, "typescript")
	f.Function(app, "handler", 1)
	f.Call(app, 4, "handler", "db.execute", 0, "query", facts.ArgIdentifier, "")
	f.Call(app, 4, "handler", "db.execute", 1, "params", facts.ArgIdentifier, "")
	f.Call(app, 5, "handler", "db.execute", 0, "'SELECT 1'", facts.ArgLiteral, "")
	f.Call(app, 6, "handler", "db.executeRaw", 0, "q", facts.ArgIdentifier, "")
	f.SQL(app, 4, "SELECT * FROM users WHERE id = ?", "SELECT", true)

	sinks := discover(t, f, webRegistry(t), DefaultMaxFields).Sinks()
	require.Len(t, sinks, 1)
	s := sinks[0]
	assert.Equal(t, 4, s.Line)
	assert.Equal(t, "handler", s.Scope)
	require.Len(t, s.Args, 2)
	assert.Equal(t, "query", s.Args[0].Path.String())
	assert.Equal(t, "params", s.Args[1].Path.String())
	require.Len(t, s.SQL, 1)
	assert.Equal(t, "SELECT", s.SQL[0].Command)
}

func TestDiscovery_ORMExpansionIsBoundedAndCycleSafe(t *testing.T) {
	f := factstest.New(t)
	f.File("src/routes.ts", "typescript")
	f.Function("src/routes.ts", "handler", 1)
	f.Model("User", "users", "src/models.ts", 1)
	f.Model("Post", "posts", "src/models.ts", 10)
	f.Association("src/models.ts", 2, "User", "hasMany", "Post", "posts", "user_id")
	f.Association("src/models.ts", 11, "Post", "belongsTo", "User", "author", "user_id")
	f.Call("src/routes.ts", 3, "handler", "User.findOne", 0, "id", facts.ArgIdentifier, "")
	f.AssignCall("src/routes.ts", 3, "handler", "user", "await User.findOne(id)", "User.findOne", "id")
	f.OrmQuery("src/routes.ts", 3, "User", "findOne", "user")

	r, err := NewRegistryBuilder().
		RegisterSource("User.findOne", "orm").
		RegisterSink("db.execute", "sql").
		Build()
	require.NoError(t, err)

	occ := discover(t, f, r, DefaultMaxFields).Sources()
	assert.Equal(t, []string{
		"call_result:user",
		"orm:user.posts",
		"orm:user.posts.author",
	}, occurrenceNames(occ))
	for _, o := range occ {
		assert.True(t, o.Defines)
		assert.Equal(t, 3, o.Site.Line)
	}

	occ = discover(t, f, r, 1).Sources()
	assert.Equal(t, []string{"call_result:user", "orm:user.posts"}, occurrenceNames(occ))
}

func TestDiscovery_BareParentIsNotASource(t *testing.T) {
	f := factstest.New(t)
	f.File(app, "typescript")
	f.Function(app, "handler", 1)
	f.Call(app, 3, "handler", "log", 0, "req", facts.ArgIdentifier, "")
	f.Assign(app, 4, "handler", "r", "req", "req")
	f.Assign(app, 5, "handler", "b", "req.body", "req.body")

	occ := discover(t, f, webRegistry(t), DefaultMaxFields).Sources()
	assert.Equal(t, []string{"read:req.body"}, occurrenceNames(occ))
}

func TestDiscovery_ZeroArgSourceCall(t *testing.T) {
	f := factstest.New(t)
	f.File(app, "typescript")
	f.Function(app, "handler", 1)
	f.AssignCall(app, 2, "handler", "input", "getInput()", "getInput")

	r, err := NewRegistryBuilder().
		RegisterSource("getInput", "call").
		RegisterSink("db.execute", "sql").
		Build()
	require.NoError(t, err)

	occ := discover(t, f, r, DefaultMaxFields).Sources()
	assert.Equal(t, []string{"call_result:input"}, occurrenceNames(occ))
}
