package taint

import (
	"testing"

	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_EmptyIsConfigurationError(t *testing.T) {
	_, err := NewRegistryBuilder().RegisterSink("db.execute", "sql").Build()
	var ce *diag.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "source registrations", ce.Element)

	_, err = NewRegistryBuilder().RegisterSource("req.body", "http").Build()
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sink registrations", ce.Element)
	assert.True(t, diag.IsFatal(err))
}

func TestRegistry_Lookups(t *testing.T) {
	r, err := NewRegistryBuilder().
		RegisterSource("req.body", "http").
		RegisterSource("getInput", "call").
		RegisterSource("POST /users", "endpoint").
		RegisterSink("db.execute", "sql").
		RegisterSanitizer("escape").
		Build()
	require.NoError(t, err)

	p, ok := r.SourceForPath(MustPath("req.body.name"))
	require.True(t, ok)
	assert.Equal(t, "req.body", p.Pattern)
	_, ok = r.SourceForPath(MustPath("req.query"))
	assert.False(t, ok)
	_, ok = r.SourceForPath(MustPath("request.body"))
	assert.False(t, ok, "no substring matching")
	_, ok = r.SourceForPath(MustPath("req"))
	assert.False(t, ok, "a bare parent of a registered field is not a source")
	p, ok = r.SourceForPath(MustPath("req.body"))
	require.True(t, ok)
	assert.Equal(t, "req.body", p.Pattern)

	p, ok = r.SourceForCall("getInput")
	require.True(t, ok)
	assert.Equal(t, "call", p.Category)

	p, ok = r.SourceForEndpoint("POST", "/users")
	require.True(t, ok)
	assert.Equal(t, "endpoint", p.Category)
	_, ok = r.SourceForEndpoint("GET", "/users")
	assert.False(t, ok)

	s, ok := r.SinkFor("db.execute")
	require.True(t, ok)
	assert.Equal(t, "sql", s.Category)
	_, ok = r.SinkFor("db.exec")
	assert.False(t, ok)

	assert.True(t, r.IsSanitizer("escape"))
	assert.True(t, r.IsRegistered("escape"))
	assert.True(t, r.IsRegistered("getInput"))
	assert.False(t, r.IsRegistered("other"))
}

func TestFromRules(t *testing.T) {
	rules, err := config.ParseRules([]byte(`
sources:
  - {pattern: req.body, category: http_request}
sinks:
  - {pattern: db.execute, category: sql_injection}
sanitizers:
  - schema.parseAsync
`))
	require.NoError(t, err)
	r, err := FromRules(rules)
	require.NoError(t, err)
	assert.Len(t, r.Sources(), 1)
	assert.Equal(t, []Pattern{{"db.execute", "sql_injection"}}, r.Sinks())
	assert.True(t, r.IsSanitizer("schema.parseAsync"))
}
