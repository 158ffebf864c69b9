package taint

import (
	"testing"

	"github.com/agentic-research/flowgraph/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVulnerabilityType(t *testing.T) {
	for category, want := range map[string]string{
		"sql_injection":     "SQL Injection",
		"nosql":             "NoSQL Injection",
		"command_injection": "Command Injection",
		"XSS":               "Cross-Site Scripting (XSS)",
		"path_traversal":    "Path Traversal",
		"ldap":              "LDAP Injection",
		"http_request":      "Data Exposure",
		"":                  "Data Exposure",
	} {
		assert.Equal(t, want, VulnerabilityType(category), category)
	}
}

func TestAnnotate_RelatedSources(t *testing.T) {
	a := flow(api.EngineBoth, 1, 9, hops(1, 9))
	a.Category = "sql_injection"
	b := flow(api.EngineBoth, 2, 9, hops(2, 5, 9))
	b.Category = "sql_injection"
	b2 := flow(api.EngineBoth, 2, 9, hops(2, 9))
	b2.Category = "sql_injection"
	other := flow(api.EngineBoth, 1, 20, hops(1, 20))

	flows := []api.ResolvedFlow{a, b, b2, other}
	annotate(flows)

	assert.Equal(t, "SQL Injection", flows[0].VulnerabilityType)
	require.Len(t, flows[0].RelatedSources, 1, "one entry per distinct source")
	assert.Equal(t, 2, flows[0].RelatedSources[0].Source.Line)
	assert.Equal(t, 2, flows[0].RelatedSources[0].HopCount, "shortest path wins")

	require.Len(t, flows[1].RelatedSources, 1)
	assert.Equal(t, 1, flows[1].RelatedSources[0].Source.Line)

	assert.Empty(t, flows[3].RelatedSources)
	assert.Equal(t, "Data Exposure", flows[3].VulnerabilityType)
}
