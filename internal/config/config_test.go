package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Bounds.MaxFields)
	assert.Equal(t, 10, cfg.Bounds.MaxDepth)
	assert.True(t, cfg.Engines.Backward)
	assert.True(t, cfg.Engines.Forward)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	p := writeFile(t, "cfg.yaml", "bounds:\n  max_fields: 3\n  max_depth: 12\n  max_paths_per_sink: 7\nworkers: 2\nengines:\n  backward: true\n  forward: false\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Bounds.MaxFields)
	assert.Equal(t, 12, cfg.Bounds.MaxDepth)
	assert.Equal(t, 7, cfg.Bounds.MaxPathsPerSink)
	assert.Equal(t, 2, cfg.Workers)
	assert.False(t, cfg.Engines.Forward)
	assert.Equal(t, 1024, cfg.Cache.MemoryCeilingMB, "unset keys keep defaults")
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	p := writeFile(t, "cfg.yaml", "bounds:\n  max_feilds: 3\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoad_InvalidBoundsIsConfigurationError(t *testing.T) {
	p := writeFile(t, "cfg.yaml", "bounds:\n  max_depth: 0\n")
	_, err := Load(p)
	var ce *diag.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bounds.max_depth", ce.Element)
}

func TestValidate_NoEngines(t *testing.T) {
	cfg := Default()
	cfg.Engines = Engines{}
	require.Error(t, cfg.Validate())
}

func TestParseRules(t *testing.T) {
	r, err := ParseRules([]byte(`
sources:
  - {pattern: req.body, category: http_request}
sinks:
  - {pattern: db.execute, category: sql}
sanitizers:
  - schema.parseAsync
`))
	require.NoError(t, err)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, Rule{Pattern: "req.body", Category: "http_request"}, r.Sources[0])
	assert.Equal(t, []string{"schema.parseAsync"}, r.Sanitizers)

	_, err = ParseRules([]byte("sinks:\n  - {category: sql}\n"))
	require.Error(t, err)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
