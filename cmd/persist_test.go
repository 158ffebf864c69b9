package cmd

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/facts/factstest"
	"github.com/agentic-research/flowgraph/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type latched struct{ err error }

func (l latched) Err() error { return l.err }

func oneFlow() []api.ResolvedFlow {
	path := []api.Hop{{File: "src/app.ts", Line: 10, OpKind: "call_argument"}}
	return []api.ResolvedFlow{{
		Source:   api.Location{File: "src/app.ts", Line: 5, Symbol: "req.body"},
		Sink:     api.Location{File: "src/app.ts", Line: 10, Symbol: "db.execute"},
		Path:     path,
		HopCount: len(path),
		Status:   api.StatusVulnerable,
		Engine:   api.EngineBoth,
	}}
}

func TestPersistFlows(t *testing.T) {
	refill := errors.New("refill src/a.ts: 0 records, 3 at load")

	tests := []struct {
		name    string
		cache   error
		run     error
		wantErr bool
		stored  int
	}{
		{name: "clean run", stored: 1},
		{name: "cache failure", cache: refill, wantErr: true},
		{name: "run failure", run: errors.New("walk: boom"), wantErr: true},
		{name: "cancelled run keeps partial flows", run: context.Canceled, stored: 1},
		{name: "deadline keeps partial flows", run: context.DeadlineExceeded, stored: 1},
		{name: "cache failure wins over cancellation", cache: refill, run: context.Canceled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := factstest.New(t)
			ctx, cancel := context.WithCancel(context.Background())
			if tt.run != nil {
				cancel()
			} else {
				defer cancel()
			}

			_, err := persistFlows(ctx, f.Store, latched{tt.cache}, oneFlow(), tt.run)
			if tt.wantErr {
				require.Error(t, err)
				if tt.cache != nil {
					assert.ErrorIs(t, err, refill)
				}
			} else {
				require.NoError(t, err)
			}

			stored, err := f.Store.ReadFlows(context.Background())
			require.NoError(t, err)
			assert.Len(t, stored, tt.stored)
		})
	}
}

func TestBuildAndSave_RefusesAfterCacheError(t *testing.T) {
	f := factstest.New(t)
	f.File("src/app.ts", "typescript")
	f.Function("src/app.ts", "handler", 1)
	f.Assign("src/app.ts", 5, "handler", "x", "req.body", "req.body")
	f.Call("src/app.ts", 10, "handler", "db.execute", 0, "x", facts.ArgIdentifier, "")

	ctx := context.Background()
	logs := log.New(io.Discard, "", 0)
	d := diag.NewDiagnostics()
	c, err := cache.Load(ctx, f.Store, cache.Options{Diagnostics: d, Logger: logs})
	require.NoError(t, err)

	gs, err := graph.OpenStore(filepath.Join(t.TempDir(), "graphs.db"), logs)
	require.NoError(t, err)
	defer func() { _ = gs.Close() }()

	b := graph.NewBuilder(c, d, logs)
	_, err = buildAndSave(ctx, b, latched{errors.New("refill failed")}, gs, graph.TypeDataFlow, logs)
	require.ErrorContains(t, err, "not storing data_flow graph")

	g, err := gs.Load(ctx, graph.TypeDataFlow)
	require.NoError(t, err)
	assert.Zero(t, g.EdgeCount(graph.TypeDataFlow))

	res, err := buildAndSave(ctx, b, c, gs, graph.TypeDataFlow, logs)
	require.NoError(t, err)
	assert.Positive(t, res.Edges)
}
