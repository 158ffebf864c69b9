package taint

import (
	"testing"

	"github.com/agentic-research/flowgraph/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hops(lines ...int) []api.Hop {
	out := make([]api.Hop, len(lines))
	for i, l := range lines {
		out[i] = api.Hop{File: "a.ts", Line: l, OpKind: api.OpAssignment}
	}
	return out
}

func flow(engine string, srcLine, sinkLine int, path []api.Hop) api.ResolvedFlow {
	return api.ResolvedFlow{
		Source:   api.Location{File: "a.ts", Line: srcLine, Symbol: "req.body"},
		Sink:     api.Location{File: "a.ts", Line: sinkLine, Symbol: "db.execute"},
		Status:   api.StatusVulnerable,
		HopCount: len(path),
		Path:     path,
		Engine:   engine,
	}
}

func TestDedup_MergesEngines(t *testing.T) {
	out := Dedup([]api.ResolvedFlow{
		flow(api.EngineBackward, 1, 9, hops(1, 9)),
		flow(api.EngineForward, 1, 9, hops(1, 9)),
	})
	require.Len(t, out, 1)
	assert.Equal(t, api.EngineBoth, out[0].Engine)
}

func TestDedup_PrefersLongerSourceSymbol(t *testing.T) {
	a := flow(api.EngineForward, 3, 9, hops(5, 9))
	a.Source.Symbol = "user"
	b := flow(api.EngineForward, 3, 9, hops(5, 9))
	b.Source.Symbol = "user.posts"
	out := Dedup([]api.ResolvedFlow{a, b})
	require.Len(t, out, 1)
	assert.Equal(t, "user.posts", out[0].Source.Symbol)
	assert.Equal(t, api.EngineForward, out[0].Engine)
}

func TestDedup_CollapsesSinkAlignedSuffix(t *testing.T) {
	out := Dedup([]api.ResolvedFlow{
		flow(api.EngineBackward, 1, 9, hops(5, 9)),
		flow(api.EngineForward, 1, 9, hops(1, 5, 9)),
		flow(api.EngineForward, 1, 9, hops(1, 5)),
	})
	require.Len(t, out, 2)
	assert.Equal(t, hops(1, 5, 9), out[1].Path)
	assert.Equal(t, api.EngineBoth, out[1].Engine)
	assert.Equal(t, hops(1, 5), out[0].Path, "prefix is not sink-aligned")
}

func TestDedup_KeepsDistinctStatus(t *testing.T) {
	san := flow(api.EngineBackward, 1, 9, hops(1, 5, 9))
	san.Status = api.StatusSanitized
	san.Sanitizer = &api.Sanitizer{File: "a.ts", Line: 1, Method: "escape"}
	out := Dedup([]api.ResolvedFlow{san, flow(api.EngineBackward, 1, 9, hops(5, 9))})
	assert.Len(t, out, 2)
}

func TestDedup_SamePathDifferentStatusStaysSeparate(t *testing.T) {
	vuln := flow(api.EngineForward, 1, 9, hops(1, 5, 9))
	san := flow(api.EngineBackward, 1, 9, hops(1, 5, 9))
	san.Status = api.StatusSanitized
	san.Sanitizer = &api.Sanitizer{File: "a.ts", Line: 5, Method: "escape"}

	out := Dedup([]api.ResolvedFlow{vuln, san})
	require.Len(t, out, 2)
	assert.Equal(t, api.StatusSanitized, out[0].Status)
	assert.Equal(t, api.StatusVulnerable, out[1].Status)
	assert.Nil(t, out[1].Sanitizer)
	assert.Equal(t, api.EngineForward, out[1].Engine, "statuses never merge engines either")
}

func TestDedup_Sorted(t *testing.T) {
	out := Dedup([]api.ResolvedFlow{
		flow(api.EngineBackward, 2, 20, hops(2, 20)),
		flow(api.EngineBackward, 3, 10, hops(3, 10)),
		flow(api.EngineBackward, 1, 10, hops(1, 10)),
	})
	require.Len(t, out, 3)
	assert.Equal(t, []int{10, 10, 20}, []int{out[0].Sink.Line, out[1].Sink.Line, out[2].Sink.Line})
	assert.Equal(t, 1, out[0].Source.Line)
	assert.Equal(t, 3, out[1].Source.Line)
}
