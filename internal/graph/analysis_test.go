package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLoops: a -> b -> c -> a, c -> d, d -> d, and e on its own.
func callLoops() *Graph {
	g := New()
	for id, file := range map[string]string{"a": "src/x.ts", "b": "src/x.ts", "c": "src/y.ts", "d": "src/y.ts", "e": "cmd/main.go"} {
		g.AddNode(&Node{ID: id, File: file, Type: NodeFunction, GraphType: TypeCall})
	}
	for _, e := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"c", "d"}, {"d", "d"}} {
		g.AddEdgePair(&Edge{Source: e[0], Target: e[1], Type: EdgeCall, GraphType: TypeCall, File: "src/x.ts"})
	}
	// Same IDs in another graph type must not leak into call-graph results.
	g.AddNode(&Node{ID: "a", File: "src/x.ts", Type: NodeModule, GraphType: TypeImport})
	g.AddNode(&Node{ID: "e", File: "cmd/main.go", Type: NodeModule, GraphType: TypeImport})
	g.AddEdgePair(&Edge{Source: "a", Target: "e", Type: EdgeImport, GraphType: TypeImport})
	return g
}

func TestDetectCycles(t *testing.T) {
	got := callLoops().DetectCycles(TypeCall)
	assert.Equal(t, []Cycle{
		{Nodes: []string{"a", "b", "c"}, Size: 3},
		{Nodes: []string{"d"}, Size: 1},
	}, got)

	assert.Empty(t, callLoops().DetectCycles(TypeImport), "reverse edges are not cycles")
}

func TestHotspots(t *testing.T) {
	got := callLoops().Hotspots(TypeCall, 2)
	require.Len(t, got, 2)
	assert.Equal(t, Degree{ID: "c", File: "src/y.ts", In: 1, Out: 2}, got[0])
	assert.Equal(t, Degree{ID: "d", File: "src/y.ts", In: 2, Out: 1}, got[1])

	all := callLoops().Hotspots(TypeCall, -1)
	assert.Len(t, all, 4, "the isolated node is no hotspot")
}

func TestImpactOfChange(t *testing.T) {
	g := callLoops()

	one := g.ImpactOfChange(TypeCall, []string{"b"}, 1)
	assert.Equal(t, []string{"b"}, one.Targets)
	assert.Equal(t, []string{"a"}, one.Upstream)
	assert.Equal(t, []string{"c"}, one.Downstream)
	assert.Equal(t, 3, one.Total)

	two := g.ImpactOfChange(TypeCall, []string{"b"}, 2)
	assert.Equal(t, []string{"a", "c"}, two.Upstream)
	assert.Equal(t, []string{"a", "c", "d"}, two.Downstream)
	assert.Equal(t, 4, two.Total)

	byFile := g.ImpactOfChange(TypeCall, []string{"src/y.ts"}, 1)
	assert.Equal(t, []string{"c", "d"}, byFile.Targets)
	assert.Equal(t, []string{"b", "c", "d"}, byFile.Upstream)
	assert.Equal(t, []string{"a", "d"}, byFile.Downstream)
	assert.Equal(t, 4, byFile.Total)

	none := g.ImpactOfChange(TypeCall, []string{"missing"}, 3)
	assert.Empty(t, none.Targets)
	assert.Zero(t, none.Total)
}

func TestShortestPath(t *testing.T) {
	g := callLoops()
	assert.Equal(t, []string{"a", "b", "c", "d"}, g.ShortestPath(TypeCall, "a", "d"))
	assert.Equal(t, []string{"a"}, g.ShortestPath(TypeCall, "a", "a"))
	assert.Nil(t, g.ShortestPath(TypeCall, "d", "a"))
	assert.Nil(t, g.ShortestPath(TypeCall, "e", "a"))
}

func TestSummarize(t *testing.T) {
	s := callLoops().Summarize(TypeCall)
	assert.Equal(t, 5, s.Nodes)
	assert.Equal(t, 5, s.Edges)
	assert.InDelta(t, 0.25, s.Density, 1e-9)
	assert.InDelta(t, 1.0, s.Average, 1e-9)
	assert.Equal(t, []string{"e"}, s.Isolated)
	assert.Equal(t, 2, s.CycleCount)
	assert.Len(t, s.TopConnected, 4)
	assert.Equal(t, map[string]int{".ts": 4, ".go": 1}, s.FileTypes)

	empty := New().Summarize(TypeDataFlow)
	assert.Zero(t, empty.Nodes)
	assert.Zero(t, empty.Density)
}

func TestStore_DependencyQueries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	g := callLoops()
	_, err := s.Save(ctx, g, TypeCall, SaveOptions{})
	require.NoError(t, err)
	_, err = s.Save(ctx, g, TypeImport, SaveOptions{})
	require.NoError(t, err)

	up, down, err := s.Dependencies(ctx, TypeCall, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, up)
	assert.Equal(t, []string{"a", "d"}, down)

	callers, callees, err := s.Calls(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, callers)
	assert.Equal(t, []string{"d"}, callees)

	up, down, err = s.Dependencies(ctx, TypeImport, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, up)
	assert.Empty(t, down)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []GraphStats{
		{GraphType: TypeCall, Nodes: 5, Edges: 5},
		{GraphType: TypeImport, Nodes: 2, Edges: 1},
	}, stats)
}
