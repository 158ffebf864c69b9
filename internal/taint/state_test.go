package taint

import (
	"math"
	"testing"

	"github.com/agentic-research/flowgraph/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisited_PointsPerFact(t *testing.T) {
	v := newVisited()
	x := item{file: "a.ts", scope: "handler", path: MustPath("x.body"), point: 10}

	assert.True(t, v.add(x))
	assert.False(t, v.add(x), "same fact at the same point")

	at4 := x
	at4.point = 4
	assert.True(t, v.add(at4))

	end := x
	end.point = math.MaxInt
	assert.True(t, v.add(end))
	assert.False(t, v.add(end))

	clean := x
	clean.state = clean.state.withSanitizer(&api.Sanitizer{File: "a.ts", Line: 7, Method: "escape"})
	assert.True(t, v.add(clean), "sanitized state is a different fact")

	require.Len(t, v.points, 2)
	bm := v.points[x.fact()]
	assert.Equal(t, []uint32{4, 10, math.MaxUint32}, bm.ToArray())
	assert.Equal(t, 4, v.len())
}

func TestPointBit(t *testing.T) {
	assert.Equal(t, uint32(0), pointBit(-1))
	assert.Equal(t, uint32(12), pointBit(12))
	assert.Equal(t, uint32(math.MaxUint32), pointBit(math.MaxInt))
}
