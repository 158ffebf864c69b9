package taint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		expr   string
		want   string
		ok     bool
		fields int
	}{
		{"req", "req", true, 0},
		{"req.body.user", "req.body.user", true, 2},
		{" req?.body ", "req.body", true, 1},
		{"a.b.c.d.e.f.g", "a.b.c.d.e.f", true, 5},
		{"foo()", "", false, 0},
		{"a + b", "", false, 0},
		{"a..b", "", false, 0},
		{"", "", false, 0},
		{"items[0]", "", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, ok := ParsePath(tt.expr, DefaultMaxFields)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.want, p.String())
			assert.Equal(t, tt.fields, p.Len())
		})
	}
}

func TestAccessPath_TruncatesAtBound(t *testing.T) {
	p := MustPath("x").Append([]string{"a", "b", "c"}, 2)
	assert.Equal(t, "x.a.b", p.String())
	assert.True(t, p.Truncated)

	unbounded := MustPath("x").Append([]string{"a", "b", "c"}, -1)
	assert.Equal(t, 3, unbounded.Len())
	assert.False(t, unbounded.Truncated)
}

func TestAccessPath_Prefix(t *testing.T) {
	assert.True(t, MustPath("req").PrefixOf(MustPath("req.body")))
	assert.True(t, MustPath("req.body").PrefixOf(MustPath("req.body")))
	assert.False(t, MustPath("req.body").PrefixOf(MustPath("req")))
	assert.False(t, MustPath("req.bo").PrefixOf(MustPath("req.body")))
	assert.False(t, MustPath("res").PrefixOf(MustPath("req.body")))

	assert.True(t, MustPath("req.body").Compatible(MustPath("req")))
	assert.False(t, MustPath("req.body").Compatible(MustPath("req.query")))

	trunc := MustPath("a.b.c.d.e.f.g")
	assert.True(t, trunc.Equal(MustPath("a.b.c.d.e.f")), "Truncated is ignored")
}

func TestRebase(t *testing.T) {
	tests := []struct {
		name           string
		p, from, to    string
		k              int
		want           string
		wantTruncation bool
	}{
		{"suffix follows", "x.name", "x", "req.body", 5, "req.body.name", false},
		{"extension taints whole target", "user", "user.posts.title", "title", 5, "title", false},
		{"equal", "x", "x", "y", 5, "y", false},
		{"bound applies", "x.a.b", "x", "r.q.s", 3, "r.q.s.a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rebase(MustPath(tt.p), MustPath(tt.from), MustPath(tt.to), tt.k)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.wantTruncation, got.Truncated)
			assert.LessOrEqual(t, got.Len(), tt.k)
		})
	}
}
