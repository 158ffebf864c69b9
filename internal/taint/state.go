package taint

import (
	"math"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/flowgraph/api"
)

// hopList is an immutable, shared-tail list of hops, newest first. Items
// extend it without copying their predecessor's chain.
type hopList struct {
	hop  api.Hop
	prev *hopList
	n    int
}

func (l *hopList) push(h api.Hop) *hopList {
	n := 1
	if l != nil {
		n = l.n + 1
	}
	return &hopList{hop: h, prev: l, n: n}
}

func (l *hopList) len() int {
	if l == nil {
		return 0
	}
	return l.n
}

// newestFirst returns the hops newest first.
func (l *hopList) newestFirst() []api.Hop {
	out := make([]api.Hop, 0, l.len())
	for c := l; c != nil; c = c.prev {
		out = append(out, c.hop)
	}
	return out
}

// oldestFirst returns the hops in the order they were pushed.
func (l *hopList) oldestFirst() []api.Hop {
	out := l.newestFirst()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// taintState is what travels with an access path along a chain. It is
// never mutated: every transition builds a new value.
type taintState struct {
	chain     *hopList
	sanitized bool
	sanitizer *api.Sanitizer
	// sanAt is the chain length when the sanitizer matched. A recorded path
	// shorter than that does not contain the sanitizing hop.
	sanAt  int
	source *Occurrence
	// origin is the chain as it stood when source matched.
	origin  *hopList
	caveats []string
}

func (s taintState) withHop(h api.Hop) taintState {
	s.chain = s.chain.push(h)
	return s
}

func (s taintState) withSanitizer(san *api.Sanitizer) taintState {
	if san == nil || s.sanitized {
		return s
	}
	s.sanitized = true
	s.sanitizer = san
	s.sanAt = s.chain.len()
	return s
}

func (s taintState) withSource(o *Occurrence) taintState {
	if o != nil {
		s.source = o
		s.origin = s.chain
	}
	return s
}

func (s taintState) withCaveat(c string) taintState {
	for _, x := range s.caveats {
		if x == c {
			return s
		}
	}
	out := make([]string, len(s.caveats), len(s.caveats)+1)
	copy(out, s.caveats)
	s.caveats = append(out, c)
	return s
}

// item is one worklist entry: an access path live at a program point in a
// function scope. Backward items use point as the use line (definitions
// strictly before it reach); forward items use it as the first line at
// which a use can observe the taint.
type item struct {
	file  string
	scope string
	path  AccessPath
	point int
	depth int
	state taintState
	// via, when set, is the op kind of a hop still owed at the next
	// transition (entering a function from the global scope).
	via string
}

// fact identifies an item up to its program point.
func (it item) fact() string {
	var b strings.Builder
	b.WriteString(it.file)
	b.WriteString("::")
	b.WriteString(it.scope)
	b.WriteString("::")
	b.WriteString(it.path.String())
	if it.state.sanitized {
		b.WriteString("|s")
	}
	if it.via != "" {
		b.WriteString("|" + it.via)
	}
	if o := it.state.source; o != nil {
		b.WriteByte('|')
		b.WriteString(o.key())
	}
	return b.String()
}

// visited keeps, per fact, the bitmap of program points already explored.
type visited struct {
	points map[string]*roaring.Bitmap
}

func newVisited() *visited {
	return &visited{points: make(map[string]*roaring.Bitmap)}
}

// pointBit maps a line to a bitmap position. math.MaxInt ("end of scope")
// lands on the last bit.
func pointBit(point int) uint32 {
	switch {
	case point < 0:
		return 0
	case uint64(point) > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(point)
}

// add marks the item visited and reports whether it was new.
func (v *visited) add(it item) bool {
	f := it.fact()
	bm, ok := v.points[f]
	if !ok {
		bm = roaring.New()
		v.points[f] = bm
	}
	return bm.CheckedAdd(pointBit(it.point))
}

func (v *visited) len() int {
	n := 0
	for _, bm := range v.points {
		n += int(bm.GetCardinality())
	}
	return n
}
