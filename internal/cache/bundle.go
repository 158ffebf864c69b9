package cache

import (
	"sort"

	"github.com/agentic-research/flowgraph/internal/facts"
)

// Bundle is the indexed form of one file's facts.
type Bundle struct {
	facts.FileFacts

	callsByFn   map[string][]facts.CallArg
	callsAt     map[int][]facts.CallArg
	returnsByFn map[string][]facts.Return
	assignsAt   map[int][]facts.Assignment
	sqlAt       map[int][]facts.SQLQuery
	blocksByFn  map[string][]facts.CfgBlock
	edgesByFn   map[string][]facts.CfgEdge
	functions   []facts.Symbol // function symbols sorted by line
}

func newBundle(ff *facts.FileFacts) *Bundle {
	b := &Bundle{
		FileFacts:   *ff,
		callsByFn:   make(map[string][]facts.CallArg),
		callsAt:     make(map[int][]facts.CallArg),
		returnsByFn: make(map[string][]facts.Return),
		assignsAt:   make(map[int][]facts.Assignment),
		sqlAt:       make(map[int][]facts.SQLQuery),
		blocksByFn:  make(map[string][]facts.CfgBlock),
		edgesByFn:   make(map[string][]facts.CfgEdge),
	}
	for _, c := range ff.Calls {
		b.callsByFn[c.Caller] = append(b.callsByFn[c.Caller], c)
		b.callsAt[c.Line] = append(b.callsAt[c.Line], c)
	}
	for _, r := range ff.Returns {
		b.returnsByFn[r.Function] = append(b.returnsByFn[r.Function], r)
	}
	for _, a := range ff.Assignments {
		b.assignsAt[a.Line] = append(b.assignsAt[a.Line], a)
	}
	for _, q := range ff.SQL {
		b.sqlAt[q.Line] = append(b.sqlAt[q.Line], q)
	}
	for _, blk := range ff.CfgBlocks {
		b.blocksByFn[blk.Function] = append(b.blocksByFn[blk.Function], blk)
	}
	for _, e := range ff.CfgEdges {
		b.edgesByFn[e.Function] = append(b.edgesByFn[e.Function], e)
	}
	for _, s := range ff.Symbols {
		if s.Kind == "function" {
			b.functions = append(b.functions, s)
		}
	}
	sort.SliceStable(b.functions, func(i, j int) bool { return b.functions[i].Line < b.functions[j].Line })
	return b
}

// functionAt returns the function enclosing line, or the global scope.
// CFG block ranges are authoritative; without them, the scope of a fact
// recorded at that line is used.
func (b *Bundle) functionAt(line int) string {
	best := ""
	bestSpan := -1
	for fn, blocks := range b.blocksByFn {
		for _, blk := range blocks {
			if line < blk.StartLine || line > blk.EndLine {
				continue
			}
			span := blk.EndLine - blk.StartLine
			if bestSpan < 0 || span < bestSpan || (span == bestSpan && fn < best) {
				best, bestSpan = fn, span
			}
		}
	}
	if best != "" {
		return best
	}
	if as := b.assignsAt[line]; len(as) > 0 {
		return as[0].Function
	}
	if cs := b.callsAt[line]; len(cs) > 0 {
		return cs[0].Caller
	}
	return facts.GlobalScope
}

const recordOverhead = 64

// smallSize covers records with no variable-length payload worth counting.
const smallSize = 2 * 2 * recordOverhead

// Per-record estimates double the raw footprint to account for the index
// maps built over each record.

func symbolSize(s facts.Symbol) int64 {
	return 2 * (recordOverhead + int64(len(s.File)+len(s.Name)+len(s.Kind)))
}

func assignmentSize(a facts.Assignment) int64 {
	n := recordOverhead + int64(len(a.File)+len(a.TargetVar)+len(a.SourceExpr)+len(a.Function)+len(a.SourceCallee))
	for _, v := range a.SourceVars {
		n += 16 + int64(len(v))
	}
	return 2 * n
}

func callSize(c facts.CallArg) int64 {
	return 2 * (recordOverhead + int64(len(c.File)+len(c.Caller)+len(c.Callee)+len(c.ArgExpr)+len(c.ParamName)))
}

func returnSize(r facts.Return) int64 {
	n := recordOverhead + int64(len(r.File)+len(r.Function)+len(r.ReturnExpr))
	for _, v := range r.ReturnVars {
		n += 16 + int64(len(v))
	}
	return 2 * n
}

func importSize(im facts.Import) int64 {
	return 2 * (recordOverhead + int64(len(im.File)+len(im.Value)+len(im.ResolvedTarget)))
}

func sqlSize(q facts.SQLQuery) int64 {
	return 2 * (recordOverhead + int64(len(q.File)+len(q.QueryText)))
}

// EstimateSize approximates the resident size of a file's facts in bytes.
func EstimateSize(ff *facts.FileFacts) int64 {
	var n int64
	for _, s := range ff.Symbols {
		n += symbolSize(s)
	}
	for _, a := range ff.Assignments {
		n += assignmentSize(a)
	}
	for _, c := range ff.Calls {
		n += callSize(c)
	}
	for _, r := range ff.Returns {
		n += returnSize(r)
	}
	for _, im := range ff.Imports {
		n += importSize(im)
	}
	for _, q := range ff.SQL {
		n += sqlSize(q)
	}
	n += int64(len(ff.OrmQueries)+len(ff.CfgBlocks)+len(ff.CfgEdges)) * smallSize
	return n
}
