package taint

import (
	"sort"

	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
)

// Definition kinds.
const (
	defAssign = "assignment"
	defParam  = "parameter"
)

// def is one definition of a variable inside a function scope. Parameter
// definitions sit at line 0, the function entry.
type def struct {
	line int
	name string
	path AccessPath
	kind string
}

// candidates returns the variables of (file, scope) that may alias p: p
// itself, its prefixes and its field extensions.
func (a *analysis) candidates(file, scope string, p AccessPath) []string {
	var out []string
	for _, name := range a.dfg.VariablesWithBase(graph.TypeDataFlow, file, scope, p.Base) {
		v, ok := ParsePath(name, -1)
		if ok && v.Compatible(p) {
			out = append(out, name)
		}
	}
	return out
}

// definitions returns every definition in (file, scope) of a variable that
// may alias p, ordered by line then name.
func (a *analysis) definitions(file, scope string, p AccessPath) []def {
	names := a.candidates(file, scope, p)
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]AccessPath, len(names))
	for _, n := range names {
		want[n], _ = ParsePath(n, a.k)
	}
	var out []def
	for _, asg := range a.cache.AssignmentsIn(file) {
		if asg.Function != scope {
			continue
		}
		if vp, ok := want[asg.TargetVar]; ok {
			out = append(out, def{line: asg.Line, name: asg.TargetVar, path: vp, kind: defAssign})
		}
	}
	for _, n := range names {
		id := graph.VariableID(file, scope, n)
		if len(a.dfg.Out(graph.TypeDataFlow, id, graph.EdgeParameterBinding+graph.ReverseSuffix)) > 0 {
			out = append(out, def{line: 0, name: n, path: want[n], kind: defParam})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].line != out[j].line {
			return out[i].line < out[j].line
		}
		if out[i].name != out[j].name {
			return out[i].name < out[j].name
		}
		return out[i].kind < out[j].kind
	})
	return dedupDefs(out)
}

func dedupDefs(ds []def) []def {
	out := ds[:0]
	for i, d := range ds {
		if i > 0 && d.line == ds[i-1].line && d.name == ds[i-1].name && d.kind == ds[i-1].kind {
			continue
		}
		out = append(out, d)
	}
	return out
}

// reaching selects the definitions of p that reach a use at line use.
// Definitions strictly before the use reach it unless killed by a later
// unconditional definition of p or one of its prefixes. Without any earlier
// definition, a loop back into the use block lets later definitions reach
// it; a function without CFG facts lets every definition reach it.
func (a *analysis) reaching(file, scope string, p AccessPath, use int, defs []def) []def {
	var before, after []def
	for _, d := range defs {
		if d.line < use {
			before = append(before, d)
		} else {
			after = append(after, d)
		}
	}
	if len(before) == 0 {
		switch {
		case !a.hasCFG(file, scope):
			return after
		case a.loopsInto(file, scope, use):
			return after
		}
		return nil
	}

	kill := -1
	for _, d := range before {
		if d.line > kill && d.path.PrefixOf(p) && (d.kind == defParam || a.unconditional(file, scope, d.line, use)) {
			kill = d.line
		}
	}
	var out []def
	for _, d := range before {
		if d.line >= kill {
			out = append(out, d)
		}
	}
	return out
}

// killedBetween reports whether p is unconditionally redefined in
// [from, to) before a use at line to.
func (a *analysis) killedBetween(file, scope string, p AccessPath, from, to int) bool {
	for _, asg := range a.cache.AssignmentsIn(file) {
		if asg.Function != scope || asg.Line < from || asg.Line >= to {
			continue
		}
		vp, ok := ParsePath(asg.TargetVar, a.k)
		if ok && vp.PrefixOf(p) && a.unconditional(file, scope, asg.Line, to) {
			return true
		}
	}
	return false
}

func (a *analysis) hasCFG(file, scope string) bool {
	return len(a.cache.BlocksOf(file, scope)) > 0
}

// blockOf returns the innermost CFG block of (file, scope) containing line.
func (a *analysis) blockOf(file, scope string, line int) (facts.CfgBlock, bool) {
	var best facts.CfgBlock
	found := false
	for _, b := range a.cache.BlocksOf(file, scope) {
		if line < b.StartLine || line > b.EndLine {
			continue
		}
		if !found || b.EndLine-b.StartLine < best.EndLine-best.StartLine {
			best, found = b, true
		}
	}
	return best, found
}

// unconditional reports whether a definition at def always executes before
// a use at use: both sit in the same CFG block, or there is no CFG to say
// otherwise.
func (a *analysis) unconditional(file, scope string, def, use int) bool {
	if !a.hasCFG(file, scope) {
		return true
	}
	db, ok1 := a.blockOf(file, scope, def)
	ub, ok2 := a.blockOf(file, scope, use)
	if !ok1 || !ok2 {
		return false
	}
	return db.ID == ub.ID
}

// loopsInto reports whether a CFG edge returns into the block of line from
// the same block or one that starts at or after it.
func (a *analysis) loopsInto(file, scope string, line int) bool {
	ub, ok := a.blockOf(file, scope, line)
	if !ok {
		return false
	}
	starts := make(map[int]int)
	for _, b := range a.cache.BlocksOf(file, scope) {
		starts[b.ID] = b.StartLine
	}
	for _, e := range a.cache.EdgesOf(file, scope) {
		if e.Target != ub.ID {
			continue
		}
		if e.EdgeType == "back_edge" || e.EdgeType == "loop" {
			return true
		}
		if s, ok := starts[e.Source]; ok && s >= ub.StartLine {
			return true
		}
	}
	return false
}
