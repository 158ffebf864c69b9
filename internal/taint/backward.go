package taint

import (
	"context"
	"math"
	"strconv"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
)

// backward walks reverse data-flow edges from one sink to the sources that
// reach it. Each tainted identifier argument is a seed; source matches are
// waypoints and a flow is recorded when a chain ends.
func (a *analysis) backward(ctx context.Context, sink *SinkSite) (*unit, error) {
	u := a.newUnit(api.EngineBackward)
	loc := sink.Location()

	var queue []item
	for _, arg := range sink.Args {
		st := taintState{}.withHop(api.Hop{File: sink.File, Line: sink.Line, OpKind: api.OpCallArgument})
		st = st.withSanitizer(a.sanitizers.at(sink.File, sink.Line, arg.Path))
		st = st.withSource(a.sourceAt(sink.File, sink.Scope, sink.Line, arg.Path))
		queue = append(queue, item{file: sink.File, scope: sink.Scope, path: arg.Path, point: sink.Line, depth: 1, state: st})
	}

	finish := func(st taintState) {
		if st.source == nil {
			return
		}
		u.record(st.source, loc, sink.Category, st, st.origin.newestFirst())
	}

	for len(queue) > 0 && !u.limited {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it := queue[0]
		queue = queue[1:]
		if !u.visited.add(it) {
			continue
		}
		if u.depthExceeded(it) {
			finish(it.state)
			continue
		}
		next, ends := u.predecessors(it)
		for _, st := range ends {
			finish(st)
		}
		queue = append(queue, next...)
	}
	return u, nil
}

// predecessors applies the backward flow functions to it. ends holds the
// states of chains that have no further predecessor.
func (u *unit) predecessors(it item) (next []item, ends []taintState) {
	if it.path.Base == graph.ReturnName {
		return u.returnPredecessors(it)
	}

	defs := u.definitions(it.file, it.scope, it.path)
	reach := u.reaching(it.file, it.scope, it.path, it.point, defs)

	entry := true
	for _, d := range reach {
		if d.kind == defAssign {
			entry = false
		}
	}
	if entry {
		it.state = it.state.withSource(u.sourceAt(it.file, it.scope, 0, it.path))
	}

	if len(reach) == 0 {
		if g, ok := u.globalFallback(it); ok {
			return []item{g}, nil
		}
		return nil, []taintState{it.state}
	}

	for _, d := range reach {
		n, e := u.fromDefinition(it, d)
		next = append(next, n...)
		ends = append(ends, e...)
	}
	return next, ends
}

// globalFallback continues a chain that has no definition in its function
// with the same access path in the file's global scope.
func (u *unit) globalFallback(it item) (item, bool) {
	if it.scope == facts.GlobalScope || len(u.candidates(it.file, facts.GlobalScope, it.path)) == 0 {
		return item{}, false
	}
	st := it.state.withHop(api.Hop{File: it.file, Line: it.point, OpKind: api.OpGlobal})
	return item{file: it.file, scope: facts.GlobalScope, path: it.path, point: math.MaxInt, depth: it.depth + 1, state: st}, true
}

func (u *unit) fromDefinition(it item, d def) (next []item, ends []taintState) {
	id := graph.VariableID(it.file, it.scope, d.name)
	where := it.file + ":" + strconv.Itoa(d.line)

	if d.kind == defParam {
		for _, e := range u.dfg.Out(graph.TypeDataFlow, id, graph.EdgeParameterBinding+graph.ReverseSuffix) {
			cf, cfn, arg, ok := graph.SplitScoped(e.Target)
			if !ok {
				continue
			}
			p := u.rebase(it.path, d.path, u.varPath(arg), where)
			for _, l := range e.Lines {
				st := it.state.withHop(api.Hop{File: cf, Line: l, OpKind: api.OpCallArgument})
				st = st.withSanitizer(u.sanitizers.at(cf, l, p))
				st = st.withSource(u.sourceAt(cf, cfn, l, p))
				next = append(next, item{file: cf, scope: cfn, path: p, point: l, depth: it.depth + 1, state: st})
			}
		}
		if len(next) == 0 {
			ends = append(ends, it.state)
		}
		return next, ends
	}

	l := d.line
	base := it.state.withSource(u.sourceAt(it.file, it.scope, l, it.path))

	var srcVars []string
	for _, e := range u.dfg.Out(graph.TypeDataFlow, id, graph.EdgeAssignment+graph.ReverseSuffix) {
		if !e.HasLine(l) {
			continue
		}
		_, _, name, ok := graph.SplitScoped(e.Target)
		if !ok {
			continue
		}
		srcVars = append(srcVars, name)
		p := u.rebase(it.path, d.path, u.varPath(name), where)
		st := base.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpAssignment})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, p, it.path))
		for _, callee := range u.unresolvedThrough(it.file, it.scope, l, d.name, name) {
			st = st.withCaveat(opaqueCaveat(callee))
		}
		st = st.withSource(u.sourceAt(it.file, it.scope, l, p))
		next = append(next, item{file: it.file, scope: it.scope, path: p, point: l, depth: it.depth + 1, state: st})
	}

	for _, e := range u.dfg.Out(graph.TypeDataFlow, id, graph.EdgeCallReturn+graph.ReverseSuffix) {
		if !e.HasLine(l) {
			continue
		}
		rf, rfn, _, ok := graph.SplitScoped(e.Target)
		if !ok {
			continue
		}
		p := u.rebase(it.path, d.path, AccessPath{Base: graph.ReturnName}, where)
		st := base.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpCallReturn})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, it.path))
		next = append(next, item{file: rf, scope: rfn, path: p, point: math.MaxInt, depth: it.depth + 1, state: st})
	}

	for _, c := range u.opaqueCalls(it.file, it.scope, l) {
		asg, ok := u.assignmentFor(it.file, it.scope, l, c.Callee)
		if !ok || asg.TargetVar != d.name || containsString(srcVars, c.ArgExpr) {
			continue
		}
		p := u.rebase(it.path, d.path, u.varPath(c.ArgExpr), where)
		st := base.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpOpaqueCall})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, p, it.path))
		if !u.registry.IsSanitizer(c.Callee) {
			st = st.withCaveat(opaqueCaveat(c.Callee))
		}
		st = st.withSource(u.sourceAt(it.file, it.scope, l, p))
		next = append(next, item{file: it.file, scope: it.scope, path: p, point: l, depth: it.depth + 1, state: st})
	}

	if len(next) == 0 {
		ends = append(ends, base)
	}
	return next, ends
}

// returnPredecessors steps from a callee's return value to the variables it
// returns.
func (u *unit) returnPredecessors(it item) (next []item, ends []taintState) {
	rid := graph.ReturnID(it.file, it.scope)
	from := AccessPath{Base: graph.ReturnName}
	for _, e := range u.dfg.Out(graph.TypeDataFlow, rid, graph.EdgeReturn+graph.ReverseSuffix) {
		_, _, name, ok := graph.SplitScoped(e.Target)
		if !ok {
			continue
		}
		for _, l := range e.Lines {
			p := u.rebase(it.path, from, u.varPath(name), it.file+":"+strconv.Itoa(l))
			st := it.state.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpReturn})
			st = st.withSanitizer(u.sanitizers.at(it.file, l, p))
			st = st.withSource(u.sourceAt(it.file, it.scope, l, p))
			next = append(next, item{file: it.file, scope: it.scope, path: p, point: l, depth: it.depth + 1, state: st})
		}
	}
	if len(next) == 0 {
		ends = append(ends, it.state)
	}
	return next, ends
}
