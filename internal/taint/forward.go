package taint

import (
	"context"
	"strconv"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
)

// forward walks data-flow edges from one source occurrence to every sink it
// reaches. Sink hits are recorded and the walk continues past them.
func (a *analysis) forward(ctx context.Context, src *Occurrence) (*unit, error) {
	u := a.newUnit(api.EngineForward)
	avail := src.Line
	if src.Defines {
		avail++
	}
	st := taintState{source: src}
	queue := []item{{file: src.File, scope: src.Scope, path: src.Path, point: avail, state: st}}

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
			continue
		}
		queue = append(queue, u.successors(it)...)
	}
	return u, nil
}

func (u *unit) successors(it item) []item {
	if it.path.Base == graph.ReturnName {
		return u.returnSuccessors(it)
	}

	var next []item
	for _, name := range u.candidates(it.file, it.scope, it.path) {
		id := graph.VariableID(it.file, it.scope, name)
		vp := u.varPath(name)
		for _, e := range u.dfg.Out(graph.TypeDataFlow, id, "") {
			if e.IsReverse() || e.Type == graph.EdgeCallReturn {
				continue
			}
			for _, l := range e.Lines {
				if l < it.point || u.killedBetween(it.file, it.scope, it.path, it.point, l) {
					continue
				}
				st := it.state
				if it.via != "" {
					st = st.withHop(api.Hop{File: it.file, Line: l, OpKind: it.via})
				}
				next = append(next, u.use(it, st, e, name, vp, l)...)
			}
		}
	}

	if len(next) == 0 && it.scope == facts.GlobalScope {
		next = append(next, u.enterScopes(it)...)
	}
	return next
}

// use applies the forward flow function of edge e, used at line l by the
// variable name.
func (u *unit) use(it item, st taintState, e *graph.Edge, name string, vp AccessPath, l int) []item {
	where := it.file + ":" + strconv.Itoa(l)
	depth := it.depth + 1

	switch e.Type {
	case graph.EdgeAssignment:
		_, _, target, ok := graph.SplitScoped(e.Target)
		if !ok {
			return nil
		}
		p := u.rebase(it.path, vp, u.varPath(target), where)
		st = st.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpAssignment})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, it.path, p))
		for _, callee := range u.unresolvedThrough(it.file, it.scope, l, target, name) {
			st = st.withCaveat(opaqueCaveat(callee))
		}
		return []item{{file: it.file, scope: it.scope, path: p, point: l + 1, depth: depth, state: st}}

	case graph.EdgeReturn:
		p := u.rebase(it.path, vp, AccessPath{Base: graph.ReturnName}, where)
		st = st.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpReturn})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, it.path))
		return []item{{file: it.file, scope: it.scope, path: p, depth: depth, state: st}}

	case graph.EdgeParameterBinding:
		callee := e.Metadata["callee"]
		u.sinkHits(it, st, callee, vp, l)

		if graph.IsGhost(e.Target) {
			return u.opaqueSuccessor(it, st, callee, name, vp, l)
		}
		pf, pfn, param, ok := graph.SplitScoped(e.Target)
		if !ok {
			return nil
		}
		p := u.rebase(it.path, vp, u.varPath(param), where)
		st = st.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpCallArgument})
		st = st.withSanitizer(u.sanitizers.at(it.file, l, it.path))
		return []item{{file: pf, scope: pfn, path: p, point: 0, depth: depth, state: st}}
	}
	return nil
}

// sinkHits records a flow for every sink call at (file, l) that receives the
// tainted variable.
func (u *unit) sinkHits(it item, st taintState, callee string, vp AccessPath, l int) {
	for _, s := range u.sinks[sinkSite{it.file, l}] {
		if s.Callee != callee || s.Scope != it.scope {
			continue
		}
		for _, arg := range s.Args {
			if !arg.Path.Equal(vp) {
				continue
			}
			hit := st.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpCallArgument})
			hit = hit.withSanitizer(u.sanitizers.at(it.file, l, it.path))
			u.record(st.source, s.Location(), s.Category, hit, hit.chain.oldestFirst())
			break
		}
	}
}

// opaqueSuccessor carries taint across a call to an unresolved, registered
// callee onto the variable its result is assigned to.
func (u *unit) opaqueSuccessor(it item, st taintState, callee, name string, vp AccessPath, l int) []item {
	if !u.registry.IsRegistered(callee) {
		return nil
	}
	asg, ok := u.assignmentFor(it.file, it.scope, l, callee)
	if !ok || containsString(asg.SourceVars, name) {
		return nil
	}
	p := u.rebase(it.path, vp, u.varPath(asg.TargetVar), it.file+":"+strconv.Itoa(l))
	st = st.withHop(api.Hop{File: it.file, Line: l, OpKind: api.OpOpaqueCall})
	st = st.withSanitizer(u.sanitizers.at(it.file, l, it.path, p))
	if !u.registry.IsSanitizer(callee) {
		st = st.withCaveat(opaqueCaveat(callee))
	}
	return []item{{file: it.file, scope: it.scope, path: p, point: l + 1, depth: it.depth + 1, state: st}}
}

// returnSuccessors resumes at every call site of the function whose return
// value is tainted.
func (u *unit) returnSuccessors(it item) []item {
	var next []item
	rid := graph.ReturnID(it.file, it.scope)
	from := AccessPath{Base: graph.ReturnName}
	for _, e := range u.dfg.Out(graph.TypeDataFlow, rid, graph.EdgeCallReturn) {
		cf, cfn, target, ok := graph.SplitScoped(e.Target)
		if !ok {
			continue
		}
		for _, l := range e.Lines {
			p := u.rebase(it.path, from, u.varPath(target), cf+":"+strconv.Itoa(l))
			st := it.state.withHop(api.Hop{File: cf, Line: l, OpKind: api.OpCallReturn})
			st = st.withSanitizer(u.sanitizers.at(cf, l, p))
			next = append(next, item{file: cf, scope: cfn, path: p, point: l + 1, depth: it.depth + 1, state: st})
		}
	}
	return next
}

// enterScopes continues a global-scope path into the functions of the same
// file that read the variable without defining it locally.
func (u *unit) enterScopes(it item) []item {
	var next []item
	for _, scope := range u.dfg.ScopesWithBase(graph.TypeDataFlow, it.file, it.path.Base) {
		if scope == facts.GlobalScope || len(u.definitions(it.file, scope, it.path)) > 0 {
			continue
		}
		next = append(next, item{
			file: it.file, scope: scope, path: it.path, point: 0,
			depth: it.depth + 1, state: it.state, via: api.OpGlobal,
		})
	}
	return next
}
