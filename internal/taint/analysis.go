package taint

import (
	"sort"
	"strconv"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
)

// analysis is the read-only context shared by every backward and forward
// unit of one run.
type analysis struct {
	cache      *cache.Cache
	dfg        *graph.Graph
	registry   *Registry
	resolver   *graph.CallResolver
	sanitizers *sanitizerCheck
	bounds     config.Bounds
	k          int

	sources map[occSite][]*Occurrence
	sinks   map[sinkSite][]*SinkSite
}

type occSite struct {
	file, scope string
	line        int
}

type sinkSite struct {
	file string
	line int
}

func newAnalysis(c *cache.Cache, dfg *graph.Graph, r *Registry, resolver *graph.CallResolver, b config.Bounds, sources []Occurrence, sinks []SinkSite) *analysis {
	k := b.MaxFields
	if k <= 0 {
		k = DefaultMaxFields
	}
	a := &analysis{
		cache:      c,
		dfg:        dfg,
		registry:   r,
		resolver:   resolver,
		sanitizers: &sanitizerCheck{cache: c, registry: r, k: k},
		bounds:     b,
		k:          k,
		sources:    make(map[occSite][]*Occurrence),
		sinks:      make(map[sinkSite][]*SinkSite),
	}
	for i := range sources {
		o := &sources[i]
		s := occSite{o.File, o.Scope, o.Line}
		a.sources[s] = append(a.sources[s], o)
	}
	for i := range sinks {
		s := &sinks[i]
		a.sinks[sinkSite{s.File, s.Line}] = append(a.sinks[sinkSite{s.File, s.Line}], s)
	}
	return a
}

// sourceAt returns the source occurrence at (file, scope, line) compatible
// with any of paths, preferring the longest access path.
func (a *analysis) sourceAt(file, scope string, line int, paths ...AccessPath) *Occurrence {
	var best *Occurrence
	for _, o := range a.sources[occSite{file, scope, line}] {
		if !compatibleAny(o.Path, paths) {
			continue
		}
		if best == nil || o.Path.Len() > best.Path.Len() {
			best = o
		}
	}
	return best
}

func compatibleAny(p AccessPath, paths []AccessPath) bool {
	for _, q := range paths {
		if !q.IsZero() && p.Compatible(q) {
			return true
		}
	}
	return false
}

func (a *analysis) varPath(name string) AccessPath {
	p, ok := ParsePath(name, a.k)
	if !ok {
		return AccessPath{Base: name}
	}
	return p
}

// opaqueCalls returns the calls at (file, line) in scope to unresolved
// callees whose name is registered. Such calls carry taint from their
// arguments to their result even though the callee body is unknown.
func (a *analysis) opaqueCalls(file, scope string, line int) []facts.CallArg {
	var out []facts.CallArg
	for _, c := range a.cache.CallsAt(file, line) {
		if c.Caller != scope || c.ArgKind != facts.ArgIdentifier || !a.registry.IsRegistered(c.Callee) {
			continue
		}
		if a.resolver != nil && a.resolver.Resolve(file, line, c.Callee).Resolved {
			continue
		}
		out = append(out, c)
	}
	return out
}

// assignmentFor returns the assignment at (file, line) in scope whose
// right-hand side is a call to callee.
func (a *analysis) assignmentFor(file, scope string, line int, callee string) (facts.Assignment, bool) {
	for _, asg := range a.cache.AssignmentsAt(file, line) {
		if asg.Function != scope {
			continue
		}
		if c, ok := graph.CallForAssignment(asg, a.cache.CallsAt(file, line)); ok && c.Callee == callee {
			return asg, true
		}
	}
	return facts.Assignment{}, false
}

// unresolvedThrough returns the unresolved callees that the assignment to
// target at (file, line) carries vars through. A call counts when one of
// vars is its identifier argument and, if the assignment names its source
// callee, it is that callee. Sanitizers are never reported.
func (a *analysis) unresolvedThrough(file, scope string, line int, target string, vars ...string) []string {
	var out []string
	for _, asg := range a.cache.AssignmentsAt(file, line) {
		if asg.Function != scope || asg.TargetVar != target {
			continue
		}
		for _, c := range a.cache.CallsAt(file, line) {
			if c.Caller != scope || c.ArgKind != facts.ArgIdentifier || a.sanitizers.neutralizes(c.Callee) {
				continue
			}
			if asg.SourceCallee != "" && c.Callee != asg.SourceCallee {
				continue
			}
			if containsString(out, c.Callee) || !a.passesAny(c.ArgExpr, vars) {
				continue
			}
			if a.resolver != nil && a.resolver.Resolve(file, line, c.Callee).Resolved {
				continue
			}
			out = append(out, c.Callee)
		}
	}
	return out
}

func (a *analysis) passesAny(arg string, vars []string) bool {
	base := a.varPath(arg).Base
	for _, v := range vars {
		if a.varPath(v).Base == base {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func opaqueCaveat(callee string) string {
	return "passes through unresolved callee " + callee
}

// unit is the mutable state of one analysis unit: a single sink for the
// backward engine or a single source occurrence for the forward engine.
type unit struct {
	*analysis
	engine  string
	visited *visited
	diag    *diag.Diagnostics
	flows   []api.ResolvedFlow
	limited bool
}

func (a *analysis) newUnit(engine string) *unit {
	return &unit{analysis: a, engine: engine, visited: newVisited(), diag: diag.NewDiagnostics()}
}

// record appends a flow unless the per-unit path bound has been reached.
func (u *unit) record(source *Occurrence, sink api.Location, category string, st taintState, path []api.Hop) {
	if u.limited {
		return
	}
	if len(u.flows) >= u.bounds.MaxPathsPerSink {
		u.limited = true
		u.diag.Bound(&diag.BoundExceeded{
			Bound: "max_paths_per_sink",
			Limit: u.bounds.MaxPathsPerSink,
			Where: sink.File + ":" + strconv.Itoa(sink.Line),
		})
		return
	}
	f := api.ResolvedFlow{
		Source:   source.Site,
		Sink:     sink,
		Status:   api.StatusVulnerable,
		HopCount: len(path),
		Path:     path,
		Category: category,
		Engine:   u.engine,
	}
	if f.Category == "" {
		f.Category = source.Category
	}
	if st.sanitized && st.sanAt <= len(path) {
		f.Status = api.StatusSanitized
		san := *st.sanitizer
		f.Sanitizer = &san
	}
	if len(st.caveats) > 0 {
		f.Caveats = append([]string(nil), st.caveats...)
		sort.Strings(f.Caveats)
	}
	u.flows = append(u.flows, f)
}

// rebase moves p from one variable onto another and records a truncation.
func (u *unit) rebase(p, from, to AccessPath, where string) AccessPath {
	out := Rebase(p, from, to, u.k)
	if out.Truncated && !p.Truncated {
		u.diag.Bound(&diag.BoundExceeded{Bound: "max_fields", Limit: u.k, Where: where})
	}
	return out
}

// depthExceeded reports and records whether an item is at max_depth.
func (u *unit) depthExceeded(it item) bool {
	if it.depth < u.bounds.MaxDepth {
		return false
	}
	u.diag.Bound(&diag.BoundExceeded{
		Bound: "max_depth",
		Limit: u.bounds.MaxDepth,
		Where: graph.VariableID(it.file, it.scope, it.path.String()),
	})
	return true
}
