package taint

import (
	"sort"
	"strconv"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
)

// Occurrence kinds.
const (
	KindRead       = "read"
	KindArgument   = "argument"
	KindReturn     = "return"
	KindProperty   = "property"
	KindCallResult = "call_result"
	KindEndpoint   = "endpoint"
	KindORM        = "orm"
)

// Occurrence is one place where a source pattern matched. Line is the
// statement line the taint is introduced at; 0 means function entry (endpoint
// request parameters).
type Occurrence struct {
	File     string
	Scope    string
	Path     AccessPath
	Line     int
	Pattern  string
	Category string
	Kind     string
	// Defines is set when the occurrence is the target assigned at Line, so
	// its value is observable only from the next line on.
	Defines bool
	// Site is the reported source location.
	Site api.Location
}

func (o *Occurrence) key() string {
	return o.File + "::" + o.Scope + "::" + o.Path.String() + "@" + strconv.Itoa(o.Line)
}

// SinkArg is one tainted-argument seed of a sink call.
type SinkArg struct {
	Index int
	Expr  string
	Path  AccessPath
}

// SinkSite is a call to a registered sink.
type SinkSite struct {
	File     string
	Line     int
	Scope    string
	Callee   string
	Category string
	Args     []SinkArg
	SQL      []facts.SQLQuery
}

func (s SinkSite) Location() api.Location {
	return api.Location{File: s.File, Line: s.Line, Symbol: s.Callee}
}

// Discovery finds source occurrences and sink sites from structured facts
// only. Names are matched exactly or by access path prefix, never by
// substring.
type Discovery struct {
	cache    *cache.Cache
	registry *Registry
	resolver *graph.CallResolver
	diag     *diag.Diagnostics
	k        int
}

func NewDiscovery(c *cache.Cache, r *Registry, resolver *graph.CallResolver, d *diag.Diagnostics, maxFields int) *Discovery {
	if maxFields <= 0 {
		maxFields = DefaultMaxFields
	}
	return &Discovery{cache: c, registry: r, resolver: resolver, diag: d, k: maxFields}
}

func (d *Discovery) path(expr, where string) (AccessPath, bool) {
	p, ok := ParsePath(expr, d.k)
	if ok && p.Truncated && d.diag != nil {
		d.diag.Bound(&diag.BoundExceeded{Bound: "max_fields", Limit: d.k, Where: where})
	}
	return p, ok
}

// Sources returns every source occurrence, ORM-expanded and sorted.
func (d *Discovery) Sources() []Occurrence {
	var out []Occurrence
	seen := make(map[string]struct{})
	add := func(o Occurrence) {
		k := o.key()
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, o)
	}
	matchPath := func(file, scope, expr string, line int, kind string) {
		p, ok := d.path(expr, file+":"+strconv.Itoa(line))
		if !ok {
			return
		}
		pat, ok := d.registry.SourceForPath(p)
		if !ok {
			return
		}
		add(Occurrence{
			File: file, Scope: scope, Path: p, Line: line,
			Pattern: pat.Pattern, Category: pat.Category, Kind: kind,
			Site: api.Location{File: file, Line: line, Symbol: p.String()},
		})
	}

	for _, file := range d.cache.SourceFiles() {
		for _, a := range d.cache.AssignmentsIn(file) {
			for _, v := range a.SourceVars {
				matchPath(file, a.Function, v, a.Line, KindRead)
			}
		}
		for _, c := range d.cache.CallsIn(file) {
			if c.ArgKind == facts.ArgIdentifier {
				matchPath(file, c.Caller, c.ArgExpr, c.Line, KindArgument)
			}
		}
		for _, r := range d.cache.ReturnsIn(file) {
			for _, v := range r.ReturnVars {
				matchPath(file, r.Function, v, r.Line, KindReturn)
			}
		}
		for _, s := range d.cache.Symbols(file) {
			if s.Kind == "property" {
				matchPath(file, d.cache.FunctionAt(file, s.Line), s.Name, s.Line, KindProperty)
			}
		}
		for _, o := range d.callResults(file) {
			add(o)
		}
	}
	for _, o := range d.endpointSources() {
		add(o)
	}
	for _, o := range d.expandORM(out) {
		add(o)
	}
	sortOccurrences(out)
	return out
}

// callResults finds assignments whose right-hand side calls a registered
// source; the assignment target is the occurrence.
func (d *Discovery) callResults(file string) []Occurrence {
	var out []Occurrence
	for _, a := range d.cache.AssignmentsIn(file) {
		c, ok := graph.CallForAssignment(a, d.cache.CallsAt(file, a.Line))
		if !ok {
			continue
		}
		pat, ok := d.registry.SourceForCall(c.Callee)
		if !ok {
			continue
		}
		p, ok := d.path(a.TargetVar, file+":"+strconv.Itoa(a.Line))
		if !ok {
			continue
		}
		out = append(out, Occurrence{
			File: file, Scope: a.Function, Path: p, Line: a.Line,
			Pattern: pat.Pattern, Category: pat.Category, Kind: KindCallResult, Defines: true,
			Site: api.Location{File: file, Line: a.Line, Symbol: p.String()},
		})
	}
	return out
}

// endpointSources taints the request parameter of each matching endpoint's
// handler from function entry.
func (d *Discovery) endpointSources() []Occurrence {
	var out []Occurrence
	for _, ep := range d.cache.Endpoints() {
		pat, ok := d.registry.SourceForEndpoint(ep.Method, ep.Pattern)
		if !ok || ep.Handler == "" || ep.RequestParam == "" {
			continue
		}
		p, ok := d.path(ep.RequestParam, ep.File+":"+strconv.Itoa(ep.Line))
		if !ok {
			continue
		}
		file := ep.File
		if d.resolver != nil {
			if res := d.resolver.Resolve(ep.File, ep.Line, ep.Handler); res.Resolved {
				file = res.File
			}
		}
		out = append(out, Occurrence{
			File: file, Scope: ep.Handler, Path: p, Line: 0,
			Pattern: pat.Pattern, Category: pat.Category, Kind: KindEndpoint,
			Site: api.Location{File: ep.File, Line: ep.Line, Symbol: p.String()},
		})
	}
	return out
}

// Sinks returns every call to a registered sink with at least one
// identifier argument, sorted by file and line.
func (d *Discovery) Sinks() []SinkSite {
	type siteKey struct {
		file, scope, callee string
		line                int
	}
	index := make(map[siteKey]int)
	var out []SinkSite
	for _, file := range d.cache.SourceFiles() {
		for _, c := range d.cache.CallsIn(file) {
			pat, ok := d.registry.SinkFor(c.Callee)
			if !ok || c.ArgKind != facts.ArgIdentifier {
				continue
			}
			p, ok := d.path(c.ArgExpr, file+":"+strconv.Itoa(c.Line))
			if !ok {
				continue
			}
			k := siteKey{file, c.Caller, c.Callee, c.Line}
			i, seen := index[k]
			if !seen {
				i = len(out)
				index[k] = i
				out = append(out, SinkSite{
					File: file, Line: c.Line, Scope: c.Caller,
					Callee: c.Callee, Category: pat.Category,
					SQL: d.cache.SQLAt(file, c.Line),
				})
			}
			out[i].Args = appendArg(out[i].Args, SinkArg{Index: c.ArgIndex, Expr: c.ArgExpr, Path: p})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return a.Callee < b.Callee
	})
	return out
}

func appendArg(args []SinkArg, a SinkArg) []SinkArg {
	for _, x := range args {
		if x.Index == a.Index && x.Expr == a.Expr {
			return args
		}
	}
	args = append(args, a)
	sort.Slice(args, func(i, j int) bool {
		if args[i].Index != args[j].Index {
			return args[i].Index < args[j].Index
		}
		return args[i].Expr < args[j].Expr
	})
	return args
}

func sortOccurrences(occ []Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if as, bs := a.Path.String(), b.Path.String(); as != bs {
			return as < bs
		}
		return a.Kind < b.Kind
	})
}
