package graph

import (
	"sort"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
)

// Resolution is the outcome of resolving one callee name at one call site.
type Resolution struct {
	Callee   string
	File     string // defining file; empty when unresolved
	ID       string // function node ID, or the ghost callee ID
	Resolved bool
	Reason   string // "ambiguous" or "external" when unresolved
}

// CallResolver maps callee names to exactly one function definition using
// structured facts only: exact symbol names plus resolved import links.
type CallResolver struct {
	cache *cache.Cache
	diag  *diag.Diagnostics
}

func NewCallResolver(c *cache.Cache, d *diag.Diagnostics) *CallResolver {
	return &CallResolver{cache: c, diag: d}
}

// Resolve resolves callee as called from file at line. A unique same-file
// definition wins; otherwise a unique definition among the files that file
// imports. Anything else becomes a ghost and is recorded as a gap.
func (r *CallResolver) Resolve(file string, line int, callee string) Resolution {
	var candidates []string
	seen := make(map[string]struct{})
	for _, s := range r.cache.SymbolsNamed(callee) {
		if s.Kind != string(NodeFunction) {
			continue
		}
		if _, dup := seen[s.File]; dup {
			continue
		}
		seen[s.File] = struct{}{}
		candidates = append(candidates, s.File)
	}
	sort.Strings(candidates)

	if _, ok := seen[file]; ok {
		return r.resolved(callee, file)
	}
	if len(candidates) > 0 {
		imported := make(map[string]struct{})
		for _, im := range r.cache.ImportsFor(file) {
			if im.ResolvedTarget != "" {
				imported[im.ResolvedTarget] = struct{}{}
			}
		}
		var linked []string
		for _, c := range candidates {
			if _, ok := imported[c]; ok {
				linked = append(linked, c)
			}
		}
		if len(linked) == 1 {
			return r.resolved(callee, linked[0])
		}
	}

	reason := diag.ReasonExternal
	if len(candidates) > 0 {
		reason = diag.ReasonAmbiguous
	}
	res := Resolution{Callee: callee, ID: GhostCalleeID(callee), Reason: reason}
	if r.diag != nil {
		r.diag.Gap(&diag.ResolutionGap{Node: res.ID, Name: callee, Reason: reason, File: file, Line: line})
	}
	return res
}

func (r *CallResolver) resolved(callee, file string) Resolution {
	return Resolution{Callee: callee, File: file, ID: FunctionID(file, callee), Resolved: true}
}
