package graph

import (
	"log"
	"strconv"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
)

// Builder derives the import, call and data-flow graphs from cached facts.
// Builds are deterministic: the same facts always produce the same graphs.
type Builder struct {
	cache    *cache.Cache
	resolver *CallResolver
	diag     *diag.Diagnostics
	logger   *log.Logger
	langs    map[string]string
}

func NewBuilder(c *cache.Cache, d *diag.Diagnostics, logger *log.Logger) *Builder {
	if d == nil {
		d = c.Diagnostics()
	}
	if logger == nil {
		logger = log.Default()
	}
	langs := make(map[string]string)
	for _, f := range c.Files() {
		langs[f.Path] = f.Lang
	}
	return &Builder{
		cache:    c,
		resolver: NewCallResolver(c, d),
		diag:     d,
		logger:   logger,
		langs:    langs,
	}
}

func (b *Builder) Resolver() *CallResolver { return b.resolver }

// Build returns the graph of type gt.
func (b *Builder) Build(gt GraphType) *Graph {
	switch gt {
	case TypeImport:
		return b.ImportGraph()
	case TypeCall:
		return b.CallGraph()
	case TypeDataFlow:
		return b.DataFlowGraph()
	}
	return New()
}

// ImportGraph creates one module node per file and an import edge for every
// import whose target resolved inside the project.
func (b *Builder) ImportGraph() *Graph {
	g := New()
	external := 0
	for _, file := range b.cache.SourceFiles() {
		g.AddNode(&Node{ID: ModuleID(file), File: file, Lang: b.langs[file], Type: NodeModule, GraphType: TypeImport})
	}
	for _, file := range b.cache.SourceFiles() {
		for _, im := range b.cache.ImportsFor(file) {
			if im.ResolvedTarget == "" {
				external++
				continue
			}
			g.AddNode(&Node{ID: ModuleID(im.ResolvedTarget), File: im.ResolvedTarget, Lang: b.langs[im.ResolvedTarget],
				Type: NodeModule, GraphType: TypeImport})
			g.AddEdgePair(&Edge{
				Source:    ModuleID(file),
				Target:    ModuleID(im.ResolvedTarget),
				Type:      EdgeImport,
				GraphType: TypeImport,
				File:      file,
				Metadata:  map[string]string{"value": im.Value, "kind": im.Kind},
			})
		}
	}
	b.logger.Printf("ImportGraph: %d modules, %d edges, %d external imports",
		g.NodeCount(TypeImport), g.EdgeCount(TypeImport), external)
	return g
}

// CallGraph creates function nodes for defined functions and calling scopes,
// and one call edge per (caller, callee) pair. Unresolvable callees point at
// a ghost node.
func (b *Builder) CallGraph() *Graph {
	g := New()
	for _, file := range b.cache.SourceFiles() {
		for _, s := range b.cache.Functions(file) {
			g.AddNode(&Node{ID: FunctionID(file, s.Name), File: file, Lang: b.langs[file], Type: NodeFunction,
				GraphType: TypeCall, Metadata: map[string]string{"line": strconv.Itoa(s.Line)}})
		}
	}

	ghosts := 0
	for _, file := range b.cache.SourceFiles() {
		for _, c := range distinctCalls(b.cache.CallsIn(file)) {
			caller := g.AddNode(&Node{ID: FunctionID(file, c.Caller), File: file, Lang: b.langs[file],
				Type: NodeFunction, GraphType: TypeCall})
			res := b.resolver.Resolve(file, c.Line, c.Callee)
			if res.Resolved {
				g.AddNode(&Node{ID: res.ID, File: res.File, Lang: b.langs[res.File], Type: NodeFunction, GraphType: TypeCall})
			} else {
				if !g.HasNode(TypeCall, res.ID) {
					ghosts++
				}
				g.AddNode(&Node{ID: res.ID, Type: NodeUnresolved, GraphType: TypeCall,
					Metadata: map[string]string{"callee": c.Callee, "reason": res.Reason}})
			}
			g.AddEdgePair(&Edge{
				Source:    caller.ID,
				Target:    res.ID,
				Type:      EdgeCall,
				GraphType: TypeCall,
				File:      file,
				Lines:     []int{c.Line},
				Metadata:  map[string]string{"callee": c.Callee},
			})
		}
	}
	b.logger.Printf("CallGraph: %d functions, %d edges, %d unresolved callees",
		g.NodeCount(TypeCall), g.EdgeCount(TypeCall), ghosts)
	return g
}

// distinctCalls collapses argument rows into one row per call site.
func distinctCalls(args []facts.CallArg) []facts.CallArg {
	var out []facts.CallArg
	seen := make(map[string]struct{})
	for _, a := range args {
		k := strconv.Itoa(a.Line) + "|" + a.Caller + "|" + a.Callee
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}

// CallForAssignment returns the call whose result a is assigned from. Only
// the extractor's recorded source callee binds an assignment to a call; a
// call merely sharing the line does not. A bound call with no argument rows
// is returned with ArgIndex -1.
func CallForAssignment(a facts.Assignment, calls []facts.CallArg) (facts.CallArg, bool) {
	if a.SourceCallee == "" {
		return facts.CallArg{}, false
	}
	for _, c := range calls {
		if c.Caller == a.Function && c.Callee == a.SourceCallee {
			return c, true
		}
	}
	return facts.CallArg{File: a.File, Line: a.Line, Caller: a.Function, Callee: a.SourceCallee, ArgIndex: -1}, true
}

// unboundCall reports whether a has no recorded source callee while a call
// in its scope shares its line.
func unboundCall(a facts.Assignment, calls []facts.CallArg) bool {
	if a.SourceCallee != "" {
		return false
	}
	for _, c := range calls {
		if c.Caller == a.Function {
			return true
		}
	}
	return false
}
