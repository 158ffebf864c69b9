package graph

import (
	"errors"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/flowgraph/internal/diag"
)

var ErrNotFound = errors.New("node not found")

// GraphType partitions nodes and edges. The same ID may exist in several
// graph types.
type GraphType string

const (
	TypeImport   GraphType = "import"
	TypeCall     GraphType = "call"
	TypeDataFlow GraphType = "data_flow"
)

type NodeType string

const (
	NodeModule     NodeType = "module"
	NodeFunction   NodeType = "function"
	NodeVariable   NodeType = "variable"
	NodeReturn     NodeType = "return_value"
	NodeUnresolved NodeType = "unresolved"
)

// Edge types. Every forward type T is paired with T + ReverseSuffix.
const (
	EdgeImport           = "import"
	EdgeCall             = "call"
	EdgeAssignment       = "assignment"
	EdgeReturn           = "return"
	EdgeParameterBinding = "parameter_binding"
	EdgeCallReturn       = "call_return"

	ReverseSuffix = "_reverse"
)

// DataFlowEdgeTypes are the forward edge categories the analyzers traverse.
var DataFlowEdgeTypes = []string{EdgeAssignment, EdgeReturn, EdgeParameterBinding, EdgeCallReturn}

// Node is a vertex in one of the three graphs.
type Node struct {
	ID        string
	File      string
	Lang      string
	Type      NodeType
	GraphType GraphType
	Metadata  map[string]string
}

type NodeKey struct {
	ID        string
	GraphType GraphType
}

func (n *Node) Key() NodeKey { return NodeKey{n.ID, n.GraphType} }

// EdgeKey is the uniqueness key of an edge.
type EdgeKey struct {
	Source    string
	Target    string
	Type      string
	GraphType GraphType
}

// Edge connects two nodes of the same graph type. Statements that produce
// the same key are merged into Lines.
type Edge struct {
	Source    string
	Target    string
	Type      string
	GraphType GraphType
	File      string
	Lines     []int
	Metadata  map[string]string
}

func (e *Edge) Key() EdgeKey { return EdgeKey{e.Source, e.Target, e.Type, e.GraphType} }

// IsReverse reports whether e is the reverse half of a pair.
func (e *Edge) IsReverse() bool { return strings.HasSuffix(e.Type, ReverseSuffix) }

// Reverse returns the paired reverse edge.
func (e *Edge) Reverse() *Edge {
	r := *e
	r.Source, r.Target = e.Target, e.Source
	r.Type = e.Type + ReverseSuffix
	r.Lines = append([]int(nil), e.Lines...)
	r.Metadata = copyMeta(e.Metadata)
	return &r
}

// HasLine reports whether the edge was produced by a statement at line.
func (e *Edge) HasLine(line int) bool {
	i := sort.SearchInts(e.Lines, line)
	return i < len(e.Lines) && e.Lines[i] == line
}

// Graph is an in-memory node/edge set with forward and reverse adjacency.
// Not safe for concurrent mutation; read-only use after building is safe.
type Graph struct {
	nodes map[NodeKey]*Node
	edges map[EdgeKey]*Edge
	out   map[NodeKey][]*Edge
	in    map[NodeKey][]*Edge

	// Roaring bitmap indices over internal node IDs: by owning file and
	// by graph type. Their intersection scopes a file to one graph.
	fileToNodes map[string]*roaring.Bitmap
	typeNodes   map[GraphType]*roaring.Bitmap
	nodeIntID   map[NodeKey]uint32
	intToNode   []NodeKey

	// scope index over variable nodes: (graph type, file, scope, base) → names
	vars map[scopeKey][]string
	// (graph type, file, base) → scopes that hold such a variable
	scopes map[scopeKey][]string
}

type scopeKey struct {
	gt    GraphType
	file  string
	scope string
	base  string
}

func New() *Graph {
	return &Graph{
		nodes:       make(map[NodeKey]*Node),
		edges:       make(map[EdgeKey]*Edge),
		out:         make(map[NodeKey][]*Edge),
		in:          make(map[NodeKey][]*Edge),
		fileToNodes: make(map[string]*roaring.Bitmap),
		typeNodes:   make(map[GraphType]*roaring.Bitmap),
		nodeIntID:   make(map[NodeKey]uint32),
		vars:        make(map[scopeKey][]string),
		scopes:      make(map[scopeKey][]string),
	}
}

// AddNode inserts n, or merges its metadata into an existing node with the
// same key. Empty fields of the existing node are filled from n.
func (g *Graph) AddNode(n *Node) *Node {
	k := n.Key()
	if cur, ok := g.nodes[k]; ok {
		if cur.File == "" && n.File != "" {
			cur.File = n.File
			g.indexFile(cur.File, g.nodeIntID[k])
		}
		if cur.Lang == "" {
			cur.Lang = n.Lang
		}
		for mk, mv := range n.Metadata {
			if cur.Metadata == nil {
				cur.Metadata = make(map[string]string)
			}
			if _, set := cur.Metadata[mk]; !set {
				cur.Metadata[mk] = mv
			}
		}
		return cur
	}
	cp := *n
	cp.Metadata = copyMeta(n.Metadata)
	g.nodes[k] = &cp
	g.indexNode(&cp)
	return &cp
}

func (g *Graph) indexNode(n *Node) {
	k := n.Key()
	intID := uint32(len(g.intToNode))
	g.nodeIntID[k] = intID
	g.intToNode = append(g.intToNode, k)
	tb, ok := g.typeNodes[n.GraphType]
	if !ok {
		tb = roaring.New()
		g.typeNodes[n.GraphType] = tb
	}
	tb.Add(intID)
	if n.File != "" {
		g.indexFile(n.File, intID)
	}
	if n.Type == NodeVariable || n.Type == NodeReturn {
		if file, scope, name, ok := SplitScoped(n.ID); ok {
			sk := scopeKey{n.GraphType, file, scope, baseOf(name)}
			g.vars[sk] = insertSorted(g.vars[sk], name)
			bk := scopeKey{gt: n.GraphType, file: file, base: sk.base}
			g.scopes[bk] = insertSorted(g.scopes[bk], scope)
		}
	}
}

func (g *Graph) indexFile(file string, intID uint32) {
	bm, ok := g.fileToNodes[file]
	if !ok {
		bm = roaring.New()
		g.fileToNodes[file] = bm
	}
	bm.Add(intID)
}

// AddEdge inserts e, merging Lines and metadata into an existing edge with
// the same key. Both endpoints must already exist.
func (g *Graph) AddEdge(e *Edge) *Edge {
	k := e.Key()
	if cur, ok := g.edges[k]; ok {
		for _, l := range e.Lines {
			cur.Lines = insertSortedInt(cur.Lines, l)
		}
		for mk, mv := range e.Metadata {
			if cur.Metadata == nil {
				cur.Metadata = make(map[string]string)
			}
			if _, set := cur.Metadata[mk]; !set {
				cur.Metadata[mk] = mv
			}
		}
		return cur
	}
	cp := *e
	cp.Lines = nil
	for _, l := range e.Lines {
		cp.Lines = insertSortedInt(cp.Lines, l)
	}
	cp.Metadata = copyMeta(e.Metadata)
	g.edges[k] = &cp
	src := NodeKey{e.Source, e.GraphType}
	dst := NodeKey{e.Target, e.GraphType}
	g.out[src] = append(g.out[src], &cp)
	g.in[dst] = append(g.in[dst], &cp)
	return &cp
}

// AddEdgePair inserts a forward edge and its reverse.
func (g *Graph) AddEdgePair(e *Edge) {
	g.AddEdge(e)
	g.AddEdge(e.Reverse())
}

func (g *Graph) Node(gt GraphType, id string) (*Node, error) {
	n, ok := g.nodes[NodeKey{id, gt}]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (g *Graph) HasNode(gt GraphType, id string) bool {
	_, ok := g.nodes[NodeKey{id, gt}]
	return ok
}

// Edge returns the edge with key k, if present.
func (g *Graph) Edge(k EdgeKey) (*Edge, bool) {
	e, ok := g.edges[k]
	return e, ok
}

// Out returns edges leaving id, optionally restricted to one edge type.
func (g *Graph) Out(gt GraphType, id, edgeType string) []*Edge {
	return filterType(g.out[NodeKey{id, gt}], edgeType)
}

// In returns edges entering id, optionally restricted to one edge type.
func (g *Graph) In(gt GraphType, id, edgeType string) []*Edge {
	return filterType(g.in[NodeKey{id, gt}], edgeType)
}

func filterType(es []*Edge, edgeType string) []*Edge {
	if edgeType == "" {
		return es
	}
	var out []*Edge
	for _, e := range es {
		if e.Type == edgeType {
			out = append(out, e)
		}
	}
	return out
}

// Nodes returns the nodes of gt sorted by ID. An empty gt returns all.
func (g *Graph) Nodes(gt GraphType) []*Node {
	var out []*Node
	for k, n := range g.nodes {
		if gt == "" || k.GraphType == gt {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GraphType != out[j].GraphType {
			return out[i].GraphType < out[j].GraphType
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Edges returns the edges of gt sorted by key. An empty gt returns all.
func (g *Graph) Edges(gt GraphType) []*Edge {
	var out []*Edge
	for k, e := range g.edges {
		if gt == "" || k.GraphType == gt {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

func lessKey(a, b EdgeKey) bool {
	if a.GraphType != b.GraphType {
		return a.GraphType < b.GraphType
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Target != b.Target {
		return a.Target < b.Target
	}
	return a.Type < b.Type
}

func (g *Graph) NodeCount(gt GraphType) int { return len(g.Nodes(gt)) }

func (g *Graph) EdgeCount(gt GraphType) int {
	n := 0
	for k := range g.edges {
		if k.GraphType == gt {
			n++
		}
	}
	return n
}

// NodesInFile returns the keys of nodes of gt whose File is file, in
// insertion order. An empty gt returns the file's nodes of every type.
func (g *Graph) NodesInFile(gt GraphType, file string) []NodeKey {
	bm := g.fileNodes(gt, file)
	if bm == nil {
		return nil
	}
	out := make([]NodeKey, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, g.intToNode[it.Next()])
	}
	return out
}

func (g *Graph) fileNodes(gt GraphType, file string) *roaring.Bitmap {
	bm, ok := g.fileToNodes[file]
	if !ok {
		return nil
	}
	if gt == "" {
		return bm
	}
	tb, ok := g.typeNodes[gt]
	if !ok {
		return nil
	}
	return roaring.And(bm, tb)
}

// Files returns every file that owns at least one node of gt, sorted. An
// empty gt considers every graph type.
func (g *Graph) Files(gt GraphType) []string {
	tb := g.typeNodes[gt]
	out := make([]string, 0, len(g.fileToNodes))
	for f, bm := range g.fileToNodes {
		if gt != "" && (tb == nil || !bm.Intersects(tb)) {
			continue
		}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// VariablesWithBase returns the sorted variable names in (file, scope) of
// graph gt whose first segment is base.
func (g *Graph) VariablesWithBase(gt GraphType, file, scope, base string) []string {
	return g.vars[scopeKey{gt, file, scope, base}]
}

// ScopesWithBase returns the sorted scopes of file that hold a variable
// whose first segment is base.
func (g *Graph) ScopesWithBase(gt GraphType, file, base string) []string {
	return g.scopes[scopeKey{gt: gt, file: file, base: base}]
}

// Merge copies every node and edge of other into g.
func (g *Graph) Merge(other *Graph) {
	for _, n := range other.Nodes("") {
		g.AddNode(n)
	}
	for _, e := range other.Edges("") {
		g.AddEdge(e)
	}
}

// CheckReverseEdges verifies that every forward edge of gt has its reverse
// pair. A graph without the pairing cannot be traversed backward.
func (g *Graph) CheckReverseEdges(gt GraphType) error {
	for _, e := range g.Edges(gt) {
		if e.IsReverse() {
			continue
		}
		rk := EdgeKey{e.Target, e.Source, e.Type + ReverseSuffix, gt}
		if _, ok := g.edges[rk]; !ok {
			return &diag.ConfigurationError{
				Element: "edge category " + e.Type + ReverseSuffix,
				Detail:  "no reverse edge for " + e.Source + " -> " + e.Target,
			}
		}
	}
	return nil
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func insertSortedInt(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func baseOf(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
