package graph

import (
	"path"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Analyses over one graph type. They follow forward edges only; the
// reverse half of each pair would double every degree and turn every edge
// into a two-node cycle.

// Cycle is a strongly connected set of nodes, sorted by ID.
type Cycle struct {
	Nodes []string `json:"nodes"`
	Size  int      `json:"size"`
}

// Degree is the connectivity of one node.
type Degree struct {
	ID   string `json:"id"`
	File string `json:"file,omitempty"`
	Lang string `json:"lang,omitempty"`
	In   int    `json:"in_degree"`
	Out  int    `json:"out_degree"`
}

func (d Degree) Total() int { return d.In + d.Out }

// Impact is what a change to Targets can reach within the depth bound.
type Impact struct {
	Targets []string `json:"targets"`
	// Upstream nodes depend on a target; Downstream nodes are depended on.
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`
	Total      int      `json:"total_impacted"`
}

// Summary holds raw statistics of one graph type.
type Summary struct {
	Nodes        int            `json:"total_nodes"`
	Edges        int            `json:"total_edges"`
	Density      float64        `json:"graph_density"`
	Average      float64        `json:"average_connections"`
	Isolated     []string       `json:"isolated_nodes"`
	TopConnected []Degree       `json:"top_connected_nodes"`
	Cycles       []Cycle        `json:"cycles"`
	CycleCount   int            `json:"cycle_count"`
	FileTypes    map[string]int `json:"file_types"`
}

// adjacency is the forward edge structure of gt over internal node IDs.
type adjacency struct {
	ids  []uint32
	out  map[uint32][]uint32
	in   map[uint32][]uint32
	deg  map[uint32]*Degree
	edge int
}

func (g *Graph) adjacency(gt GraphType) *adjacency {
	a := &adjacency{out: make(map[uint32][]uint32), in: make(map[uint32][]uint32), deg: make(map[uint32]*Degree)}
	tb, ok := g.typeNodes[gt]
	if !ok {
		return a
	}
	a.ids = tb.ToArray()
	sort.Slice(a.ids, func(i, j int) bool { return g.intToNode[a.ids[i]].ID < g.intToNode[a.ids[j]].ID })
	for _, id := range a.ids {
		n := g.nodes[g.intToNode[id]]
		a.deg[id] = &Degree{ID: n.ID, File: n.File, Lang: n.Lang}
	}
	for _, id := range a.ids {
		for _, e := range g.out[g.intToNode[id]] {
			if e.IsReverse() {
				continue
			}
			to, ok := g.nodeIntID[NodeKey{e.Target, gt}]
			if !ok {
				continue
			}
			a.out[id] = append(a.out[id], to)
			a.in[to] = append(a.in[to], id)
			a.deg[id].Out++
			a.deg[to].In++
			a.edge++
		}
	}
	return a
}

// DetectCycles returns every strongly connected component of gt with more
// than one node, or a single node that calls or imports itself. Larger
// cycles come first.
func (g *Graph) DetectCycles(gt GraphType) []Cycle {
	return g.cycles(g.adjacency(gt))
}

func (g *Graph) cycles(a *adjacency) []Cycle {
	var (
		index   = make(map[uint32]int)
		low     = make(map[uint32]int)
		onStack = roaring.New()
		stack   []uint32
		next    int
		out     []Cycle
	)
	var connect func(v uint32)
	connect = func(v uint32) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack.Add(v)
		for _, w := range a.out[v] {
			if _, seen := index[w]; !seen {
				connect(w)
				low[v] = min(low[v], low[w])
			} else if onStack.Contains(w) {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack.Remove(w)
			comp = append(comp, g.intToNode[w].ID)
			if w == v {
				break
			}
		}
		if len(comp) > 1 || selfLoop(a, v) {
			sort.Strings(comp)
			out = append(out, Cycle{Nodes: comp, Size: len(comp)})
		}
	}
	for _, v := range a.ids {
		if _, seen := index[v]; !seen {
			connect(v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].Nodes[0] < out[j].Nodes[0]
	})
	return out
}

func selfLoop(a *adjacency, v uint32) bool {
	for _, w := range a.out[v] {
		if w == v {
			return true
		}
	}
	return false
}

// ImpactOfChange walks up to maxDepth edges away from targets in both
// directions. A target is a node ID of gt or a file, which stands for every
// node of gt in that file.
func (g *Graph) ImpactOfChange(gt GraphType, targets []string, maxDepth int) Impact {
	a := g.adjacency(gt)
	seeds := roaring.New()
	for _, t := range targets {
		if id, ok := g.nodeIntID[NodeKey{t, gt}]; ok {
			seeds.Add(id)
			continue
		}
		if bm := g.fileNodes(gt, t); bm != nil {
			seeds.Or(bm)
		}
	}

	up := g.reach(seeds, a.in, maxDepth)
	down := g.reach(seeds, a.out, maxDepth)
	all := roaring.FastOr(seeds, up, down)
	return Impact{
		Targets:    g.sortedIDs(seeds),
		Upstream:   g.sortedIDs(up),
		Downstream: g.sortedIDs(down),
		Total:      int(all.GetCardinality()),
	}
}

// reach returns the nodes found by a breadth-first walk of adj from seeds.
// Seeds are only included when some path leads back to them.
func (g *Graph) reach(seeds *roaring.Bitmap, adj map[uint32][]uint32, maxDepth int) *roaring.Bitmap {
	found := roaring.New()
	expanded := roaring.New()
	frontier := seeds.ToArray()
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []uint32
		for _, v := range frontier {
			if !expanded.CheckedAdd(v) {
				continue
			}
			for _, w := range adj[v] {
				found.Add(w)
				next = append(next, w)
			}
		}
		frontier = next
	}
	return found
}

func (g *Graph) sortedIDs(bm *roaring.Bitmap) []string {
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, g.intToNode[it.Next()].ID)
	}
	sort.Strings(out)
	return out
}

// ShortestPath returns the node IDs of a shortest forward path from one
// node of gt to another, or nil when there is none.
func (g *Graph) ShortestPath(gt GraphType, from, to string) []string {
	a := g.adjacency(gt)
	src, ok := g.nodeIntID[NodeKey{from, gt}]
	if !ok {
		return nil
	}
	dst, ok := g.nodeIntID[NodeKey{to, gt}]
	if !ok {
		return nil
	}
	prev := map[uint32]uint32{src: src}
	queue := []uint32{src}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if v == dst {
			var path []string
			for ; v != src; v = prev[v] {
				path = append(path, g.intToNode[v].ID)
			}
			path = append(path, from)
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
		for _, w := range a.out[v] {
			if _, seen := prev[w]; !seen {
				prev[w] = v
				queue = append(queue, w)
			}
		}
	}
	return nil
}

// Hotspots returns the n most connected nodes of gt. Unconnected nodes are
// never hotspots.
func (g *Graph) Hotspots(gt GraphType, n int) []Degree {
	return hotspots(g.adjacency(gt), n)
}

func hotspots(a *adjacency, n int) []Degree {
	var out []Degree
	for _, id := range a.ids {
		if d := a.deg[id]; d.Total() > 0 {
			out = append(out, *d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total() > out[j].Total() })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Summarize computes raw statistics of gt: counts, density, isolated nodes,
// the ten most connected nodes, the five largest cycles and a count of
// nodes per file extension.
func (g *Graph) Summarize(gt GraphType) Summary {
	a := g.adjacency(gt)
	s := Summary{
		Nodes:     len(a.ids),
		Edges:     a.edge,
		Isolated:  []string{},
		FileTypes: make(map[string]int),
	}
	if s.Nodes > 1 {
		s.Density = float64(s.Edges) / float64(s.Nodes*(s.Nodes-1))
	}
	if s.Nodes > 0 {
		s.Average = float64(s.Edges) / float64(s.Nodes)
	}
	for _, id := range a.ids {
		d := a.deg[id]
		if d.Total() == 0 {
			s.Isolated = append(s.Isolated, d.ID)
		}
		if d.File != "" {
			ext := path.Ext(d.File)
			if ext == "" {
				ext = "no_ext"
			}
			s.FileTypes[ext]++
		}
	}
	s.TopConnected = hotspots(a, 10)
	cycles := g.cycles(a)
	s.CycleCount = len(cycles)
	if len(cycles) > 5 {
		cycles = cycles[:5]
	}
	s.Cycles = cycles
	return s
}
