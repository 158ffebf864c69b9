package taint

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/flowgraph/api"
)

type endpoints struct {
	srcFile string
	srcLine int
	sink    api.Location
}

func flowEnds(f api.ResolvedFlow) endpoints {
	return endpoints{f.Source.File, f.Source.Line, f.Sink}
}

func pathKey(hops []api.Hop) string {
	var b strings.Builder
	for _, h := range hops {
		b.WriteString(h.File)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(h.Line))
		b.WriteByte(':')
		b.WriteString(h.OpKind)
		b.WriteByte(';')
	}
	return b.String()
}

// Dedup unions flows from both engines. Flows with the same source, sink,
// status and hop sequence are merged; a flow whose hops are a proper sink-aligned
// suffix of another flow with the same source, sink and status is dropped. The
// result is sorted by sink, then source, then path.
func Dedup(flows []api.ResolvedFlow) []api.ResolvedFlow {
	type entry struct{ flow api.ResolvedFlow }
	byKey := make(map[string]int)
	var merged []entry
	for _, f := range flows {
		e := flowEnds(f)
		k := e.srcFile + "|" + strconv.Itoa(e.srcLine) + "|" + e.sink.File + "|" + strconv.Itoa(e.sink.Line) + "|" + e.sink.Symbol +
			"|" + string(f.Status) + "|" + pathKey(f.Path)
		i, ok := byKey[k]
		if !ok {
			byKey[k] = len(merged)
			merged = append(merged, entry{flow: f})
			continue
		}
		merged[i].flow = mergeFlow(merged[i].flow, f)
	}

	groups := make(map[endpoints][]int)
	for i, m := range merged {
		groups[flowEnds(m.flow)] = append(groups[flowEnds(m.flow)], i)
	}
	drop := make(map[int]bool)
	for _, idx := range groups {
		for _, i := range idx {
			for _, j := range idx {
				if i != j && merged[i].flow.Status == merged[j].flow.Status && properSuffix(merged[i].flow.Path, merged[j].flow.Path) {
					drop[i] = true
					merged[j].flow = mergeEngine(merged[j].flow, merged[i].flow)
				}
			}
		}
	}

	out := make([]api.ResolvedFlow, 0, len(merged))
	for i, m := range merged {
		if !drop[i] {
			out = append(out, m.flow)
		}
	}
	SortFlows(out)
	return out
}

// mergeFlow combines two flows with identical ends, status and hops. The
// status is never changed by a merge.
func mergeFlow(a, b api.ResolvedFlow) api.ResolvedFlow {
	a = mergeEngine(a, b)
	if len(b.Source.Symbol) > len(a.Source.Symbol) {
		a.Source.Symbol = b.Source.Symbol
	}
	if a.Sanitizer == nil && b.Sanitizer != nil && a.Status == api.StatusSanitized {
		a.Sanitizer = b.Sanitizer
	}
	if a.Category == "" {
		a.Category = b.Category
	}
	for _, c := range b.Caveats {
		if !containsString(a.Caveats, c) {
			a.Caveats = append(a.Caveats, c)
		}
	}
	sort.Strings(a.Caveats)
	return a
}

func mergeEngine(a, b api.ResolvedFlow) api.ResolvedFlow {
	if a.Engine != b.Engine && b.Engine != "" {
		a.Engine = api.EngineBoth
	}
	return a
}

// properSuffix reports whether short is a strictly shorter tail of long.
func properSuffix(short, long []api.Hop) bool {
	if len(short) >= len(long) {
		return false
	}
	off := len(long) - len(short)
	for i, h := range short {
		if long[off+i] != h {
			return false
		}
	}
	return true
}

// SortFlows orders flows by sink, source and path.
func SortFlows(flows []api.ResolvedFlow) {
	sort.SliceStable(flows, func(i, j int) bool {
		a, b := flows[i], flows[j]
		if a.Sink.File != b.Sink.File {
			return a.Sink.File < b.Sink.File
		}
		if a.Sink.Line != b.Sink.Line {
			return a.Sink.Line < b.Sink.Line
		}
		if a.Sink.Symbol != b.Sink.Symbol {
			return a.Sink.Symbol < b.Sink.Symbol
		}
		if a.Source.File != b.Source.File {
			return a.Source.File < b.Source.File
		}
		if a.Source.Line != b.Source.Line {
			return a.Source.Line < b.Source.Line
		}
		if a.Source.Symbol != b.Source.Symbol {
			return a.Source.Symbol < b.Source.Symbol
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return pathKey(a.Path) < pathKey(b.Path)
	})
}
