package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Diagnostics collects non-fatal findings about analysis completeness.
// Safe for concurrent use.
type Diagnostics struct {
	mu      sync.Mutex
	gaps    map[string]*ResolutionGap
	bounds  []*BoundExceeded
	defects []*ProducerDefect
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{gaps: make(map[string]*ResolutionGap)}
}

// Gap records a resolution gap. Repeated gaps for the same ghost node at the
// same site are recorded once.
func (d *Diagnostics) Gap(g *ResolutionGap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%s|%s|%d", g.Node, g.File, g.Line)
	if _, ok := d.gaps[key]; !ok {
		d.gaps[key] = g
	}
}

func (d *Diagnostics) Bound(b *BoundExceeded) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bounds = append(d.bounds, b)
}

func (d *Diagnostics) Defect(p *ProducerDefect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defects = append(d.defects, p)
}

// Merge folds other into d.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if other == nil || other == d {
		return
	}
	for _, g := range other.Gaps() {
		d.Gap(g)
	}
	for _, b := range other.Bounds() {
		d.Bound(b)
	}
	for _, p := range other.Defects() {
		d.Defect(p)
	}
}

// Gaps returns the recorded resolution gaps sorted by file, line, node.
func (d *Diagnostics) Gaps() []*ResolutionGap {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*ResolutionGap, 0, len(d.gaps))
	for _, g := range d.gaps {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Node < out[j].Node
	})
	return out
}

func (d *Diagnostics) Bounds() []*BoundExceeded {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*BoundExceeded(nil), d.bounds...)
}

func (d *Diagnostics) Defects() []*ProducerDefect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ProducerDefect(nil), d.defects...)
}

// UnresolvedNodes returns the distinct ghost callee node IDs seen.
func (d *Diagnostics) UnresolvedNodes() []string {
	seen := make(map[string]struct{})
	for _, g := range d.Gaps() {
		if g.Reason == ReasonUnboundCall {
			continue
		}
		seen[g.Node] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// UnboundAssignments returns the variable nodes whose producing call could
// not be bound.
func (d *Diagnostics) UnboundAssignments() []string {
	seen := make(map[string]struct{})
	for _, g := range d.Gaps() {
		if g.Reason == ReasonUnboundCall {
			seen[g.Node] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Summary renders the user-visible completeness line.
func (d *Diagnostics) Summary() string {
	var parts []string
	if n := len(d.UnresolvedNodes()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d callees unresolved; flows through them may be incomplete", n))
	}
	if n := len(d.UnboundAssignments()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d assignments with no recorded source callee; call results into them are not linked", n))
	}
	if n := len(d.Bounds()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d paths truncated by analysis bounds", n))
	}
	if n := len(d.Defects()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d fact records rejected as producer defects", n))
	}
	if len(parts) == 0 {
		return "analysis complete: no unresolved symbols, no truncated paths"
	}
	return strings.Join(parts, "; ")
}
