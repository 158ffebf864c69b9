package taint

import (
	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/facts"
)

// expandORM adds var.alias occurrences for sources bound to an ORM model:
// a tainted record taints the records reachable through its associations.
// Expansion follows target models recursively, stops at k fields and never
// revisits a model on the same chain.
func (d *Discovery) expandORM(occ []Occurrence) []Occurrence {
	var out []Occurrence
	for _, o := range occ {
		if o.Path.Len() != 0 {
			continue
		}
		model, ok := d.boundModel(o.File, o.Path.Base)
		if !ok {
			continue
		}
		d.expandModel(o, o.Path, model, map[string]bool{model: true}, &out)
	}
	return out
}

func (d *Discovery) expandModel(o Occurrence, p AccessPath, model string, onChain map[string]bool, out *[]Occurrence) {
	if p.Len() >= d.k {
		return
	}
	for _, a := range d.cache.AssociationsOf(model) {
		if a.Alias == "" {
			continue
		}
		next := p.Append([]string{a.Alias}, d.k)
		e := o
		e.Path = next
		e.Kind = KindORM
		e.Site = api.Location{File: o.Site.File, Line: o.Site.Line, Symbol: next.String()}
		*out = append(*out, e)

		if a.Target == "" || onChain[a.Target] {
			continue
		}
		onChain[a.Target] = true
		d.expandModel(o, next, a.Target, onChain, out)
		delete(onChain, a.Target)
	}
}

// boundModel returns the model an orm_queries row binds variable to in file.
func (d *Discovery) boundModel(file, variable string) (string, bool) {
	var found facts.OrmQuery
	for _, q := range d.cache.OrmQueriesIn(file) {
		if q.TargetVar == variable && q.Model != "" {
			if found.Model == "" || q.Line < found.Line {
				found = q
			}
		}
	}
	return found.Model, found.Model != ""
}
