package taint

import (
	"strings"

	"github.com/agentic-research/flowgraph/api"
)

// vulnerabilityClasses maps a category fragment to its report name. Order
// matters: nosql must be tested before sql.
var vulnerabilityClasses = []struct{ fragment, name string }{
	{"nosql", "NoSQL Injection"},
	{"sql", "SQL Injection"},
	{"command", "Command Injection"},
	{"xss", "Cross-Site Scripting (XSS)"},
	{"path", "Path Traversal"},
	{"ldap", "LDAP Injection"},
}

// VulnerabilityType names the class of a flow from its sink category.
func VulnerabilityType(category string) string {
	c := strings.ToLower(category)
	for _, vc := range vulnerabilityClasses {
		if strings.Contains(c, vc.fragment) {
			return vc.name
		}
	}
	return "Data Exposure"
}

// annotate fills VulnerabilityType and RelatedSources. Flows must already be
// deduplicated and sorted by sink.
func annotate(flows []api.ResolvedFlow) {
	bySink := make(map[api.Location][]int)
	for i := range flows {
		flows[i].VulnerabilityType = VulnerabilityType(flows[i].Category)
		bySink[flows[i].Sink] = append(bySink[flows[i].Sink], i)
	}
	for _, idx := range bySink {
		for _, i := range idx {
			var related []api.RelatedSource
			for _, j := range idx {
				if flows[j].Source == flows[i].Source {
					continue
				}
				related = append(related, api.RelatedSource{
					Source:   flows[j].Source,
					HopCount: flows[j].HopCount,
					Status:   flows[j].Status,
				})
			}
			flows[i].RelatedSources = distinctRelated(related)
		}
	}
}

// distinctRelated keeps one entry per source, the shortest.
func distinctRelated(in []api.RelatedSource) []api.RelatedSource {
	var out []api.RelatedSource
	at := make(map[api.Location]int)
	for _, r := range in {
		if k, ok := at[r.Source]; ok {
			if r.HopCount < out[k].HopCount {
				out[k] = r
			}
			continue
		}
		at[r.Source] = len(out)
		out = append(out, r)
	}
	return out
}
