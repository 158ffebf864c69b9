package api

// FlowStatus classifies a resolved source-to-sink flow.
type FlowStatus string

const (
	// StatusVulnerable means no sanitizer covering the tainted access path was
	// found anywhere on the path.
	StatusVulnerable FlowStatus = "VULNERABLE"
	// StatusSanitized means at least one hop passed through a registered
	// sanitizer covering the tainted access path.
	StatusSanitized FlowStatus = "SANITIZED"
)

// Op kinds used in Hop.OpKind.
const (
	OpAssignment   = "assignment"
	OpCallArgument = "call_argument"
	OpReturn       = "return"
	OpCallReturn   = "call_return"
	OpOpaqueCall   = "opaque_call"
	OpGlobal       = "global_scope"
)

// Engine names recorded on a flow.
const (
	EngineBackward = "ifds_backward"
	EngineForward  = "forward"
	EngineBoth     = "both"
)

// Location identifies a source or sink occurrence.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Symbol string `json:"symbol"`
}

// Hop is a single step of a flow's provenance chain.
type Hop struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	OpKind string `json:"op_kind"`
}

// Sanitizer records the site that neutralized taint on a SANITIZED flow.
type Sanitizer struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Method string `json:"method"`
}

// ResolvedFlow is the produced contract between the taint core and the
// reporting layer. It is created once and never mutated.
type ResolvedFlow struct {
	Source    Location   `json:"source"`
	Sink      Location   `json:"sink"`
	Status    FlowStatus `json:"status"`
	HopCount  int        `json:"hop_count"`
	Path      []Hop      `json:"path"`
	Sanitizer *Sanitizer `json:"sanitizer,omitempty"`
	Category  string     `json:"category,omitempty"`
	Engine    string     `json:"engine,omitempty"`
	// Caveats lists completeness warnings, e.g. hops through unresolved callees.
	Caveats []string `json:"caveats,omitempty"`
	// VulnerabilityType is the human-readable class derived from Category.
	VulnerabilityType string `json:"vulnerability_type,omitempty"`
	// RelatedSources lists the other sources reaching the same sink.
	RelatedSources []RelatedSource `json:"related_sources,omitempty"`
}

// RelatedSource summarizes another flow into the same sink.
type RelatedSource struct {
	Source   Location   `json:"source"`
	HopCount int        `json:"hop_count"`
	Status   FlowStatus `json:"status"`
}
