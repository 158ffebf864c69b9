package taint

import (
	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
)

// Pattern is a registered (pattern, category) pair.
type Pattern struct {
	Pattern  string
	Category string
}

// RegistryBuilder collects registrations. Build produces the immutable
// Registry that Discovery and the analyzers share.
type RegistryBuilder struct {
	sources    []Pattern
	sinks      []Pattern
	sanitizers []string
}

func NewRegistryBuilder() *RegistryBuilder { return &RegistryBuilder{} }

func (b *RegistryBuilder) RegisterSource(pattern, category string) *RegistryBuilder {
	b.sources = append(b.sources, Pattern{pattern, category})
	return b
}

func (b *RegistryBuilder) RegisterSink(pattern, category string) *RegistryBuilder {
	b.sinks = append(b.sinks, Pattern{pattern, category})
	return b
}

func (b *RegistryBuilder) RegisterSanitizer(pattern string) *RegistryBuilder {
	b.sanitizers = append(b.sanitizers, pattern)
	return b
}

// Build validates the registrations. A registry without sources or sinks
// cannot find anything and is a configuration error.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.sources) == 0 {
		return nil, &diag.ConfigurationError{Element: "source registrations"}
	}
	if len(b.sinks) == 0 {
		return nil, &diag.ConfigurationError{Element: "sink registrations"}
	}
	r := &Registry{
		sinksByCallee: make(map[string]Pattern),
		sanitizers:    make(map[string]struct{}),
		all:           make(map[string]struct{}),
	}
	for _, s := range b.sources {
		if s.Pattern == "" {
			return nil, diag.Configf("source registrations", "empty pattern")
		}
		p, ok := ParsePath(s.Pattern, -1)
		r.sources = append(r.sources, sourcePattern{Pattern: s, path: p, isPath: ok})
		r.all[s.Pattern] = struct{}{}
	}
	for _, s := range b.sinks {
		if s.Pattern == "" {
			return nil, diag.Configf("sink registrations", "empty pattern")
		}
		if _, dup := r.sinksByCallee[s.Pattern]; !dup {
			r.sinksByCallee[s.Pattern] = s
			r.sinks = append(r.sinks, s)
		}
		r.all[s.Pattern] = struct{}{}
	}
	for _, s := range b.sanitizers {
		if s == "" {
			return nil, diag.Configf("sanitizer registrations", "empty pattern")
		}
		r.sanitizers[s] = struct{}{}
		r.all[s] = struct{}{}
	}
	return r, nil
}

// FromRules builds a Registry from a loaded rule file.
func FromRules(rules *config.Rules) (*Registry, error) {
	b := NewRegistryBuilder()
	for _, s := range rules.Sources {
		b.RegisterSource(s.Pattern, s.Category)
	}
	for _, s := range rules.Sinks {
		b.RegisterSink(s.Pattern, s.Category)
	}
	for _, s := range rules.Sanitizers {
		b.RegisterSanitizer(s)
	}
	return b.Build()
}

type sourcePattern struct {
	Pattern
	path   AccessPath
	isPath bool
}

// Registry is the immutable catalog of sources, sinks and sanitizers.
type Registry struct {
	sources       []sourcePattern
	sinks         []Pattern
	sinksByCallee map[string]Pattern
	sanitizers    map[string]struct{}
	all           map[string]struct{}
}

func (r *Registry) Sources() []Pattern {
	out := make([]Pattern, len(r.sources))
	for i, s := range r.sources {
		out[i] = s.Pattern
	}
	return out
}

func (r *Registry) Sinks() []Pattern { return append([]Pattern(nil), r.sinks...) }

// SinkFor returns the sink registration whose pattern equals callee.
func (r *Registry) SinkFor(callee string) (Pattern, bool) {
	p, ok := r.sinksByCallee[callee]
	return p, ok
}

func (r *Registry) IsSanitizer(name string) bool {
	_, ok := r.sanitizers[name]
	return ok
}

// IsRegistered reports whether name equals any registered pattern.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.all[name]
	return ok
}

// SourceForPath returns the first source registration whose access path is
// a prefix of p. A bare base such as req does not match req.body: only the
// registered field or something below it is a source.
func (r *Registry) SourceForPath(p AccessPath) (Pattern, bool) {
	for _, s := range r.sources {
		if s.isPath && s.path.PrefixOf(p) {
			return s.Pattern, true
		}
	}
	return Pattern{}, false
}

// SourceForCall returns the source registration whose pattern equals callee.
func (r *Registry) SourceForCall(callee string) (Pattern, bool) {
	for _, s := range r.sources {
		if s.Pattern.Pattern == callee {
			return s.Pattern, true
		}
	}
	return Pattern{}, false
}

// SourceForEndpoint matches an endpoint by method or "METHOD path".
func (r *Registry) SourceForEndpoint(method, pattern string) (Pattern, bool) {
	full := method + " " + pattern
	for _, s := range r.sources {
		if s.Pattern.Pattern == method || s.Pattern.Pattern == full {
			return s.Pattern, true
		}
	}
	return Pattern{}, false
}
