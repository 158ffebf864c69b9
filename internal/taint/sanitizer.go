package taint

import (
	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/facts"
)

// sanitizerCheck answers whether a statement neutralizes a tainted access
// path.
type sanitizerCheck struct {
	cache    *cache.Cache
	registry *Registry
	k        int
}

// at reports the sanitizer at (file, line) covering any of paths: a call to
// a registered sanitizer or a framework safe sink whose identifier argument
// is a prefix of the path, or a validator usage whose framework or method is registered and whose
// variable covers the path (an empty variable covers everything).
func (s *sanitizerCheck) at(file string, line int, paths ...AccessPath) *api.Sanitizer {
	for _, c := range s.cache.CallsAt(file, line) {
		if !s.neutralizes(c.Callee) || c.ArgKind != facts.ArgIdentifier {
			continue
		}
		arg, ok := ParsePath(c.ArgExpr, s.k)
		if !ok {
			continue
		}
		if covers(arg, paths) {
			return &api.Sanitizer{File: file, Line: line, Method: c.Callee}
		}
	}
	for _, v := range s.cache.ValidationAt(file, line) {
		if !v.IsValidator {
			continue
		}
		method := s.validatorName(v)
		if method == "" {
			continue
		}
		if v.Variable == "" {
			return &api.Sanitizer{File: file, Line: line, Method: method}
		}
		if vp, ok := ParsePath(v.Variable, s.k); ok && covers(vp, paths) {
			return &api.Sanitizer{File: file, Line: line, Method: method}
		}
	}
	return nil
}

func (s *sanitizerCheck) neutralizes(callee string) bool {
	if s.registry.IsSanitizer(callee) {
		return true
	}
	_, ok := s.cache.SafeSink(callee)
	return ok
}

func (s *sanitizerCheck) validatorName(v facts.ValidationUsage) string {
	for _, name := range []string{v.Framework + "." + v.Method, v.Method, v.Framework} {
		if name != "" && name != "." && s.registry.IsSanitizer(name) {
			return name
		}
	}
	return ""
}

func covers(p AccessPath, paths []AccessPath) bool {
	for _, q := range paths {
		if !q.IsZero() && p.PrefixOf(q) {
			return true
		}
	}
	return false
}
