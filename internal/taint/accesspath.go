package taint

import (
	"strings"
)

// DefaultMaxFields is the default field-sensitivity bound k.
const DefaultMaxFields = 5

// AccessPath is a variable plus a bounded chain of field accesses, e.g.
// req.body.user. Values are immutable; every operation returns a copy.
type AccessPath struct {
	Base   string
	Fields []string
	// Truncated is set once fields beyond the bound have been dropped.
	Truncated bool
}

// ParsePath parses a dotted identifier expression. Optional chaining is
// normalized and surrounding whitespace is ignored. Expressions that are not
// plain member chains are rejected.
func ParsePath(expr string, k int) (AccessPath, bool) {
	expr = strings.TrimSpace(strings.ReplaceAll(expr, "?.", "."))
	if expr == "" {
		return AccessPath{}, false
	}
	parts := strings.Split(expr, ".")
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "()[] \t\n+-*/,;:'\"`=<>!&|{}") {
			return AccessPath{}, false
		}
	}
	return AccessPath{Base: parts[0]}.Append(parts[1:], k), true
}

// MustPath parses expr with the default bound and panics on failure. Tests
// and static tables only.
func MustPath(expr string) AccessPath {
	p, ok := ParsePath(expr, DefaultMaxFields)
	if !ok {
		panic("taint: invalid access path " + expr)
	}
	return p
}

func (p AccessPath) String() string {
	if len(p.Fields) == 0 {
		return p.Base
	}
	return p.Base + "." + strings.Join(p.Fields, ".")
}

func (p AccessPath) IsZero() bool { return p.Base == "" }

// Len is the number of fields.
func (p AccessPath) Len() int { return len(p.Fields) }

// Append returns p with fields added, keeping at most k fields. Dropping
// fields sets Truncated.
func (p AccessPath) Append(fields []string, k int) AccessPath {
	out := AccessPath{Base: p.Base, Truncated: p.Truncated}
	out.Fields = make([]string, 0, len(p.Fields)+len(fields))
	out.Fields = append(out.Fields, p.Fields...)
	out.Fields = append(out.Fields, fields...)
	if k >= 0 && len(out.Fields) > k {
		out.Fields = out.Fields[:k]
		out.Truncated = true
	}
	if len(out.Fields) == 0 {
		out.Fields = nil
	}
	return out
}

// PrefixOf reports whether p is a prefix of q (or equal to it).
func (p AccessPath) PrefixOf(q AccessPath) bool {
	if p.Base != q.Base || len(p.Fields) > len(q.Fields) {
		return false
	}
	for i, f := range p.Fields {
		if q.Fields[i] != f {
			return false
		}
	}
	return true
}

// Compatible reports whether one path is a prefix of the other: tainting one
// may taint the other.
func (p AccessPath) Compatible(q AccessPath) bool { return p.PrefixOf(q) || q.PrefixOf(p) }

// Equal compares base and fields, ignoring Truncated.
func (p AccessPath) Equal(q AccessPath) bool {
	return p.PrefixOf(q) && len(p.Fields) == len(q.Fields)
}

// SuffixAfter returns the fields of p beyond prefix. prefix must be a
// prefix of p.
func (p AccessPath) SuffixAfter(prefix AccessPath) []string {
	if !prefix.PrefixOf(p) {
		return nil
	}
	return p.Fields[len(prefix.Fields):]
}

// Rebase moves the taint on p from the variable from onto the variable to.
// When from is a prefix of p, the remaining fields follow onto to
// (x = req.body; x.name tainted ⇒ req.body.name). When from extends p, the
// whole of to is tainted.
func Rebase(p, from, to AccessPath, k int) AccessPath {
	if from.PrefixOf(p) {
		return to.Append(p.SuffixAfter(from), k)
	}
	return to.Append(nil, k)
}
