// Package diag defines the error kinds of the analysis core and a collector
// for the non-fatal ones.
//
// ConfigurationError and PersistenceFailure are fatal and returned as errors.
// ResolutionGap, BoundExceeded and ProducerDefect are recorded in a
// Diagnostics collector and never abort a run.
package diag

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing table, column, edge category or an
// empty registry. Runs must abort when they see one.
type ConfigurationError struct {
	Element string
	Detail  string
}

func (e *ConfigurationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("configuration error: missing %s", e.Element)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Element, e.Detail)
}

// Configf builds a ConfigurationError.
func Configf(element, format string, args ...any) error {
	return &ConfigurationError{Element: element, Detail: fmt.Sprintf(format, args...)}
}

// PersistenceFailure reports a failed, rolled-back Graph Store write.
type PersistenceFailure struct {
	Op        string
	GraphType string
	Err       error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persistence failure (%s %s): %v", e.Op, e.GraphType, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }

// Resolution gap reasons.
const (
	ReasonAmbiguous = "ambiguous"
	ReasonExternal  = "external"
	// ReasonUnboundCall marks an assignment on a line with calls but no
	// recorded source callee: whether its value is a call result is unknown.
	ReasonUnboundCall = "unbound_call"
)

// ResolutionGap reports a symbol, import or callee that could not be resolved
// to exactly one definition, or an assignment whose producing call is unknown.
type ResolutionGap struct {
	Node   string
	Name   string
	Reason string
	File   string
	Line   int
}

func (e *ResolutionGap) Error() string {
	return fmt.Sprintf("unresolved %s (%s) at %s:%d", e.Name, e.Reason, e.File, e.Line)
}

// BoundExceeded reports a truncated access path or a traversal stopped at its
// depth limit.
type BoundExceeded struct {
	Bound string // "max_fields", "max_depth", "max_paths_per_sink"
	Limit int
	Where string
}

func (e *BoundExceeded) Error() string {
	return fmt.Sprintf("%s=%d exceeded at %s", e.Bound, e.Limit, e.Where)
}

// ProducerDefect reports a fact record rejected at ingestion, typically for a
// non-canonical path.
type ProducerDefect struct {
	Table string
	Field string
	Value string
}

func (e *ProducerDefect) Error() string {
	return fmt.Sprintf("producer defect in %s.%s: %q", e.Table, e.Field, e.Value)
}

// IsFatal reports whether err must terminate a run.
func IsFatal(err error) bool {
	var ce *ConfigurationError
	var pf *PersistenceFailure
	return errors.As(err, &ce) || errors.As(err, &pf)
}
