package graph

import (
	"strconv"
	"strings"
)

// Canonical node IDs:
//
//	module         path
//	function       path::fn
//	variable       path::fn::var      (var may be dotted: req.body)
//	return value   path::fn::return
//	ghost callee   unresolved::callee
//	ghost param    unresolved::callee::param
//
// Paths are project-relative with forward slashes; module-level code uses
// the scope "global".
const (
	Sep              = "::"
	UnresolvedPrefix = "unresolved"
	ReturnName       = "return"
)

func ModuleID(path string) string { return path }

func FunctionID(path, fn string) string { return path + Sep + fn }

func VariableID(path, fn, name string) string { return path + Sep + fn + Sep + name }

func ReturnID(path, fn string) string { return path + Sep + fn + Sep + ReturnName }

func GhostCalleeID(callee string) string { return UnresolvedPrefix + Sep + callee }

// GhostParamID names the parameter of an unresolved callee. Without a
// parameter name the positional form argN is used.
func GhostParamID(callee, param string, index int) string {
	return UnresolvedPrefix + Sep + callee + Sep + ParamName(param, index)
}

// ParamName returns param, or argN when the extractor had no name.
func ParamName(param string, index int) string {
	if param != "" {
		return param
	}
	return "arg" + strconv.Itoa(index)
}

// IsGhost reports whether id names an unresolved node.
func IsGhost(id string) bool { return strings.HasPrefix(id, UnresolvedPrefix+Sep) }

// SplitScoped splits a variable, return-value or ghost-parameter ID into
// its file, scope and name parts.
func SplitScoped(id string) (file, scope, name string, ok bool) {
	parts := strings.SplitN(id, Sep, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
