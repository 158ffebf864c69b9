package graph

import (
	"strconv"

	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
)

// DataFlowGraph builds the variable-level data-flow graph:
//
//	assignment         source_var   -> target_var
//	return             return_var   -> fn::return
//	parameter_binding  caller arg   -> callee parameter (or ghost parameter)
//	call_return        callee::return -> assignment target at the call line
//
// Only identifier arguments become variable nodes. Every forward edge is
// stored with its *_reverse pair.
func (b *Builder) DataFlowGraph() *Graph {
	g := New()
	var counts struct{ assign, ret, param, callRet, ghostParams, unbound int }

	for _, file := range b.cache.SourceFiles() {
		lang := b.langs[file]
		variable := func(fn, name string) string {
			id := VariableID(file, fn, name)
			g.AddNode(&Node{ID: id, File: file, Lang: lang, Type: NodeVariable, GraphType: TypeDataFlow})
			return id
		}

		for _, a := range b.cache.AssignmentsIn(file) {
			target := variable(a.Function, a.TargetVar)
			for _, sv := range a.SourceVars {
				g.AddEdgePair(&Edge{
					Source:    variable(a.Function, sv),
					Target:    target,
					Type:      EdgeAssignment,
					GraphType: TypeDataFlow,
					File:      file,
					Lines:     []int{a.Line},
				})
				counts.assign++
			}
		}

		for _, r := range b.cache.ReturnsIn(file) {
			ret := ReturnID(file, r.Function)
			g.AddNode(&Node{ID: ret, File: file, Lang: lang, Type: NodeReturn, GraphType: TypeDataFlow})
			for _, rv := range r.ReturnVars {
				g.AddEdgePair(&Edge{
					Source:    variable(r.Function, rv),
					Target:    ret,
					Type:      EdgeReturn,
					GraphType: TypeDataFlow,
					File:      file,
					Lines:     []int{r.Line},
				})
				counts.ret++
			}
		}

		for _, c := range b.cache.CallsIn(file) {
			if c.ArgKind != facts.ArgIdentifier || c.ArgExpr == "" {
				continue
			}
			res := b.resolver.Resolve(file, c.Line, c.Callee)
			var param string
			if res.Resolved {
				param = VariableID(res.File, c.Callee, ParamName(c.ParamName, c.ArgIndex))
				g.AddNode(&Node{ID: param, File: res.File, Lang: b.langs[res.File], Type: NodeVariable, GraphType: TypeDataFlow,
					Metadata: map[string]string{"parameter": "true"}})
			} else {
				param = GhostParamID(c.Callee, c.ParamName, c.ArgIndex)
				if !g.HasNode(TypeDataFlow, param) {
					counts.ghostParams++
				}
				g.AddNode(&Node{ID: param, Type: NodeUnresolved, GraphType: TypeDataFlow,
					Metadata: map[string]string{"callee": c.Callee}})
			}
			g.AddEdgePair(&Edge{
				Source:    variable(c.Caller, c.ArgExpr),
				Target:    param,
				Type:      EdgeParameterBinding,
				GraphType: TypeDataFlow,
				File:      file,
				Lines:     []int{c.Line},
				Metadata:  map[string]string{"callee": c.Callee, "arg_index": strconv.Itoa(c.ArgIndex)},
			})
			counts.param++
		}

		for _, a := range b.cache.AssignmentsIn(file) {
			calls := b.cache.CallsAt(file, a.Line)
			call, ok := CallForAssignment(a, calls)
			if !ok {
				if unboundCall(a, calls) {
					counts.unbound++
					b.diag.Gap(&diag.ResolutionGap{Node: VariableID(file, a.Function, a.TargetVar), Name: a.TargetVar,
						Reason: diag.ReasonUnboundCall, File: file, Line: a.Line})
				}
				continue
			}
			res := b.resolver.Resolve(file, a.Line, call.Callee)
			if !res.Resolved {
				continue
			}
			ret := ReturnID(res.File, call.Callee)
			g.AddNode(&Node{ID: ret, File: res.File, Lang: b.langs[res.File], Type: NodeReturn, GraphType: TypeDataFlow})
			g.AddEdgePair(&Edge{
				Source:    ret,
				Target:    VariableID(file, a.Function, a.TargetVar),
				Type:      EdgeCallReturn,
				GraphType: TypeDataFlow,
				File:      file,
				Lines:     []int{a.Line},
				Metadata:  map[string]string{"callee": call.Callee},
			})
			counts.callRet++
		}
	}

	b.logger.Printf("DataFlowGraph: %d nodes, %d edges (%d assignment, %d return, %d parameter, %d call-return, %d ghost parameters, %d unbound)",
		g.NodeCount(TypeDataFlow), g.EdgeCount(TypeDataFlow),
		counts.assign, counts.ret, counts.param, counts.callRet, counts.ghostParams, counts.unbound)
	return g
}
