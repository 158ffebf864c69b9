// Package facts reads the code fact database produced by the extraction
// layer and owns the resolved-flow output table.
//
// Every path column is validated to be project-root-relative with forward
// slashes. Records that violate this are producer defects: they are skipped
// and reported, never repaired.
package facts

// GlobalScope names module-level code with no enclosing function.
const GlobalScope = "global"

// ArgKind is the structural tag the extractor attaches to call arguments.
type ArgKind string

const (
	ArgLiteral    ArgKind = "literal"
	ArgIdentifier ArgKind = "identifier"
	ArgCall       ArgKind = "call"
	ArgComplex    ArgKind = "complex"
)

type File struct {
	Path string
	Lang string
	Hash string
}

type Symbol struct {
	File string
	Name string
	Kind string // function, class, variable, property, parameter, ...
	Line int
	Col  int
}

// Assignment is target_var = source_expr, with the variables the extractor
// found on the right-hand side. SourceCallee names the call whose result is
// assigned, when the extractor recorded one.
type Assignment struct {
	File         string
	Line         int
	TargetVar    string
	SourceExpr   string
	SourceVars   []string
	Function     string
	SourceCallee string
}

// CallArg is one argument of one call site.
type CallArg struct {
	File      string
	Line      int
	Caller    string
	Callee    string
	ArgIndex  int
	ArgExpr   string
	ArgKind   ArgKind
	ParamName string
}

type Return struct {
	File       string
	Line       int
	Function   string
	ReturnExpr string
	ReturnVars []string
}

type Import struct {
	File           string
	Kind           string
	Value          string
	ResolvedTarget string // empty for external dependencies
}

type SQLQuery struct {
	File          string
	Line          int
	QueryText     string
	Command       string
	Parameterized bool
}

// OrmQuery binds TargetVar to instances of Model at a call site.
type OrmQuery struct {
	File      string
	Line      int
	Model     string
	QueryType string
	TargetVar string
}

type CfgBlock struct {
	ID        int
	File      string
	Function  string
	BlockType string
	StartLine int
	EndLine   int
}

type CfgEdge struct {
	File     string
	Function string
	Source   int
	Target   int
	EdgeType string
}

type Endpoint struct {
	File         string
	Line         int
	Method       string
	Pattern      string
	Handler      string
	RequestParam string
}

type ValidationUsage struct {
	File        string
	Line        int
	Framework   string
	Method      string
	Variable    string
	IsValidator bool
}

type OrmModel struct {
	Name  string
	Table string
	File  string
	Line  int
}

// OrmAssociation is a stored relationship such as User hasMany Post as posts.
type OrmAssociation struct {
	File       string
	Line       int
	Model      string
	Type       string
	Target     string
	Alias      string
	ForeignKey string
}

// SafeSink is a framework call pattern known to neutralize its input.
type SafeSink struct {
	FrameworkID int
	Pattern     string
	Type        string
	Safe        bool
	Reason      string
}

// FileFacts is every per-file fact of one source file. It is the unit the
// cache evicts and refills.
type FileFacts struct {
	File        string
	Symbols     []Symbol
	Assignments []Assignment
	Calls       []CallArg
	Returns     []Return
	Imports     []Import
	SQL         []SQLQuery
	OrmQueries  []OrmQuery
	CfgBlocks   []CfgBlock
	CfgEdges    []CfgEdge
}

// Len is the number of records across every per-file table.
func (ff *FileFacts) Len() int {
	return len(ff.Symbols) + len(ff.Assignments) + len(ff.Calls) + len(ff.Returns) + len(ff.Imports) +
		len(ff.SQL) + len(ff.OrmQueries) + len(ff.CfgBlocks) + len(ff.CfgEdges)
}

// Scope normalizes an enclosing-function column.
func Scope(fn string) string {
	if fn == "" {
		return GlobalScope
	}
	return fn
}
