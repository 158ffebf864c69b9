package cache

import (
	"github.com/agentic-research/flowgraph/internal/facts"
)

// Files returns the rows of the files table.
func (c *Cache) Files() []facts.File { return c.files }

// SourceFiles returns every file that has facts, sorted.
func (c *Cache) SourceFiles() []string { return c.sourceFiles }

func (c *Cache) Symbols(file string) []facts.Symbol { return c.bundle(file).Symbols }

// Functions returns the function symbols of file sorted by line.
func (c *Cache) Functions(file string) []facts.Symbol { return c.bundle(file).functions }

func (c *Cache) SymbolsNamed(name string) []facts.Symbol { return c.symbolsByName[name] }

func (c *Cache) ImportsFor(file string) []facts.Import { return c.bundle(file).Imports }

func (c *Cache) AssignmentsIn(file string) []facts.Assignment { return c.bundle(file).Assignments }

func (c *Cache) AssignmentsAt(file string, line int) []facts.Assignment {
	return c.bundle(file).assignsAt[line]
}

func (c *Cache) CallsIn(file string) []facts.CallArg { return c.bundle(file).Calls }

func (c *Cache) CallsFrom(file, fn string) []facts.CallArg { return c.bundle(file).callsByFn[fn] }

func (c *Cache) CallsAt(file string, line int) []facts.CallArg { return c.bundle(file).callsAt[line] }

func (c *Cache) ReturnsIn(file string) []facts.Return { return c.bundle(file).Returns }

func (c *Cache) ReturnsOf(file, fn string) []facts.Return { return c.bundle(file).returnsByFn[fn] }

func (c *Cache) SQLAt(file string, line int) []facts.SQLQuery { return c.bundle(file).sqlAt[line] }

func (c *Cache) OrmQueriesIn(file string) []facts.OrmQuery { return c.bundle(file).OrmQueries }

func (c *Cache) BlocksOf(file, fn string) []facts.CfgBlock { return c.bundle(file).blocksByFn[fn] }

func (c *Cache) EdgesOf(file, fn string) []facts.CfgEdge { return c.bundle(file).edgesByFn[fn] }

// FunctionAt returns the function enclosing (file, line), or the global scope.
func (c *Cache) FunctionAt(file string, line int) string { return c.bundle(file).functionAt(line) }

func (c *Cache) Endpoints() []facts.Endpoint { return c.endpoints }

func (c *Cache) ValidationAt(file string, line int) []facts.ValidationUsage {
	return c.validation[siteKey{file, line}]
}

func (c *Cache) Model(name string) (facts.OrmModel, bool) {
	m, ok := c.models[name]
	return m, ok
}

func (c *Cache) AssociationsOf(model string) []facts.OrmAssociation { return c.assocs[model] }
