// Package model defines core data structures for safeoverride.
package model

import "strings"

// BaseKind indicates the syntactic shape of a base-class expression.
type BaseKind string

const (
	BaseName      BaseKind = "name"
	BaseAttribute BaseKind = "attribute"
	BaseOther     BaseKind = "other"
)

// BaseRef is one entry of a class's base list, e.g. "MagicMock" or "mock.MagicMock".
type BaseRef struct {
	Expr string
	Kind BaseKind
	Line int
}

// Parts splits a name or attribute reference on dots.
// Returns nil for BaseOther.
func (b BaseRef) Parts() []string {
	if b.Kind == BaseOther || b.Expr == "" {
		return nil
	}
	return strings.Split(b.Expr, ".")
}

// MarkerKind classifies a decorator attached to a method.
type MarkerKind string

const (
	MarkerPlain        MarkerKind = "plain"
	MarkerSafeOverride MarkerKind = "safe-override"
)

// Marker is a decorator attached to a method. Name is the dotted decorator
// target with any call arguments stripped ("overrides", "typing.override").
type Marker struct {
	Name string
	Kind MarkerKind
}

// MethodDef is a function defined directly in a class body.
type MethodDef struct {
	Name    string
	Class   *ClassDef // enclosing class, not owned
	Markers []Marker
	Line    int
	Column  int
}

// ClassDef is a class definition with its ordered bases and owned methods.
type ClassDef struct {
	Name    string
	Bases   []BaseRef
	Methods []*MethodDef
	// Members lists every name bound in the class body: methods, class
	// attributes and nested classes, in source order without duplicates.
	Members []string
	// Nested is set for classes defined inside another class or function.
	Nested  bool
	Line    int
	Column  int
}

// FirstBase returns the primary base of the class.
func (c *ClassDef) FirstBase() (BaseRef, bool) {
	if len(c.Bases) == 0 {
		return BaseRef{}, false
	}
	return c.Bases[0], true
}

// Import is a module-scope binding introduced by an import statement.
//
//	import a.b          -> Local "a",  Module "a",   Name ""
//	import a.b as c     -> Local "c",  Module "a.b", Name ""
//	from a import B     -> Local "B",  Module "a",   Name "B"
//	from ..x import B   -> Local "B",  Module "x",   Name "B", Level 2
type Import struct {
	Local  string
	Module string
	Name   string
	Level  int
	Line   int
}

// Module is the parsed representation of one Python source file.
type Module struct {
	Path      string
	Name      string
	IsPackage bool
	Imports   []Import
	// Locals maps names bound at module scope by class, def or assignment
	// to the line of their last binding.
	Locals  map[string]int
	Classes []*ClassDef
}

// Lookup finds the module-scope binding of name. When a name is bound both
// by an import and by a local definition, the later one in source order wins.
func (m *Module) Lookup(name string) (imp Import, local bool, found bool) {
	localLine, isLocal := m.Locals[name]
	for i := len(m.Imports) - 1; i >= 0; i-- {
		if m.Imports[i].Local != name {
			continue
		}
		if isLocal && localLine > m.Imports[i].Line {
			return Import{}, true, true
		}
		return m.Imports[i], false, true
	}
	return Import{}, isLocal, isLocal
}

// Methods returns every method of every class in source order.
func (m *Module) Methods() []*MethodDef {
	var out []*MethodDef
	for _, c := range m.Classes {
		out = append(out, c.Methods...)
	}
	return out
}

// Diagnostic is a single reported finding.
type Diagnostic struct {
	RuleID  string
	Symbol  string
	Class   string
	Method  string
	File    string
	Line    int
	Column  int
	Message string
}

// RuleInfo describes a registered rule for report headers.
type RuleInfo struct {
	ID          string
	Symbol      string
	Message     string
	Description string
}

// Report is the complete analysis result, ready for serialization.
type Report struct {
	Root        string
	Files       int
	Rules       []RuleInfo
	Diagnostics []Diagnostic
}
