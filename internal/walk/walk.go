// Package walk extracts classes, methods, decorators and imports from Python
// source files using tree-sitter.
package walk

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/safeoverride/internal/lang"
	"github.com/phobologic/safeoverride/internal/model"
)

// ErrNoLanguage is returned by New when the requested language is not registered.
var ErrNoLanguage = errors.New("language not registered")

// Walker turns source files into model.Module values.
// A Walker owns a tree-sitter parser and must not be shared between goroutines.
type Walker struct {
	lang   *lang.Language
	parser *sitter.Parser
	query  *sitter.Query
}

// New creates a Walker for the named language.
func New(langName string) (*Walker, error) {
	l, ok := lang.Languages[langName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoLanguage, langName)
	}
	q, err := l.GetQuery()
	if err != nil {
		return nil, fmt.Errorf("query for %s: %w", langName, err)
	}
	return &Walker{lang: l, parser: l.NewParser(), query: q}, nil
}

// Close releases the underlying parser.
func (w *Walker) Close() {
	w.parser.Close()
}

type nodeKey struct{ start, end uint32 }

func keyOf(n *sitter.Node) nodeKey {
	return nodeKey{n.StartByte(), n.EndByte()}
}

// Walk parses source and returns its module representation. filePath is the
// repo-relative path and moduleName the dotted Python module name.
// Every function definition is visited exactly once; only those defined
// directly in a class body become methods.
func (w *Walker) Walk(source []byte, filePath, moduleName string) (*model.Module, error) {
	mod := &model.Module{
		Path:      filePath,
		Name:      moduleName,
		IsPackage: w.isPackageInit(filePath),
		Locals:    make(map[string]int),
	}
	if len(source) == 0 {
		return mod, nil
	}

	tree, err := w.parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filePath, err)
	}
	defer tree.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(w.query, tree.RootNode())

	var classNodes, funcNodes []*sitter.Node
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		for _, c := range match.Captures {
			switch w.query.CaptureNameForId(c.Index) {
			case lang.CaptureClass:
				classNodes = append(classNodes, c.Node)
			case lang.CaptureFunction:
				funcNodes = append(funcNodes, c.Node)
			case lang.CaptureImport:
				if lang.PythonAtModuleScope(c.Node) {
					mod.Imports = append(mod.Imports, extractImports(c.Node, source)...)
				}
			}
		}
	}

	classes := make(map[nodeKey]*model.ClassDef, len(classNodes))
	for _, n := range classNodes {
		cls := extractClass(n, source)
		classes[keyOf(n)] = cls
		mod.Classes = append(mod.Classes, cls)
		if lang.PythonAtModuleScope(n) {
			mod.Locals[cls.Name] = cls.Line
		} else {
			cls.Nested = true
		}
	}

	seen := make(map[nodeKey]struct{}, len(funcNodes))
	for _, n := range funcNodes {
		k := keyOf(n)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := lang.NodeText(nameNode, source)

		classNode := w.lang.FindMethodClass(n)
		if classNode == nil {
			if lang.PythonAtModuleScope(n) {
				mod.Locals[name] = int(nameNode.StartPoint().Row) + 1
			}
			continue
		}
		cls, ok := classes[keyOf(classNode)]
		if !ok {
			continue
		}
		cls.Methods = append(cls.Methods, &model.MethodDef{
			Name:    name,
			Class:   cls,
			Markers: extractMarkers(n, source),
			Line:    int(nameNode.StartPoint().Row) + 1,
			Column:  int(nameNode.StartPoint().Column) + 1,
		})
	}

	collectAssignments(tree.RootNode(), source, mod.Locals)

	return mod, nil
}

func (w *Walker) isPackageInit(filePath string) bool {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	for _, name := range w.lang.PackageInit {
		if base == name {
			return true
		}
	}
	return false
}

func extractClass(node *sitter.Node, source []byte) *model.ClassDef {
	nameNode := node.ChildByFieldName("name")
	cls := &model.ClassDef{}
	if nameNode != nil {
		cls.Name = lang.NodeText(nameNode, source)
		cls.Line = int(nameNode.StartPoint().Row) + 1
		cls.Column = int(nameNode.StartPoint().Column) + 1
	}

	if args := node.ChildByFieldName("superclasses"); args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			switch arg.Type() {
			case "keyword_argument", "list_splat", "dictionary_splat", "comment":
				continue
			}
			cls.Bases = append(cls.Bases, baseRef(arg, source))
		}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		cls.Members = classMembers(body, source)
	}
	return cls
}

func baseRef(expr *sitter.Node, source []byte) model.BaseRef {
	line := int(expr.StartPoint().Row) + 1
	if expr.Type() == "subscript" {
		if value := expr.ChildByFieldName("value"); value != nil {
			expr = value
		}
	}
	switch expr.Type() {
	case "identifier":
		return model.BaseRef{Expr: lang.NodeText(expr, source), Kind: model.BaseName, Line: line}
	case "attribute":
		if dotted, ok := dottedName(expr, source); ok {
			return model.BaseRef{Expr: dotted, Kind: model.BaseAttribute, Line: line}
		}
	}
	return model.BaseRef{
		Expr: lang.CollapseWhitespace(lang.NodeText(expr, source)),
		Kind: model.BaseOther,
		Line: line,
	}
}

// dottedName flattens an identifier or a chain of attribute accesses on an
// identifier ("a.b.c"). Any other shape returns false.
func dottedName(node *sitter.Node, source []byte) (string, bool) {
	switch node.Type() {
	case "identifier":
		return lang.NodeText(node, source), true
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		if obj == nil || attr == nil {
			return "", false
		}
		head, ok := dottedName(obj, source)
		if !ok {
			return "", false
		}
		return head + "." + lang.NodeText(attr, source), true
	}
	return "", false
}

func classMembers(body *sitter.Node, source []byte) []string {
	var members []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		members = append(members, name)
	}

	var visit func(node *sitter.Node)
	visit = func(node *sitter.Node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			stmt := node.NamedChild(i)
			if stmt.Type() == "decorated_definition" {
				if def := stmt.ChildByFieldName("definition"); def != nil {
					stmt = def
				}
			}
			switch {
			case stmt.Type() == "function_definition", stmt.Type() == "class_definition":
				add(lang.PythonIdentifier(stmt, source))
			case stmt.Type() == "expression_statement":
				for _, name := range assignedNames(stmt, source) {
					add(name)
				}
			case lang.PythonCompound(stmt):
				// Definitions under if/try/with/loops in a class body are
				// still class attributes.
				visit(stmt)
			}
		}
	}
	visit(body)
	return members
}

// assignedNames returns the plain identifiers bound by an assignment
// statement, including chained and tuple targets.
func assignedNames(stmt *sitter.Node, source []byte) []string {
	var names []string
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		expr := stmt.NamedChild(i)
		for expr != nil && expr.Type() == "assignment" {
			if left := expr.ChildByFieldName("left"); left != nil {
				names = append(names, targetNames(left, source)...)
			}
			expr = expr.ChildByFieldName("right")
		}
	}
	return names
}

func targetNames(target *sitter.Node, source []byte) []string {
	switch target.Type() {
	case "identifier":
		return []string{lang.NodeText(target, source)}
	case "pattern_list", "tuple_pattern", "list_pattern":
		var names []string
		for i := 0; i < int(target.NamedChildCount()); i++ {
			names = append(names, targetNames(target.NamedChild(i), source)...)
		}
		return names
	}
	return nil
}

func collectAssignments(root *sitter.Node, source []byte, locals map[string]int) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" {
			continue
		}
		line := int(stmt.StartPoint().Row) + 1
		for _, name := range assignedNames(stmt, source) {
			if prev, ok := locals[name]; !ok || line > prev {
				locals[name] = line
			}
		}
	}
}

func extractMarkers(funcNode *sitter.Node, source []byte) []model.Marker {
	parent := funcNode.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return nil
	}
	var markers []model.Marker
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		dec := parent.NamedChild(i)
		if dec.Type() != "decorator" || dec.NamedChildCount() == 0 {
			continue
		}
		markers = append(markers, model.Marker{
			Name: decoratorName(dec.NamedChild(0), source),
			Kind: model.MarkerPlain,
		})
	}
	return markers
}

// decoratorName returns the dotted target of a decorator expression. Calls
// are reduced to their callee, so @overrides() and @overrides share a name.
func decoratorName(expr *sitter.Node, source []byte) string {
	for expr.Type() == "call" {
		fn := expr.ChildByFieldName("function")
		if fn == nil {
			break
		}
		expr = fn
	}
	if dotted, ok := dottedName(expr, source); ok {
		return dotted
	}
	return lang.StripWhitespace(lang.NodeText(expr, source))
}

func extractImports(stmt *sitter.Node, source []byte) []model.Import {
	line := int(stmt.StartPoint().Row) + 1
	var imports []model.Import

	switch stmt.Type() {
	case "import_statement":
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			child := stmt.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				full := lang.StripWhitespace(lang.NodeText(child, source))
				head, _, _ := strings.Cut(full, ".")
				imports = append(imports, model.Import{Local: head, Module: head, Line: line})
			case "aliased_import":
				name, alias := aliasedParts(child, source)
				if name != "" && alias != "" {
					imports = append(imports, model.Import{Local: alias, Module: name, Line: line})
				}
			}
		}

	case "import_from_statement":
		var module string
		level := 0
		first := true
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			child := stmt.NamedChild(i)
			if child.Type() == "comment" {
				continue
			}
			if first {
				first = false
				module, level = fromModule(child, source)
				continue
			}
			switch child.Type() {
			case "dotted_name":
				name := lang.StripWhitespace(lang.NodeText(child, source))
				imports = append(imports, model.Import{
					Local: name, Module: module, Name: name, Level: level, Line: line,
				})
			case "aliased_import":
				name, alias := aliasedParts(child, source)
				if name != "" && alias != "" {
					imports = append(imports, model.Import{
						Local: alias, Module: module, Name: name, Level: level, Line: line,
					})
				}
			}
		}
	}
	return imports
}

func fromModule(node *sitter.Node, source []byte) (string, int) {
	if node.Type() != "relative_import" {
		return lang.StripWhitespace(lang.NodeText(node, source)), 0
	}
	level := 0
	var module string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_prefix":
			level = strings.Count(lang.NodeText(child, source), ".")
		case "dotted_name":
			module = lang.StripWhitespace(lang.NodeText(child, source))
		}
	}
	return module, level
}

func aliasedParts(node *sitter.Node, source []byte) (name, alias string) {
	if n := node.ChildByFieldName("name"); n != nil {
		name = lang.StripWhitespace(lang.NodeText(n, source))
	}
	if a := node.ChildByFieldName("alias"); a != nil {
		alias = lang.NodeText(a, source)
	}
	return name, alias
}
