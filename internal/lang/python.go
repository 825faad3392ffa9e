package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func init() {
	Languages["python"] = &Language{
		Name:            "python",
		Extensions:      []string{".py", ".pyi"},
		lang:            python.GetLanguage(),
		FindMethodClass: pythonFindEnclosingClass,
		PackageInit:     []string{"__init__.py", "__init__.pyi"},
	}
}

// pythonFindEnclosingClass returns the class whose body defines funcNode.
// Conditional and guarded blocks inside a class body (if, try, with, loops)
// still belong to the class; a def inside another function or lambda does not.
func pythonFindEnclosingClass(funcNode *sitter.Node) *sitter.Node {
	for p := funcNode.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "class_definition":
			return p
		case "function_definition", "lambda":
			return nil
		}
		if !PythonCompound(p) {
			return nil
		}
	}
	return nil
}

// PythonCompound reports whether node is a block, decorator wrapper, or
// compound statement whose body is part of the enclosing scope.
func PythonCompound(node *sitter.Node) bool {
	switch node.Type() {
	case "block", "decorated_definition",
		"if_statement", "elif_clause", "else_clause",
		"try_statement", "except_clause", "except_group_clause", "finally_clause",
		"with_statement", "for_statement", "while_statement",
		"match_statement", "case_clause":
		return true
	}
	return false
}

// PythonIdentifier returns the text of the first identifier child of node,
// which is the name of a class_definition or function_definition.
func PythonIdentifier(node *sitter.Node, source []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "identifier" {
			return NodeText(child, source)
		}
	}
	return ""
}

// PythonAtModuleScope reports whether node is not nested inside any function
// or class body. Statements under module-level if/try/with blocks count as
// module scope.
func PythonAtModuleScope(node *sitter.Node) bool {
	for p := node.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "function_definition", "class_definition", "lambda":
			return false
		}
	}
	return true
}
