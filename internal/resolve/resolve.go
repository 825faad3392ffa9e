// Package resolve decides where the primary base class of a Python class is
// defined and, for classes defined outside the project, looks up their
// member set in the interface catalog.
package resolve

import (
	"log/slog"
	"strings"

	"github.com/phobologic/safeoverride/internal/catalog"
	"github.com/phobologic/safeoverride/internal/model"
)

// Kind classifies a resolved base class.
type Kind int

const (
	// Unresolved means the defining module or class could not be determined.
	// It is treated exactly like Internal.
	Unresolved Kind = iota
	// Internal means the base is defined inside the analyzed project.
	Internal
	// External means the base is defined in a dependency described by the catalog.
	External
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal"
	case External:
		return "external"
	default:
		return "unresolved"
	}
}

// Resolution is the outcome of resolving one base reference.
type Resolution struct {
	Kind    Kind
	Module  string
	Name    string
	Members catalog.MemberSet
}

// Target is a base reference qualified to its defining module.
type Target struct {
	Module string
	Name   string
	// Local is set when the name is defined in the referencing module itself.
	Local bool
	// Relative is set when the name came through a relative import.
	Relative bool
}

// Qualified returns "module.Name".
func (t Target) Qualified() string {
	if t.Module == "" {
		return t.Name
	}
	return t.Module + "." + t.Name
}

// Qualify performs module-scope name resolution of ref within mod.
// isBuiltin reports whether an unbound bare name is a builtin; it may be nil.
func Qualify(mod *model.Module, ref model.BaseRef, isBuiltin func(string) bool) (Target, bool) {
	parts := ref.Parts()
	if len(parts) == 0 {
		return Target{}, false
	}
	head, rest := parts[0], parts[1:]

	imp, local, found := mod.Lookup(head)
	if !found {
		if len(rest) == 0 && isBuiltin != nil && isBuiltin(head) {
			return Target{Module: catalog.BuiltinsModule, Name: head}, true
		}
		return Target{}, false
	}

	if local {
		return Target{Module: mod.Name, Name: strings.Join(parts, "."), Local: true}, true
	}

	base, ok := importBase(mod, imp)
	if !ok {
		return Target{}, false
	}
	segments := append(base, rest...)
	if len(segments) < 2 {
		return Target{}, false
	}
	n := len(segments)
	return Target{
		Module:   strings.Join(segments[:n-1], "."),
		Name:     segments[n-1],
		Relative: imp.Level > 0,
	}, true
}

// importBase returns the dotted path an import binding refers to, with
// relative imports anchored at the importing module's package.
func importBase(mod *model.Module, imp model.Import) ([]string, bool) {
	var segments []string
	if imp.Level > 0 {
		pkg := strings.Split(mod.Name, ".")
		if !mod.IsPackage {
			pkg = pkg[:len(pkg)-1]
		}
		up := imp.Level - 1
		if up > len(pkg) {
			return nil, false
		}
		segments = append(segments, pkg[:len(pkg)-up]...)
	}
	if imp.Module != "" {
		segments = append(segments, strings.Split(imp.Module, ".")...)
	}
	if imp.Name != "" {
		segments = append(segments, imp.Name)
	}
	return segments, len(segments) > 0
}

// ProjectIndex answers whether a module belongs to the analyzed project.
type ProjectIndex struct {
	tops map[string]struct{}
}

// NewProjectIndex indexes the dotted names of every project module.
func NewProjectIndex(modules []string) *ProjectIndex {
	p := &ProjectIndex{tops: make(map[string]struct{}, len(modules))}
	for _, m := range modules {
		if m == "" {
			continue
		}
		top, _, _ := strings.Cut(m, ".")
		p.tops[top] = struct{}{}
	}
	return p
}

// Contains reports whether module's top-level package or module is part of
// the project.
func (p *ProjectIndex) Contains(module string) bool {
	if p == nil || module == "" {
		return false
	}
	top, _, _ := strings.Cut(module, ".")
	_, ok := p.tops[top]
	return ok
}

// Resolver resolves primary bases against the project and the catalog.
// It holds no per-class state and is safe for concurrent use.
type Resolver struct {
	project *ProjectIndex
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// New creates a Resolver. A nil logger discards debug output.
func New(project *ProjectIndex, cat *catalog.Catalog, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cat == nil {
		cat = catalog.New()
	}
	return &Resolver{project: project, catalog: cat, logger: logger}
}

// IsBuiltin reports whether name is a class of the builtins module.
func (r *Resolver) IsBuiltin(name string) bool {
	_, err := r.catalog.Class(catalog.BuiltinsModule, name)
	return err == nil
}

// Resolve resolves the first base of cls, which is defined in mod. Only the
// first base is inspected. Every failure yields Unresolved; Resolve never
// returns an error.
func (r *Resolver) Resolve(mod *model.Module, cls *model.ClassDef) Resolution {
	ref, ok := cls.FirstBase()
	if !ok {
		return Resolution{Kind: Unresolved}
	}

	t, ok := Qualify(mod, ref, r.IsBuiltin)
	if !ok {
		r.logger.Debug("base not resolvable",
			"file", mod.Path, "class", cls.Name, "base", ref.Expr)
		return Resolution{Kind: Unresolved}
	}

	if t.Local || t.Relative || r.project.Contains(t.Module) {
		return Resolution{Kind: Internal, Module: t.Module, Name: t.Name}
	}

	members, err := r.catalog.Members(t.Module, t.Name)
	if err != nil {
		r.logger.Debug("external base not in catalog",
			"file", mod.Path, "class", cls.Name, "base", t.Qualified(), "error", err)
		return Resolution{Kind: Unresolved, Module: t.Module, Name: t.Name}
	}
	return Resolution{Kind: External, Module: t.Module, Name: t.Name, Members: members}
}
