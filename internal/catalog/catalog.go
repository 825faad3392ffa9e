// Package catalog holds precomputed interface descriptors for classes defined
// outside the analyzed project. A descriptor lists a class's own members and
// its qualified bases; the full member set, including inherited members, is
// computed on lookup.
package catalog

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ObjectClass is the implicit root of every class hierarchy.
const ObjectClass = "builtins.object"

// BuiltinsModule holds names that resolve without an import.
const BuiltinsModule = "builtins"

var (
	// ErrModuleNotFound means the catalog has no descriptor for a module.
	ErrModuleNotFound = errors.New("module not in catalog")
	// ErrClassNotFound means the module is known but the class is not.
	ErrClassNotFound = errors.New("class not in catalog")
)

const maxAliasDepth = 8

//go:embed default.yaml
var defaultYAML []byte

// ClassSpec describes one external class.
type ClassSpec struct {
	Bases   []string `yaml:"bases,omitempty"`
	Members []string `yaml:"members,omitempty"`
}

// ModuleSpec describes one external module. A module with AliasOf set
// re-exports every class of the named module.
type ModuleSpec struct {
	AliasOf string                `yaml:"alias_of,omitempty"`
	Classes map[string]*ClassSpec `yaml:"classes,omitempty"`
}

type document struct {
	Modules map[string]*ModuleSpec `yaml:"modules"`
}

// Catalog is a merged set of module descriptors. It is not safe for
// concurrent mutation but may be read from many goroutines once built.
type Catalog struct {
	modules map[string]*ModuleSpec
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{modules: make(map[string]*ModuleSpec)}
}

// Default returns the embedded standard-library catalog.
func Default() (*Catalog, error) {
	c, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	return c, nil
}

// DefaultDigest returns the hex SHA-256 of the embedded catalog document.
func DefaultDigest() string {
	sum := sha256.Sum256(defaultYAML)
	return hex.EncodeToString(sum[:])
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	c := New()
	for name, spec := range doc.Modules {
		if spec == nil {
			spec = &ModuleSpec{}
		}
		c.addModule(name, spec)
	}
	return c, nil
}

// LoadFile reads and decodes a YAML catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Merge copies every descriptor of other into c. Classes in other replace
// classes of the same qualified name; an alias in other replaces c's alias.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	for name, spec := range other.modules {
		c.addModule(name, spec)
	}
}

func (c *Catalog) addModule(name string, spec *ModuleSpec) {
	dst, ok := c.modules[name]
	if !ok {
		dst = &ModuleSpec{Classes: make(map[string]*ClassSpec)}
		c.modules[name] = dst
	}
	if spec.AliasOf != "" {
		dst.AliasOf = spec.AliasOf
	}
	for cls, cs := range spec.Classes {
		if cs == nil {
			cs = &ClassSpec{}
		}
		dst.Classes[cls] = &ClassSpec{
			Bases:   append([]string(nil), cs.Bases...),
			Members: append([]string(nil), cs.Members...),
		}
	}
}

// AddClass records a class descriptor, replacing any existing one.
func (c *Catalog) AddClass(module, name string, spec ClassSpec) {
	c.addModule(module, &ModuleSpec{Classes: map[string]*ClassSpec{name: &spec}})
}

// AddAlias records that module re-exports target.
func (c *Catalog) AddAlias(module, target string) {
	c.addModule(module, &ModuleSpec{AliasOf: target})
}

// HasModule reports whether module has a descriptor.
func (c *Catalog) HasModule(module string) bool {
	_, ok := c.modules[module]
	return ok
}

// Modules returns the sorted names of every described module.
func (c *Catalog) Modules() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Class returns the descriptor of module.name, following module aliases.
func (c *Catalog) Class(module, name string) (*ClassSpec, error) {
	seen := make(map[string]struct{})
	for depth := 0; depth <= maxAliasDepth; depth++ {
		spec, ok := c.modules[module]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
		}
		if cs, ok := spec.Classes[name]; ok {
			return cs, nil
		}
		if spec.AliasOf == "" {
			break
		}
		if _, loop := seen[module]; loop {
			break
		}
		seen[module] = struct{}{}
		module = spec.AliasOf
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrClassNotFound, module, name)
}

// Members computes the member set of module.name including every member
// inherited through described bases and builtins.object. Bases missing from
// the catalog contribute nothing.
func (c *Catalog) Members(module, name string) (MemberSet, error) {
	root, err := c.Class(module, name)
	if err != nil {
		return nil, err
	}

	set := make(MemberSet)
	visited := map[string]struct{}{module + "." + name: {}}
	queue := []*ClassSpec{root}
	implicitObject := module+"."+name != ObjectClass

	for len(queue) > 0 {
		cs := queue[0]
		queue = queue[1:]
		for _, m := range cs.Members {
			set[m] = struct{}{}
		}
		for _, base := range cs.Bases {
			if base == ObjectClass {
				implicitObject = true
			}
			if _, done := visited[base]; done {
				continue
			}
			visited[base] = struct{}{}
			if bs, ok := c.lookupQualified(base); ok {
				queue = append(queue, bs)
			}
		}
	}

	if implicitObject {
		if _, done := visited[ObjectClass]; !done {
			if obj, ok := c.lookupQualified(ObjectClass); ok {
				for _, m := range obj.Members {
					set[m] = struct{}{}
				}
			}
		}
	}
	return set, nil
}

// lookupQualified resolves "pkg.mod.Class" by trying every split point from
// the right, so nested class names such as "pkg.mod.Outer.Inner" also work.
func (c *Catalog) lookupQualified(qualified string) (*ClassSpec, bool) {
	for i := strings.LastIndex(qualified, "."); i > 0; i = strings.LastIndex(qualified[:i], ".") {
		if cs, err := c.Class(qualified[:i], qualified[i+1:]); err == nil {
			return cs, true
		}
	}
	return nil, false
}

// Marshal encodes the catalog as YAML with sorted keys and members.
func (c *Catalog) Marshal() ([]byte, error) {
	doc := document{Modules: make(map[string]*ModuleSpec, len(c.modules))}
	for name, spec := range c.modules {
		out := &ModuleSpec{AliasOf: spec.AliasOf}
		if len(spec.Classes) > 0 {
			out.Classes = make(map[string]*ClassSpec, len(spec.Classes))
			for cls, cs := range spec.Classes {
				members := append([]string(nil), cs.Members...)
				sort.Strings(members)
				out.Classes[cls] = &ClassSpec{Bases: cs.Bases, Members: members}
			}
		}
		doc.Modules[name] = out
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encoding catalog: %w", err)
	}
	return data, nil
}

// MemberSet is the set of attribute names exposed by a class.
type MemberSet map[string]struct{}

// Has reports whether name is a member.
func (s MemberSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s MemberSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
