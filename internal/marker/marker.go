// Package marker classifies method decorators into typed markers and answers
// whether a method carries a safe-override marker.
package marker

import (
	"regexp"
	"strings"

	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/resolve"
)

// DefaultProviders are the qualified decorators that mark a safe override.
var DefaultProviders = []string{
	"overrides.overrides",
	"overrides.override",
	"overrides.overrides.overrides",
	"typing.override",
	"typing_extensions.override",
}

// DefaultBareNames are decorator names accepted as safe-override markers when
// they are not bound to anything in the module.
var DefaultBareNames = []string{"overrides"}

var dottedRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Detector classifies decorators. It is immutable and safe for concurrent use.
type Detector struct {
	providers map[string]struct{}
	bare      map[string]struct{}
}

// New creates a Detector. Nil slices fall back to the defaults; empty
// non-nil slices disable that kind of match.
func New(providers, bareNames []string) *Detector {
	if providers == nil {
		providers = DefaultProviders
	}
	if bareNames == nil {
		bareNames = DefaultBareNames
	}
	d := &Detector{
		providers: make(map[string]struct{}, len(providers)),
		bare:      make(map[string]struct{}, len(bareNames)),
	}
	for _, p := range providers {
		d.providers[p] = struct{}{}
	}
	for _, b := range bareNames {
		d.bare[b] = struct{}{}
	}
	return d
}

// Classify returns the kind of a decorator attached to a method of mod.
//
// A decorator is a safe-override marker when its target, resolved through
// the module's imports, is a configured provider, so aliases such as
// "from overrides import overrides as ov" are recognised. A bare name from
// the configured list also counts when nothing in the module binds it. A
// name defined in the module itself is never a marker.
func (d *Detector) Classify(mod *model.Module, m model.Marker) model.MarkerKind {
	if !dottedRe.MatchString(m.Name) {
		return model.MarkerPlain
	}

	kind := model.BaseName
	if strings.Contains(m.Name, ".") {
		kind = model.BaseAttribute
	}
	ref := model.BaseRef{Expr: m.Name, Kind: kind}
	head := ref.Parts()[0]

	if _, local, found := mod.Lookup(head); found && local {
		return model.MarkerPlain
	}

	if t, ok := resolve.Qualify(mod, ref, nil); ok {
		if _, safe := d.providers[t.Qualified()]; safe {
			return model.MarkerSafeOverride
		}
		return model.MarkerPlain
	}

	if _, safe := d.bare[m.Name]; safe {
		return model.MarkerSafeOverride
	}
	return model.MarkerPlain
}

// Annotate sets the Kind of every marker on every method of mod. It is
// idempotent.
func (d *Detector) Annotate(mod *model.Module) {
	for _, cls := range mod.Classes {
		for _, method := range cls.Methods {
			for i := range method.Markers {
				method.Markers[i].Kind = d.Classify(mod, method.Markers[i])
			}
		}
	}
}

// HasSafeOverride reports whether any marker attached to method is a
// safe-override marker. A method with no markers has none.
func HasSafeOverride(method *model.MethodDef) bool {
	for _, m := range method.Markers {
		if m.Kind == model.MarkerSafeOverride {
			return true
		}
	}
	return false
}
