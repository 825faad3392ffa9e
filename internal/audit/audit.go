// Package audit implements the non-safe-override rule and the small rule
// registry that hosts it.
package audit

import (
	"fmt"

	"github.com/phobologic/safeoverride/internal/marker"
	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/resolve"
)

const (
	// RuleID is the stable message id of the rule.
	RuleID = "E9940"
	// RuleSymbol is the rule's short name.
	RuleSymbol = "oops-non-safe-override"
	// MessageTemplate takes the class name and the method name.
	MessageTemplate = "Method %s.%s is not marked as a safe override."
)

// BaseResolver resolves the primary base of a class.
type BaseResolver interface {
	Resolve(mod *model.Module, cls *model.ClassDef) resolve.Resolution
}

// Rule is a named check over one module.
type Rule struct {
	ID          string
	Symbol      string
	Message     string
	Description string
	Run         func(*Pass)
}

// NonSafeOverride flags methods that override a member of an external base
// class without a safe-override marker.
var NonSafeOverride = &Rule{
	ID:      RuleID,
	Symbol:  RuleSymbol,
	Message: MessageTemplate,
	Description: "Used when a method redefines a member inherited from a class " +
		"defined outside the project without being marked as a safe override.",
	Run: checkOverrides,
}

// Registry accepts rules from a plugin entry point.
type Registry interface {
	Register(rule *Rule) error
}

// Register adds the rules of this package to reg.
func Register(reg Registry) error {
	return reg.Register(NonSafeOverride)
}

// Pass carries the inputs of one rule run over one module.
type Pass struct {
	Rule     *Rule
	Module   *model.Module
	Resolver BaseResolver
	Markers  *marker.Detector

	report func(model.Diagnostic)
}

// NewPass prepares a run of rule over mod. Diagnostics are delivered to report.
func NewPass(rule *Rule, mod *model.Module, resolver BaseResolver, markers *marker.Detector, report func(model.Diagnostic)) *Pass {
	if markers == nil {
		markers = marker.New(nil, nil)
	}
	return &Pass{Rule: rule, Module: mod, Resolver: resolver, Markers: markers, report: report}
}

// Report emits a diagnostic for method using the rule's message template.
func (p *Pass) Report(method *model.MethodDef) {
	className := ""
	if method.Class != nil {
		className = method.Class.Name
	}
	p.report(model.Diagnostic{
		RuleID:  p.Rule.ID,
		Symbol:  p.Rule.Symbol,
		Class:   className,
		Method:  method.Name,
		File:    p.Module.Path,
		Line:    method.Line,
		Column:  method.Column,
		Message: fmt.Sprintf(p.Rule.Message, className, method.Name),
	})
}

func checkOverrides(p *Pass) {
	p.Markers.Annotate(p.Module)

	for _, cls := range p.Module.Classes {
		res := p.Resolver.Resolve(p.Module, cls)
		if res.Kind != resolve.External {
			continue
		}

		reported := make(map[string]struct{})
		for _, method := range cls.Methods {
			if _, done := reported[method.Name]; done {
				continue
			}
			if !res.Members.Has(method.Name) {
				continue
			}
			if marker.HasSafeOverride(method) {
				continue
			}
			reported[method.Name] = struct{}{}
			p.Report(method)
		}
	}
}

// Check runs the non-safe-override rule over mod and returns its diagnostics.
func Check(mod *model.Module, resolver BaseResolver, markers *marker.Detector) []model.Diagnostic {
	var diags []model.Diagnostic
	pass := NewPass(NonSafeOverride, mod, resolver, markers, func(d model.Diagnostic) {
		diags = append(diags, d)
	})
	NonSafeOverride.Run(pass)
	return diags
}
