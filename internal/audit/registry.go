package audit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/phobologic/safeoverride/internal/marker"
	"github.com/phobologic/safeoverride/internal/model"
)

var (
	// ErrDuplicateRule means a rule id or symbol is already registered.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrUnknownRule means no registered rule has the given id or symbol.
	ErrUnknownRule = errors.New("unknown rule")
	// ErrInvalidRule means a rule lacks an id or a Run function.
	ErrInvalidRule = errors.New("invalid rule")
)

// Rules is the host-side registry. Rules are addressed by id or symbol.
type Rules struct {
	rules    []*Rule
	byKey    map[string]*Rule
	disabled map[*Rule]bool
}

// NewRules returns an empty registry.
func NewRules() *Rules {
	return &Rules{
		byKey:    make(map[string]*Rule),
		disabled: make(map[*Rule]bool),
	}
}

// Register implements Registry.
func (r *Rules) Register(rule *Rule) error {
	if rule == nil || rule.ID == "" || rule.Run == nil {
		return ErrInvalidRule
	}
	for _, key := range []string{rule.ID, rule.Symbol} {
		if key == "" {
			continue
		}
		if _, dup := r.byKey[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateRule, key)
		}
	}
	r.byKey[rule.ID] = rule
	if rule.Symbol != "" {
		r.byKey[rule.Symbol] = rule
	}
	r.rules = append(r.rules, rule)
	return nil
}

// Lookup finds a rule by id or symbol.
func (r *Rules) Lookup(key string) (*Rule, bool) {
	rule, ok := r.byKey[key]
	return rule, ok
}

// Disable turns off the rule named by id or symbol.
func (r *Rules) Disable(key string) error {
	rule, ok := r.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRule, key)
	}
	r.disabled[rule] = true
	return nil
}

// Enabled returns the enabled rules in registration order.
func (r *Rules) Enabled() []*Rule {
	var out []*Rule
	for _, rule := range r.rules {
		if !r.disabled[rule] {
			out = append(out, rule)
		}
	}
	return out
}

// Run executes every enabled rule over mod. Diagnostics are sorted by
// position, then rule id.
func (r *Rules) Run(mod *model.Module, resolver BaseResolver, markers *marker.Detector) []model.Diagnostic {
	var diags []model.Diagnostic
	report := func(d model.Diagnostic) { diags = append(diags, d) }
	for _, rule := range r.Enabled() {
		rule.Run(NewPass(rule, mod, resolver, markers, report))
	}
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Line != diags[j].Line {
			return diags[i].Line < diags[j].Line
		}
		if diags[i].Column != diags[j].Column {
			return diags[i].Column < diags[j].Column
		}
		return diags[i].RuleID < diags[j].RuleID
	})
	return diags
}
