package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/safeoverride/internal/catalog"
	"github.com/phobologic/safeoverride/internal/model"
	"github.com/phobologic/safeoverride/internal/resolve"
	"github.com/phobologic/safeoverride/internal/walk"
)

func walkSource(t *testing.T, source, path, module string) *model.Module {
	t.Helper()
	w, err := walk.New("python")
	require.NoError(t, err)
	defer w.Close()
	mod, err := w.Walk([]byte(source), path, module)
	require.NoError(t, err)
	return mod
}

func newResolver(t *testing.T, project ...string) *resolve.Resolver {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	return resolve.New(resolve.NewProjectIndex(project), cat, nil)
}

func methodsOf(diags []model.Diagnostic) []string {
	var out []string
	for _, d := range diags {
		out = append(out, d.Class+"."+d.Method)
	}
	return out
}

func TestCheckFixture(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile(filepath.Join("testdata", "my_naive_code.py"))
	require.NoError(t, err)

	mod := walkSource(t, string(src), "testdata/my_naive_code.py", "my_naive_code")
	diags := Check(mod, newResolver(t, "my_naive_code"), nil)

	require.Len(t, diags, 2)
	assert.Equal(t, model.Diagnostic{
		RuleID:  RuleID,
		Symbol:  RuleSymbol,
		Class:   "MyNaiveOverride",
		Method:  "assert_any_call",
		File:    "testdata/my_naive_code.py",
		Line:    11,
		Column:  9,
		Message: "Method MyNaiveOverride.assert_any_call is not marked as a safe override.",
	}, diags[0])
	assert.Equal(t, "MyNaiveOverride.assert_called_with", diags[1].Class+"."+diags[1].Method)
	assert.Equal(t, 18, diags[1].Line)
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		project []string
		want    []string
	}{
		{
			name: "unrelated decorator does not mark",
			source: `from unittest.mock import MagicMock
from functools import lru_cache

class M(MagicMock):
    @lru_cache
    def assert_called_once(self):
        pass
`,
			want: []string{"M.assert_called_once"},
		},
		{
			name: "called marker",
			source: `from overrides import overrides
from unittest.mock import MagicMock

class M(MagicMock):
    @overrides(check_signature=False)
    def assert_called_once(self):
        pass
`,
		},
		{
			name: "typing override among other decorators",
			source: `import typing
import unittest

class T(unittest.TestCase):
    @classmethod
    @typing.override
    def setUpClass(cls):
        pass

    def setUp(self):
        pass
`,
			want: []string{"T.setUp"},
		},
		{
			name: "internal base",
			source: `class Base:
    def run(self):
        pass

class Sub(Base):
    def run(self):
        pass
`,
		},
		{
			name: "project import is internal",
			source: `from app.base import Handler

class Sub(Handler):
    def handle(self):
        pass
`,
			project: []string{"app"},
		},
		{
			name: "unknown external base fails open",
			source: `from requests import Session

class S(Session):
    def request(self):
        pass
`,
		},
		{
			name: "only first base is checked",
			source: `from unittest.mock import MagicMock

class Mixin:
    pass

class M(Mixin, MagicMock):
    def assert_called(self):
        pass

class N(MagicMock, Mixin):
    def assert_called(self):
        pass
`,
			want: []string{"N.assert_called"},
		},
		{
			name: "object members count as inherited",
			source: `class Exc(Exception):
    def __str__(self):
        return "x"

    def details(self):
        return None
`,
			want: []string{"Exc.__str__"},
		},
		{
			name: "no bases",
			source: `class Plain:
    def __init__(self):
        pass
`,
		},
		{
			name: "redefinition reported once",
			source: `from unittest.mock import MagicMock

class M(MagicMock):
    def reset_mock(self):
        pass

    def reset_mock(self, deep=True):
        pass
`,
			want: []string{"M.reset_mock"},
		},
		{
			name: "nested class resolves independently",
			source: `from unittest.mock import MagicMock
from overrides import overrides

class Outer:
    class Inner(MagicMock):
        def assert_called(self):
            pass

    @overrides
    def assert_called(self):
        pass
`,
			want: []string{"Inner.assert_called"},
		},
		{
			name: "methods under if and try blocks",
			source: `import sys
from unittest.mock import MagicMock

class M(MagicMock):
    if sys.version_info >= (3, 8):
        def assert_called(self):
            pass

    try:
        def reset_mock(self):
            pass
    except ImportError:
        pass
`,
			want: []string{"M.assert_called", "M.reset_mock"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mod := walkSource(t, tt.source, "app/sample.py", "app.sample")
			project := tt.project
			if project == nil {
				project = []string{"sample"}
			}
			diags := Check(mod, newResolver(t, project...), nil)
			assert.Equal(t, tt.want, methodsOf(diags))
		})
	}
}

func TestRules(t *testing.T) {
	t.Parallel()

	rules := NewRules()
	require.NoError(t, Register(rules))
	assert.ErrorIs(t, Register(rules), ErrDuplicateRule)
	assert.ErrorIs(t, rules.Register(&Rule{ID: "X"}), ErrInvalidRule)

	byID, ok := rules.Lookup(RuleID)
	require.True(t, ok)
	bySymbol, ok := rules.Lookup(RuleSymbol)
	require.True(t, ok)
	assert.Same(t, byID, bySymbol)

	src := `from unittest.mock import MagicMock

class B(MagicMock):
    def reset_mock(self):
        pass

class A(MagicMock):
    def assert_called(self):
        pass
`
	mod := walkSource(t, src, "app/sample.py", "app.sample")
	resolver := newResolver(t, "app")

	diags := rules.Run(mod, resolver, nil)
	assert.Equal(t, []string{"B.reset_mock", "A.assert_called"}, methodsOf(diags))

	assert.ErrorIs(t, rules.Disable("W0000"), ErrUnknownRule)
	require.NoError(t, rules.Disable(RuleSymbol))
	assert.Empty(t, rules.Enabled())
	assert.Empty(t, rules.Run(mod, resolver, nil))
}

type stubResolver struct {
	res resolve.Resolution
}

func (s stubResolver) Resolve(*model.Module, *model.ClassDef) resolve.Resolution {
	return s.res
}

func TestCheckWithStubResolver(t *testing.T) {
	t.Parallel()

	mod := walkSource(t, `class C(Anything):
    def keep(self):
        pass

    def drop(self):
        pass
`, "c.py", "c")

	members := catalog.MemberSet{"keep": {}}
	diags := Check(mod, stubResolver{resolve.Resolution{Kind: resolve.External, Members: members}}, nil)
	assert.Equal(t, []string{"C.keep"}, methodsOf(diags))

	diags = Check(mod, stubResolver{resolve.Resolution{Kind: resolve.Unresolved, Members: members}}, nil)
	assert.Empty(t, diags)
}
