package walk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/safeoverride/internal/model"
)

func setup(t *testing.T) func(source string) *model.Module {
	t.Helper()
	w, err := New("python")
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return func(source string) *model.Module {
		mod, err := w.Walk([]byte(source), "pkg/mod.py", "pkg.mod")
		require.NoError(t, err)
		return mod
	}
}

func classByName(t *testing.T, mod *model.Module, name string) *model.ClassDef {
	t.Helper()
	for _, c := range mod.Classes {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("class %q not found", name)
	return nil
}

func methodNames(c *model.ClassDef) []string {
	var names []string
	for _, m := range c.Methods {
		names = append(names, m.Name)
	}
	return names
}

func TestWalkUnknownLanguage(t *testing.T) {
	t.Parallel()

	_, err := New("cobol")
	assert.ErrorIs(t, err, ErrNoLanguage)
}

func TestWalkEmpty(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk("")
	assert.Equal(t, "pkg/mod.py", mod.Path)
	assert.Equal(t, "pkg.mod", mod.Name)
	assert.Empty(t, mod.Classes)
	assert.Empty(t, mod.Imports)
}

func TestWalkMethodsAndFreeFunctions(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`def free():
    pass

class A(Base):
    def first(self):
        def nested():
            pass

    @decorator
    def second(self):
        pass

    @staticmethod
    @other.deco(arg=1)
    def third():
        pass
`)

	require.Len(t, mod.Classes, 1)
	a := mod.Classes[0]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, 4, a.Line)
	assert.Equal(t, []string{"first", "second", "third"}, methodNames(a))

	for _, m := range a.Methods {
		assert.Same(t, a, m.Class, "method %s back-references its class", m.Name)
	}

	first := a.Methods[0]
	assert.Equal(t, 5, first.Line)
	assert.Equal(t, 9, first.Column)
	assert.Empty(t, first.Markers)

	assert.Equal(t, []model.Marker{{Name: "decorator", Kind: model.MarkerPlain}}, a.Methods[1].Markers)
	assert.Equal(t, []model.Marker{
		{Name: "staticmethod", Kind: model.MarkerPlain},
		{Name: "other.deco", Kind: model.MarkerPlain},
	}, a.Methods[2].Markers)

	assert.Equal(t, 1, mod.Locals["free"])
	assert.Equal(t, 4, mod.Locals["A"])
	_, nestedIsLocal := mod.Locals["nested"]
	assert.False(t, nestedIsLocal)
}

func TestWalkConditionalMethods(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`import sys

class M(MagicMock):
    if sys.version_info >= (3, 8):
        @overrides
        def assert_called(self):
            pass
    else:
        LEGACY = True

    try:
        def reset_mock(self):
            pass
    except ImportError:
        fallback = None
    finally:
        done = True

    with suppress(Exception):
        def helper(self):
            def local():
                pass

def module_level():
    if True:
        def inner():
            pass
`)

	m := classByName(t, mod, "M")
	assert.Equal(t, []string{"assert_called", "reset_mock", "helper"}, methodNames(m))
	assert.Equal(t, []model.Marker{{Name: "overrides", Kind: model.MarkerPlain}}, m.Methods[0].Markers)
	assert.Equal(t, 6, m.Methods[0].Line)
	assert.Equal(t, 13, m.Methods[0].Column)
	assert.Equal(t, []string{"assert_called", "LEGACY", "reset_mock", "fallback", "done", "helper"}, m.Members)

	_, ok := mod.Locals["module_level"]
	assert.True(t, ok)
	_, ok = mod.Locals["inner"]
	assert.False(t, ok)
}

func TestWalkBases(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`class NoBases:
    pass

class Empty():
    pass

class Plain(MagicMock, Other):
    pass

class Dotted(mock.MagicMock):
    pass

class Generic_(Generic[T]):
    pass

class Keyword(metaclass=ABCMeta):
    pass

class KeywordFirst(metaclass=ABCMeta, *bases):
    pass

class Called(with_metaclass(Meta, Base)):
    pass
`)

	assert.Empty(t, classByName(t, mod, "NoBases").Bases)
	assert.Empty(t, classByName(t, mod, "Empty").Bases)
	assert.Empty(t, classByName(t, mod, "Keyword").Bases)
	assert.Empty(t, classByName(t, mod, "KeywordFirst").Bases)

	plain := classByName(t, mod, "Plain")
	require.Len(t, plain.Bases, 2)
	assert.Equal(t, model.BaseRef{Expr: "MagicMock", Kind: model.BaseName, Line: 7}, plain.Bases[0])
	assert.Equal(t, "Other", plain.Bases[1].Expr)

	dotted, ok := classByName(t, mod, "Dotted").FirstBase()
	require.True(t, ok)
	assert.Equal(t, "mock.MagicMock", dotted.Expr)
	assert.Equal(t, model.BaseAttribute, dotted.Kind)
	assert.Equal(t, []string{"mock", "MagicMock"}, dotted.Parts())

	generic, _ := classByName(t, mod, "Generic_").FirstBase()
	assert.Equal(t, "Generic", generic.Expr)
	assert.Equal(t, model.BaseName, generic.Kind)

	called, _ := classByName(t, mod, "Called").FirstBase()
	assert.Equal(t, model.BaseOther, called.Kind)
	assert.Nil(t, called.Parts())
}

func TestWalkImports(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`import os
import os.path
import unittest.mock as um
from unittest.mock import MagicMock, Mock as M
from overrides import (
    overrides,  # the decorator
)
from . import sibling
from ..base import Base as B
from .models import *

try:
    import simplejson as json
except ImportError:
    import json

def f():
    import hidden
`)

	want := []model.Import{
		{Local: "os", Module: "os", Line: 1},
		{Local: "os", Module: "os", Line: 2},
		{Local: "um", Module: "unittest.mock", Line: 3},
		{Local: "MagicMock", Module: "unittest.mock", Name: "MagicMock", Line: 4},
		{Local: "M", Module: "unittest.mock", Name: "Mock", Line: 4},
		{Local: "overrides", Module: "overrides", Name: "overrides", Line: 5},
		{Local: "sibling", Module: "", Name: "sibling", Level: 1, Line: 8},
		{Local: "B", Module: "base", Name: "Base", Level: 2, Line: 9},
		{Local: "json", Module: "simplejson", Line: 13},
		{Local: "json", Module: "json", Line: 15},
	}
	assert.Equal(t, want, mod.Imports)

	imp, local, found := mod.Lookup("json")
	assert.True(t, found)
	assert.False(t, local)
	assert.Equal(t, "json", imp.Module, "later binding wins")

	_, _, found = mod.Lookup("hidden")
	assert.False(t, found, "function-scope imports are not module bindings")
}

func TestWalkLocalsShadowImports(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`from overrides import overrides

def overrides(func):
    return func

from mock import Mock
Mock = object
A = B = None
x, (y, z) = 1, (2, 3)
`)

	_, local, found := mod.Lookup("overrides")
	assert.True(t, found)
	assert.True(t, local, "def after import shadows it")

	_, local, _ = mod.Lookup("Mock")
	assert.True(t, local, "assignment after import shadows it")

	for _, name := range []string{"A", "B", "x", "y", "z"} {
		_, ok := mod.Locals[name]
		assert.True(t, ok, name)
	}
}

func TestWalkClassMembers(t *testing.T) {
	t.Parallel()
	walk := setup(t)

	mod := walk(`class Thing(Base):
    """Docstring."""
    label = "x"
    count: int = 0
    a, b = 1, 2

    def run(self):
        self.hidden = 1

    @property
    def name(self):
        return self._name

    @name.setter
    def name(self, value):
        self._name = value

    class Inner:
        pass
`)

	thing := classByName(t, mod, "Thing")
	assert.Equal(t, []string{"label", "count", "a", "b", "run", "name", "Inner"}, thing.Members)
	assert.Equal(t, []string{"run", "name", "name"}, methodNames(thing))

	inner := classByName(t, mod, "Inner")
	assert.Empty(t, inner.Bases)
	assert.True(t, inner.Nested)
	assert.False(t, thing.Nested)
	_, innerIsLocal := mod.Locals["Inner"]
	assert.False(t, innerIsLocal)
}

func TestWalkPackageInit(t *testing.T) {
	t.Parallel()

	w, err := New("python")
	require.NoError(t, err)
	defer w.Close()

	mod, err := w.Walk([]byte("x = 1\n"), "pkg/__init__.py", "pkg")
	require.NoError(t, err)
	assert.True(t, mod.IsPackage)

	mod, err = w.Walk([]byte("x = 1\n"), "pkg/mod.py", "pkg.mod")
	require.NoError(t, err)
	assert.False(t, mod.IsPackage)
}
