package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMagicMockMembers(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	members, err := c.Members("unittest.mock", "MagicMock")
	require.NoError(t, err)

	assert.True(t, members.Has("assert_any_call"), "inherited from NonCallableMock")
	assert.True(t, members.Has("assert_called_with"))
	assert.True(t, members.Has("__call__"), "inherited from CallableMixin")
	assert.True(t, members.Has("_mock_set_magics"), "own member")
	assert.True(t, members.Has("__init__"), "inherited from builtins.object")
	assert.True(t, members.Has("__sizeof__"), "inherited from builtins.object")
	assert.False(t, members.Has("new_method"))
	assert.False(t, members.Has("anoter_method"))
}

func TestDefaultDigest(t *testing.T) {
	t.Parallel()

	d := DefaultDigest()
	assert.Len(t, d, 64)
	assert.Equal(t, d, DefaultDigest())
}

func TestDefaultAliases(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	viaAlias, err := c.Members("mock", "MagicMock")
	require.NoError(t, err)
	direct, err := c.Members("unittest.mock", "MagicMock")
	require.NoError(t, err)
	assert.Equal(t, direct.Names(), viaAlias.Names())

	tc, err := c.Members("unittest", "TestCase")
	require.NoError(t, err)
	assert.True(t, tc.Has("setUp"))
	assert.True(t, tc.Has("assertEqual"))
}

func TestMembersErrors(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	_, err = c.Members("requests", "Session")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = c.Members("unittest.mock", "NoSuchMock")
	assert.ErrorIs(t, err, ErrClassNotFound)

	_, err = c.Members("mock", "NoSuchMock")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestMembersSurvivesBaseCycles(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
modules:
  loop:
    classes:
      A:
        bases: [loop.B]
        members: [a]
      B:
        bases: [loop.A, missing.Base]
        members: [b]
  self:
    alias_of: self
`))
	require.NoError(t, err)

	members, err := c.Members("loop", "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members.Names())

	_, err = c.Members("self", "X")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestMembersNestedClassBase(t *testing.T) {
	t.Parallel()

	c := New()
	c.AddClass("pkg.mod", "Outer.Inner", ClassSpec{Members: []string{"inner"}})
	c.AddClass("pkg.mod", "Child", ClassSpec{Bases: []string{"pkg.mod.Outer.Inner"}, Members: []string{"child"}})

	members, err := c.Members("pkg.mod", "Child")
	require.NoError(t, err)
	assert.Equal(t, []string{"child", "inner"}, members.Names())
}

func TestMergeReplacesClasses(t *testing.T) {
	t.Parallel()

	base, err := Default()
	require.NoError(t, err)

	override := New()
	override.AddClass("unittest.mock", "MagicMock", ClassSpec{Members: []string{"only_this"}})
	override.AddClass("overrides", "EnforceOverrides", ClassSpec{Members: []string{"__init_subclass__"}})
	base.Merge(override)

	members, err := base.Members("unittest.mock", "MagicMock")
	require.NoError(t, err)
	assert.True(t, members.Has("only_this"))
	assert.False(t, members.Has("assert_any_call"))
	assert.True(t, members.Has("__repr__"), "object members are still implicit")

	assert.True(t, base.HasModule("overrides"))
	// untouched classes of the merged module remain
	_, err = base.Members("unittest.mock", "Mock")
	assert.NoError(t, err)
}

func TestLoadFileAndMarshal(t *testing.T) {
	t.Parallel()

	c := New()
	c.AddClass("vendor.lib", "Client", ClassSpec{
		Bases:   []string{"vendor.base.BaseClient"},
		Members: []string{"send", "close"},
	})
	c.AddClass("vendor.base", "BaseClient", ClassSpec{Members: []string{"connect"}})
	c.AddAlias("vendor", "vendor.lib")

	data, err := c.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"vendor", "vendor.base", "vendor.lib"}, loaded.Modules())

	members, err := loaded.Members("vendor", "Client")
	require.NoError(t, err)
	assert.True(t, members.Has("send"))
	assert.True(t, members.Has("connect"))
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules: [not, a, map"), 0o644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
