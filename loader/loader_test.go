package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

func newImage(t *testing.T) *memhal.Simulated {
	t.Helper()
	s := memhal.NewSimulated(0x100)
	require.NoError(t, s.Map("CODE", 0x1000, make([]byte, 0x200), memhal.ProtRX))
	return s
}

type logRecorder []string

func (l *logRecorder) log(level int, format string, param ...interface{}) {
	*l = append(*l, format)
}

func TestInitializeRunsModulesInOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	var seen [][]string

	record := func(host Host, siblings []Module) {
		order = append(order, host.Name())
		var names []string
		for _, m := range siblings {
			names = append(names, m.Name)
		}
		seen = append(seen, names)
	}
	reg.Register("b", record)
	reg.Register("a", record)

	c := New(newImage(t), ledger.New(), Config{
		Modules: []string{"b", "a"},
		Openers: []Opener{reg},
	})
	results, err := c.Initialize()
	require.NoError(t, err)

	assert.Equal(t, []Result{{Name: "b"}, {Name: "a"}}, results)
	assert.Equal(t, []string{"b", "a"}, order)
	assert.Equal(t, [][]string{nil, {"b"}}, seen)
	assert.Len(t, c.Modules(), 2)
}

func TestFailuresAreReportedPerModule(t *testing.T) {
	reg := NewRegistry()
	reg.Register("panics", func(host Host, siblings []Module) {
		panic("bad module")
	})
	reg.Register("good", func(host Host, siblings []Module) {
		_, err := host.RedirectCall(0x1000, 0x2000)
		assert.NoError(t, err)
	})

	var logs logRecorder
	c := New(newImage(t), ledger.New(), Config{
		Modules: []string{"missing", "panics", "good"},
		Openers: []Opener{reg},
		LogFunc: logs.log,
	})
	results, err := c.Initialize()
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.ErrorIs(t, results[0].Err, ErrorModuleNotFound)
	assert.ErrorIs(t, results[1].Err, ErrorModulePanic)
	assert.NoError(t, results[2].Err)

	claim, ok := c.Ledger().Holder(0x1000)
	require.True(t, ok)
	assert.Equal(t, "good", claim.Owner)
	assert.Len(t, c.Modules(), 1)
	assert.Contains(t, logs, "Module %s failed: %v")
}

func TestSecondModuleConflictIsVisibleToIt(t *testing.T) {
	reg := NewRegistry()
	var conflict error
	reg.Register("first", func(host Host, siblings []Module) {
		_, err := host.ReplacePointer(0x1010, 1)
		require.NoError(t, err)
	})
	reg.Register("second", func(host Host, siblings []Module) {
		conflict = host.ReplaceBytes(0x1012, []byte{0x90})
	})

	c := New(newImage(t), ledger.New(), Config{
		Modules: []string{"first", "second"},
		Openers: []Opener{reg},
	})
	results, err := c.Initialize()
	require.NoError(t, err)

	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, conflict, patch.ErrorConflict)
}

type staticOpener map[string]Handle

func (o staticOpener) Open(name string) (Handle, error) {
	if h, ok := o[name]; ok {
		return h, nil
	}
	return nil, ErrorModuleNotFound
}

func TestEntryPointResolution(t *testing.T) {
	called := 0
	fn := func(host Host, siblings []Module) { called++ }
	ep := EntryPoint(fn)

	c := New(newImage(t), ledger.New(), Config{
		Modules: []string{"func", "ptr", "none", "wrongtype"},
		Openers: []Opener{staticOpener{
			"func":      symbolHandle{EntryPointSymbol: fn},
			"ptr":       symbolHandle{EntryPointSymbol: &ep},
			"none":      symbolHandle{},
			"wrongtype": symbolHandle{EntryPointSymbol: func() {}},
		}},
	})
	results, err := c.Initialize()
	require.NoError(t, err)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, ErrorEntryPoint)
	assert.ErrorIs(t, results[3].Err, ErrorEntryPoint)
	assert.Equal(t, 2, called)
}

func TestHostLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("lookup", func(host Host, siblings []Module) {
		sym, err := host.Lookup("ReplacePointer")
		require.NoError(t, err)
		replace, ok := sym.(func(int, uint32) (uint32, error))
		require.True(t, ok)
		_, err = replace(0x1100, 0xAABBCCDD)
		require.NoError(t, err)

		_, err = host.Lookup("ExitProcess")
		assert.ErrorIs(t, err, ErrorSymbolNotFound)
	})

	s := newImage(t)
	c := New(s, ledger.New(), Config{Modules: []string{"lookup"}, Openers: []Opener{reg}})
	_, err := c.Initialize()
	require.NoError(t, err)

	v, err := memhal.ReadPointer(s, 0x1100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAABBCCDD), v)
}

const planFile = `entries:
  - kind: hook
    addresses: {smacx: 0x1020}
    target: Hook
  - kind: change
    address: 0x1030
    bytes: "c3"
`

func TestPlanModulesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-zoom.yaml"), []byte(planFile), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-other.yml"), []byte("entries:\n  - kind: change\n    address: 0x1031\n    bytes: \"90\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), nil, 0o644))

	names, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"10-other.yml", "20-zoom.yaml"}, names)

	s := newImage(t)
	c := New(s, ledger.New(), Config{
		PluginDir: dir,
		Variant:   "smacx",
		Symbols:   patch.SymbolTable{"Hook": 0x1180},
	})
	results, err := c.Initialize()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)

	v, err := memhal.ReadPointer(s, 0x1020)
	require.NoError(t, err)
	assert.Equal(t, patch.Displacement(0x1020, 0x1180), v)

	b, err := memhal.ReadByte(s, 0x1030)
	require.NoError(t, err)
	assert.Equal(t, byte(0xc3), b)

	claim, ok := c.Ledger().Holder(0x1031)
	require.True(t, ok)
	assert.Equal(t, "10-other.yml", claim.Owner)
}

func TestPluginOpenerIgnoresOtherNames(t *testing.T) {
	_, err := PluginOpener{}.Open("zoom.yaml")
	assert.ErrorIs(t, err, ErrorModuleNotFound)

	_, err = PluginOpener{Dir: t.TempDir()}.Open("missing.so")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrorModuleNotFound)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	reg.Register("x", func(Host, []Module) {})
	assert.Panics(t, func() { reg.Register("x", func(Host, []Module) {}) })
	assert.Equal(t, []string{"x"}, reg.Names())
}
