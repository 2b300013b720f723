package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/BertoldVdb/patchcoord/patch"
)

// EntryPointSymbol is the symbol every module exports. Its value must be an
// EntryPoint (or a pointer to one).
const EntryPointSymbol = "PatchInit"

type EntryPoint func(host Host, siblings []Module)

type Handle interface {
	Lookup(symbol string) (interface{}, error)
}

type Module struct {
	Name   string
	Handle Handle
}

// Opener returns ErrorModuleNotFound for names it does not handle.
type Opener interface {
	Open(name string) (Handle, error)
}

type symbolHandle map[string]interface{}

func (h symbolHandle) Lookup(symbol string) (interface{}, error) {
	if v, ok := h[symbol]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrorSymbolNotFound, symbol)
}

// Registry holds modules compiled into the binary.
type Registry struct {
	mu      sync.Mutex
	entries map[string]EntryPoint
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]EntryPoint),
	}
}

var DefaultRegistry = NewRegistry()

// Register adds a built in module to DefaultRegistry. It is meant to be called from init.
func Register(name string, entry EntryPoint) {
	DefaultRegistry.Register(name, entry)
}

func (r *Registry) Register(name string, entry EntryPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[name]; dup || entry == nil {
		panic("loader: Register called twice or with nil entry for " + name)
	}
	r.entries[name] = entry
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Open(name string) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return nil, ErrorModuleNotFound
	}
	return symbolHandle{EntryPointSymbol: entry}, nil
}

func resolvePath(dir string, name string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func isPlanName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// PlanOpener turns a plan file into a module that applies it.
type PlanOpener struct {
	Dir     string
	Symbols patch.SymbolTable
}

func (o PlanOpener) Open(name string) (Handle, error) {
	if !isPlanName(name) {
		return nil, ErrorModuleNotFound
	}

	plan, err := patch.LoadPlan(resolvePath(o.Dir, name))
	if err != nil {
		return nil, err
	}

	entry := EntryPoint(func(host Host, siblings []Module) {
		if _, err := host.ApplyPlan(plan, o.Symbols); err != nil {
			host.Log(0, "%v", err)
		}
	})
	return symbolHandle{EntryPointSymbol: entry, "Plan": plan}, nil
}

// PluginOpener loads Go plugins (*.so) built with -buildmode=plugin.
type PluginOpener struct {
	Dir string
}

type pluginHandle struct {
	p *plugin.Plugin
}

func (h pluginHandle) Lookup(symbol string) (interface{}, error) {
	sym, err := h.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorSymbolNotFound, err)
	}
	return sym, nil
}

func (o PluginOpener) Open(name string) (Handle, error) {
	if filepath.Ext(name) != ".so" {
		return nil, ErrorModuleNotFound
	}

	p, err := plugin.Open(resolvePath(o.Dir, name))
	if err != nil {
		return nil, err
	}
	return pluginHandle{p: p}, nil
}

// Discover lists loadable modules in dir in name order.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, m := range entries {
		if m.IsDir() {
			continue
		}
		if filepath.Ext(m.Name()) == ".so" || isPlanName(m.Name()) {
			names = append(names, m.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func resolveEntryPoint(h Handle) (EntryPoint, error) {
	sym, err := h.Lookup(EntryPointSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrorEntryPoint, err)
	}

	switch f := sym.(type) {
	case EntryPoint:
		return f, nil
	case func(Host, []Module):
		return f, nil
	case *EntryPoint:
		if f != nil && *f != nil {
			return *f, nil
		}
	case *func(Host, []Module):
		if f != nil && *f != nil {
			return *f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has type %T", ErrorEntryPoint, EntryPointSymbol, sym)
}
