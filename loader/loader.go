// Package loader finds extension modules and runs their entry points in the
// configured order. There is no dependency resolution: a module that relies
// on another module's patches has to be listed after it.
package loader

import (
	"errors"
	"fmt"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

type LogFunc func(level int, format string, param ...interface{})

type Config struct {
	/* Module names in load order. Empty means Discover(PluginDir). */
	Modules   []string
	PluginDir string
	Variant   string

	/* Tried in order; nil selects DefaultRegistry, plan files and plugins */
	Openers []Opener
	Symbols patch.SymbolTable

	LogFunc LogFunc
}

type Result struct {
	Name string
	Err  error
}

type Coordinator struct {
	patcher *patch.Patcher
	config  Config
	loaded  []Module
}

func New(mem memhal.ProtectedRegion, l *ledger.Ledger, config Config) *Coordinator {
	if config.Openers == nil {
		config.Openers = []Opener{
			DefaultRegistry,
			PlanOpener{Dir: config.PluginDir, Symbols: config.Symbols},
			PluginOpener{Dir: config.PluginDir},
		}
	}

	return &Coordinator{
		patcher: patch.New(l, mem, patch.Config{LogFunc: patch.LogFunc(config.LogFunc)}),
		config:  config,
	}
}

func (c *Coordinator) log(level int, format string, param ...interface{}) {
	if c.config.LogFunc != nil {
		c.config.LogFunc(level, format, param...)
	}
}

func (c *Coordinator) Ledger() *ledger.Ledger {
	return c.patcher.Ledger()
}

// Modules returns the modules whose entry point has run.
func (c *Coordinator) Modules() []Module {
	return append([]Module(nil), c.loaded...)
}

func (c *Coordinator) open(name string) (Handle, error) {
	for _, o := range c.config.Openers {
		h, err := o.Open(name)
		if errors.Is(err, ErrorModuleNotFound) {
			continue
		}
		return h, err
	}
	return nil, fmt.Errorf("%w: %s", ErrorModuleNotFound, name)
}

func (c *Coordinator) run(name string, entry EntryPoint) (err error) {
	h := &host{
		name:    name,
		variant: c.config.Variant,
		patcher: c.patcher.For(name),
		logFunc: c.config.LogFunc,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrorModulePanic, r)
		}
	}()

	entry(h, c.Modules())
	return nil
}

// Initialize opens every configured module and calls its entry point once.
// Failures are reported per module and do not stop the remaining ones.
func (c *Coordinator) Initialize() ([]Result, error) {
	names := c.config.Modules
	if len(names) == 0 && c.config.PluginDir != "" {
		var err error
		names, err = Discover(c.config.PluginDir)
		if err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(names))
	for _, name := range names {
		err := c.initModule(name)
		if err != nil {
			c.log(0, "Module %s failed: %v", name, err)
		} else {
			c.log(1, "Module %s initialized", name)
		}
		results = append(results, Result{Name: name, Err: err})
	}
	return results, nil
}

func (c *Coordinator) initModule(name string) error {
	handle, err := c.open(name)
	if err != nil {
		return err
	}

	entry, err := resolveEntryPoint(handle)
	if err != nil {
		return err
	}

	if err := c.run(name, entry); err != nil {
		return err
	}

	c.loaded = append(c.loaded, Module{Name: name, Handle: handle})
	return nil
}
