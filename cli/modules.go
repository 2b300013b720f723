package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/BertoldVdb/patchcoord/loader"
)

type ModulesRunCmd struct {
	Modules []string `arg optional name:"module" help:"Modules to load, overrides the configuration."`
}

func (m *ModulesRunCmd) Run(c *Context) error {
	names := m.Modules
	if len(names) == 0 {
		names = c.config.Modules
	}

	coord := loader.New(c.space, c.ledger, loader.Config{
		Modules:   names,
		PluginDir: c.config.ModuleDir(),
		Variant:   c.config.Variant,
		Symbols:   c.config.SymbolTable(),
		LogFunc:   c.logFunc,
	})

	results, err := coord.Initialize()
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			color.Red("%-21s FAILED: %v", r.Name, r.Err)
		} else {
			color.Green("%-21s ok", r.Name)
		}
	}
	fmt.Println()
	printClaims(c.ledger)

	if failed > 0 {
		return fmt.Errorf("%d of %d modules failed", failed, len(results))
	}
	return nil
}
