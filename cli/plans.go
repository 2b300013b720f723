package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
	"github.com/BertoldVdb/patchcoord/patch"
)

func loadPlans(paths []string) ([]*patch.Plan, error) {
	var plans []*patch.Plan
	for _, m := range paths {
		plan, err := patch.LoadPlan(m)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (c *Context) applyOptions() patch.ApplyOptions {
	return patch.ApplyOptions{
		Variant: c.config.Variant,
		Symbols: c.config.SymbolTable(),
	}
}

// applyPlans applies every plan with its own name as owner.
func applyPlans(c *Context, paths []string) error {
	plans, err := loadPlans(paths)
	if err != nil {
		return err
	}

	for _, plan := range plans {
		if _, err := c.patcher.For(plan.Name).ApplyPlan(plan, c.applyOptions()); err != nil {
			return err
		}
	}
	return nil
}

type PlanCheckCmd struct {
	Plans []string `arg name:"plan" help:"Plan files, in load order."`
}

func (p *PlanCheckCmd) Run(c *Context) error {
	plans, err := loadPlans(p.Plans)
	if err != nil {
		return err
	}

	conflicts, err := patch.CheckPlans(ledger.New(), c.applyOptions(), plans...)
	if err != nil {
		return err
	}

	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)

	for _, plan := range plans {
		n := 0
		for _, m := range conflicts {
			if m.Plan != plan.Name {
				continue
			}
			n++

			comment := plan.Entries[m.Index].Comment
			if comment != "" {
				comment = " (" + comment + ")"
			}
			red.Printf("%s entry %d%s: %08x+%d conflicts with %s at %08x+%d\n",
				plan.Name, m.Index, comment, m.Addr, m.Length, m.Holder.Owner, m.Holder.Start, m.Holder.Length)
		}
		if n == 0 {
			green.Printf("%s: %d entries, no conflicts\n", plan.Name, len(plan.Entries))
		}
	}

	if len(conflicts) > 0 {
		return fmt.Errorf("%d conflicting entries", len(conflicts))
	}
	return nil
}

type PlanApplyCmd struct {
	Plans     []string `arg name:"plan" help:"Plan files, in load order."`
	OutputDir string   `optional help:"Directory to write the patched segments to." type:"path"`
}

func printClaims(l *ledger.Ledger) {
	fmt.Printf("Owner                |   Start  | Length\n")
	for _, m := range l.Claims() {
		fmt.Printf("%-21s| %08x | %d\n", m.Owner, m.Start, m.Length)
	}
}

func writeSegments(space *memhal.Simulated, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	for _, m := range space.Segments() {
		buf := make([]byte, m.GetLength())
		if _, err := memhal.RegionWrapCompleteIO(m).Access(false, 0, buf); err != nil {
			return fmt.Errorf("segment %s: %w", m.GetName(), err)
		}

		path := filepath.Join(dir, string(m.GetName())+".bin")
		if err := os.WriteFile(path, buf, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d bytes).\n", path, len(buf))
	}
	return nil
}

func (p *PlanApplyCmd) Run(c *Context) error {
	if err := applyPlans(c, p.Plans); err != nil {
		return err
	}

	printClaims(c.ledger)

	if p.OutputDir != "" {
		return writeSegments(c.space, p.OutputDir)
	}
	return nil
}
