package patch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
)

type Kind string

const (
	KindAPI     Kind = "api"     /* import slot, old value is kept */
	KindHook    Kind = "hook"    /* rel32 operand of call/jmp */
	KindPointer Kind = "pointer" /* absolute pointer */
	KindChange  Kind = "change"  /* raw bytes */
)

type Entry struct {
	Kind      Kind           `yaml:"kind"`
	Address   int            `yaml:"address"`
	Addresses map[string]int `yaml:"addresses"`
	Target    string         `yaml:"target"`
	Value     uint32         `yaml:"value"`
	Size      int            `yaml:"size"`
	Bytes     HexBytes       `yaml:"bytes"`
	Comment   string         `yaml:"comment"`
}

// Plan is an ordered list of patches applied as one unit.
type Plan struct {
	Name    string  `yaml:"name"`
	Entries []Entry `yaml:"entries"`
}

// SymbolTable maps names used as entry targets to addresses.
type SymbolTable map[string]uint32

type ApplyOptions struct {
	Variant string
	Symbols SymbolTable
}

type Applied struct {
	Index    int
	Kind     Kind
	Target   string
	Addr     int
	Old      []byte
	OldValue uint32
}

type Result struct {
	Plan    string
	Applied []Applied
}

// Old returns the previous value of the first api entry targeting name.
func (r *Result) Old(name string) (uint32, bool) {
	for _, m := range r.Applied {
		if m.Kind == KindAPI && m.Target == name {
			return m.OldValue, true
		}
	}
	return 0, false
}

type op struct {
	index  int
	kind   Kind
	target string
	addr   int
	data   []byte
}

func entryError(plan *Plan, i int, err error) error {
	e := plan.Entries[i]
	if e.Comment != "" {
		return fmt.Errorf("%s entry %d (%s): %w", plan.Name, i, e.Comment, err)
	}
	return fmt.Errorf("%s entry %d: %w", plan.Name, i, err)
}

func (e *Entry) address(variant string) int {
	if addr, ok := e.Addresses[variant]; ok && variant != "" {
		return addr
	}
	return e.Address
}

func (e *Entry) value(symbols SymbolTable) (uint32, error) {
	if e.Target == "" {
		return e.Value, nil
	}
	v, ok := symbols[e.Target]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrorSymbol, e.Target)
	}
	return v, nil
}

func (e *Entry) resolve(opts ApplyOptions) (int, []byte, error) {
	addr := e.address(opts.Variant)
	if addr <= 0 {
		return 0, nil, fmt.Errorf("%w: no address for variant %q", ErrorInvalidEntry, opts.Variant)
	}

	if e.Kind == KindChange && len(e.Bytes) > 0 {
		return addr, append([]byte(nil), e.Bytes...), nil
	}

	v, err := e.value(opts.Symbols)
	if err != nil {
		return 0, nil, err
	}

	buf := make([]byte, memhal.PointerSize)
	switch e.Kind {
	case KindAPI, KindPointer:
		binary.LittleEndian.PutUint32(buf, v)
	case KindHook:
		binary.LittleEndian.PutUint32(buf, Displacement(addr, v))
	case KindChange:
		if e.Size < 1 || e.Size > memhal.PointerSize {
			return 0, nil, fmt.Errorf("%w: size %d needs bytes", ErrorInvalidEntry, e.Size)
		}
		binary.LittleEndian.PutUint32(buf, v)
		buf = buf[:e.Size]
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrorUnknownKind, e.Kind)
	}
	return addr, buf, nil
}

func (plan *Plan) resolve(opts ApplyOptions) ([]op, error) {
	ops := make([]op, 0, len(plan.Entries))
	for i := range plan.Entries {
		e := &plan.Entries[i]
		addr, data, err := e.resolve(opts)
		if err != nil {
			return nil, entryError(plan, i, err)
		}
		ops = append(ops, op{index: i, kind: e.Kind, target: e.Target, addr: addr, data: data})
	}
	return ops, nil
}

// ApplyPlan claims every entry of plan at once and then writes them in order.
// When a write fails the entries written so far are restored; their claims stay.
func (p *Patcher) ApplyPlan(plan *Plan, opts ApplyOptions) (*Result, error) {
	ops, err := plan.resolve(opts)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return &Result{Plan: plan.Name}, nil
	}

	ranges := make([]ledger.Range, len(ops))
	for i, m := range ops {
		if err := p.checkRange(m.addr, len(m.data)); err != nil {
			return nil, entryError(plan, m.index, err)
		}
		ranges[i] = ledger.Range{Start: m.addr, Length: len(m.data)}
	}

	if !p.ledger.TryClaimAll(p.config.Owner, ranges) {
		return nil, p.planConflict(plan, ops)
	}

	result := &Result{Plan: plan.Name}
	for _, m := range ops {
		old, err := p.write(m.addr, m.data)
		if err != nil {
			return nil, errors.Join(entryError(plan, m.index, err), p.rollback(result))
		}

		applied := Applied{Index: m.index, Kind: m.kind, Target: m.target, Addr: m.addr, Old: old}
		if len(old) == memhal.PointerSize {
			applied.OldValue = binary.LittleEndian.Uint32(old)
		}
		result.Applied = append(result.Applied, applied)
	}

	p.log(1, "%s: applied plan %s (%d entries)", p.config.Owner, plan.Name, len(result.Applied))
	return result, nil
}

func (p *Patcher) rollback(result *Result) error {
	var errs []error
	for i := len(result.Applied) - 1; i >= 0; i-- {
		m := result.Applied[i]
		if _, err := p.write(m.Addr, m.Old); err != nil {
			errs = append(errs, fmt.Errorf("restoring %08x: %w", m.Addr, err))
		}
	}
	result.Applied = nil
	return errors.Join(errs...)
}

func (p *Patcher) planConflict(plan *Plan, ops []op) error {
	for i, m := range ops {
		if holder, ok := p.ledger.FirstConflict(m.addr, len(m.data)); ok {
			return entryError(plan, m.index, fmt.Errorf("%w: %08x+%d held by %q at %08x+%d",
				ErrorConflict, m.addr, len(m.data), holder.Owner, holder.Start, holder.Length))
		}
		for _, o := range ops[:i] {
			if memhal.RangesOverlap(o.addr, len(o.data), m.addr, len(m.data)) {
				return entryError(plan, m.index, fmt.Errorf("%w: overlaps entry %d", ErrorConflict, o.index))
			}
		}
	}
	return fmt.Errorf("%s: %w", plan.Name, ErrorConflict)
}

type Conflict struct {
	Plan   string
	Index  int
	Addr   int
	Length int
	Holder ledger.Claim
}

// CheckPlans claims the entries of every plan in l without touching memory and
// reports each entry that conflicts with an earlier one.
func CheckPlans(l *ledger.Ledger, opts ApplyOptions, plans ...*Plan) ([]Conflict, error) {
	var conflicts []Conflict
	for _, plan := range plans {
		ops, err := plan.resolve(opts)
		if err != nil {
			return conflicts, err
		}

		for _, m := range ops {
			if l.TryClaimFor(plan.Name, m.addr, len(m.data)) {
				continue
			}
			holder, _ := l.FirstConflict(m.addr, len(m.data))
			conflicts = append(conflicts, Conflict{
				Plan:   plan.Name,
				Index:  m.index,
				Addr:   m.addr,
				Length: len(m.data),
				Holder: holder,
			})
		}
	}
	return conflicts, nil
}
