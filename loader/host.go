package loader

import (
	"fmt"

	"github.com/BertoldVdb/patchcoord/patch"
)

// Host is what a module receives from the coordinator. Patches made through it
// are recorded in the ledger under the module's name.
type Host interface {
	Handle

	Name() string
	Variant() string
	Log(level int, format string, param ...interface{})

	ReplacePointer(addr int, value uint32) (uint32, error)
	RedirectCall(addr int, target uint32) (uint32, error)
	ReplaceExternalReference(addr int, value uint32) (uint32, error)
	ReplaceBytes(addr int, buf []byte) error
	ApplyPlan(plan *patch.Plan, symbols patch.SymbolTable) (*patch.Result, error)
}

type host struct {
	name    string
	variant string
	patcher *patch.Patcher
	logFunc LogFunc
}

func (h *host) Name() string {
	return h.name
}

func (h *host) Variant() string {
	return h.variant
}

func (h *host) Log(level int, format string, param ...interface{}) {
	if h.logFunc != nil {
		h.logFunc(level, "%s: "+format, append([]interface{}{h.name}, param...)...)
	}
}

func (h *host) ReplacePointer(addr int, value uint32) (uint32, error) {
	return h.patcher.ReplacePointer(addr, value)
}

func (h *host) RedirectCall(addr int, target uint32) (uint32, error) {
	return h.patcher.RedirectCall(addr, target)
}

func (h *host) ReplaceExternalReference(addr int, value uint32) (uint32, error) {
	return h.patcher.ReplaceExternalReference(addr, value)
}

func (h *host) ReplaceBytes(addr int, buf []byte) error {
	return h.patcher.ReplaceBytes(addr, buf)
}

func (h *host) ApplyPlan(plan *patch.Plan, symbols patch.SymbolTable) (*patch.Result, error) {
	return h.patcher.ApplyPlan(plan, patch.ApplyOptions{
		Variant: h.variant,
		Symbols: symbols,
	})
}

// Lookup resolves the coordinator's own exports by name.
func (h *host) Lookup(symbol string) (interface{}, error) {
	switch symbol {
	case "ReplacePointer":
		return h.ReplacePointer, nil
	case "RedirectCall":
		return h.RedirectCall, nil
	case "ReplaceExternalReference":
		return h.ReplaceExternalReference, nil
	case "ReplaceBytes":
		return h.ReplaceBytes, nil
	case "ApplyPlan":
		return h.ApplyPlan, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrorSymbolNotFound, symbol)
}
