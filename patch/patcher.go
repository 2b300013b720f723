// Package patch implements the primitives used to modify a loaded image. Every
// primitive claims its bytes in the ledger before touching memory and only
// writes when the claim succeeded.
package patch

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
)

type LogFunc func(level int, format string, param ...interface{})

type Config struct {
	Owner   string
	LogFunc LogFunc
}

type Patcher struct {
	ledger *ledger.Ledger
	mem    memhal.ProtectedRegion
	config Config
}

func New(l *ledger.Ledger, mem memhal.ProtectedRegion, config Config) *Patcher {
	return &Patcher{
		ledger: l,
		mem:    mem,
		config: config,
	}
}

// For returns a patcher sharing ledger and memory whose claims are recorded for owner.
func (p *Patcher) For(owner string) *Patcher {
	config := p.config
	config.Owner = owner
	return New(p.ledger, p.mem, config)
}

func (p *Patcher) Owner() string {
	return p.config.Owner
}

func (p *Patcher) Ledger() *ledger.Ledger {
	return p.ledger
}

func (p *Patcher) Memory() memhal.ProtectedRegion {
	return p.mem
}

func (p *Patcher) log(level int, format string, param ...interface{}) {
	if p.config.LogFunc != nil {
		p.config.LogFunc(level, format, param...)
	}
}

func (p *Patcher) checkRange(addr int, length int) error {
	if addr < 0 || length <= 0 || addr+length < addr || addr+length > p.mem.GetLength() {
		return fmt.Errorf("%w: %08x+%d", ErrorInvalidRange, addr, length)
	}
	return nil
}

func (p *Patcher) claim(addr int, length int) error {
	if p.ledger.TryClaimFor(p.config.Owner, addr, length) {
		return nil
	}

	if holder, ok := p.ledger.FirstConflict(addr, length); ok {
		p.log(1, "%s: %08x+%d conflicts with %q at %08x+%d", p.config.Owner, addr, length, holder.Owner, holder.Start, holder.Length)
		return fmt.Errorf("%w: %08x+%d held by %q at %08x+%d", ErrorConflict, addr, length, holder.Owner, holder.Start, holder.Length)
	}
	return fmt.Errorf("%w: %08x+%d", ErrorConflict, addr, length)
}

// write replaces [addr, addr+len(data)) and returns the previous contents.
// The range must already be claimed.
func (p *Patcher) write(addr int, data []byte) ([]byte, error) {
	old := make([]byte, len(data))
	mem := memhal.RegionWrapCompleteIO(p.mem)

	err := memhal.WithWritable(p.mem, addr, len(data), func() error {
		if _, err := mem.Access(false, addr, old); err != nil {
			return err
		}
		_, err := mem.Access(true, addr, data)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.log(2, "%s: wrote %08x: %s -> %s", p.config.Owner, addr, hex.EncodeToString(old), hex.EncodeToString(data))
	return old, nil
}

// ReplacePointer writes value to the 4 bytes at addr and returns what was there.
func (p *Patcher) ReplacePointer(addr int, value uint32) (uint32, error) {
	if err := p.checkRange(addr, memhal.PointerSize); err != nil {
		return 0, err
	}
	if err := p.claim(addr, memhal.PointerSize); err != nil {
		return 0, err
	}

	var buf [memhal.PointerSize]byte
	binary.LittleEndian.PutUint32(buf[:], value)

	old, err := p.write(addr, buf[:])
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(old), nil
}

// Displacement is the rel32 operand at addr that reaches target.
func Displacement(addr int, target uint32) uint32 {
	return uint32(int64(target) - int64(addr+memhal.PointerSize))
}

// RedirectCall points the rel32 operand of a near call or jmp at addr to target.
// It returns the previous displacement.
func (p *Patcher) RedirectCall(addr int, target uint32) (uint32, error) {
	return p.ReplacePointer(addr, Displacement(addr, target))
}

// ReplaceExternalReference replaces an import slot. It behaves exactly like ReplacePointer.
func (p *Patcher) ReplaceExternalReference(addr int, value uint32) (uint32, error) {
	return p.ReplacePointer(addr, value)
}

// ReplaceBytes copies buf to addr. buf may not overlap the destination.
func (p *Patcher) ReplaceBytes(addr int, buf []byte) error {
	if err := p.checkRange(addr, len(buf)); err != nil {
		return err
	}

	if loc, ok := p.mem.(memhal.BufferLocator); ok {
		if src, ok := loc.Locate(buf); ok && memhal.RangesOverlap(src, len(buf), addr, len(buf)) {
			return fmt.Errorf("%w: source %08x, destination %08x+%d", ErrorOverlap, src, addr, len(buf))
		}
	}

	if err := p.claim(addr, len(buf)); err != nil {
		return err
	}

	_, err := p.write(addr, buf)
	return err
}
