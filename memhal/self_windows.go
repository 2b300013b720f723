//go:build windows

package memhal

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func selfPageSize() int {
	return windows.Getpagesize()
}

var windowsProtections = []struct {
	flag uint32
	prot Protection
}{
	{windows.PAGE_NOACCESS, ProtNone},
	{windows.PAGE_READONLY, ProtRead},
	{windows.PAGE_READWRITE, ProtRW},
	{windows.PAGE_WRITECOPY, ProtRW},
	{windows.PAGE_EXECUTE, ProtExec},
	{windows.PAGE_EXECUTE_READ, ProtRX},
	{windows.PAGE_EXECUTE_READWRITE, ProtRWX},
	{windows.PAGE_EXECUTE_WRITECOPY, ProtRWX},
}

func protectionFromWindows(flag uint32) Protection {
	/* Modifiers such as PAGE_GUARD live above the low byte */
	for _, m := range windowsProtections {
		if flag&0xFF == m.flag {
			return m.prot
		}
	}
	return ProtNone
}

func protectionToWindows(prot Protection) uint32 {
	switch prot {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRW, ProtWrite:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtRX:
		return windows.PAGE_EXECUTE_READ
	case ProtRWX, ProtWrite | ProtExec:
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}

func (h *selfRegion) QueryProtection(addr int, length int) ([]ProtectionSpan, error) {
	if length <= 0 || addr <= 0 {
		return nil, ErrorInvalidRange
	}

	start, end := h.pageRange(addr, length)

	var mappings []ProtectionSpan
	for cur := start; cur < end; {
		var info windows.MemoryBasicInformation
		if err := windows.VirtualQuery(cur, &info, unsafe.Sizeof(info)); err != nil {
			return nil, fmt.Errorf("VirtualQuery %x: %w", cur, err)
		}
		if info.State != windows.MEM_COMMIT {
			return nil, fmt.Errorf("%w: %x", ErrorAddressInvalid, cur)
		}

		mappings = append(mappings, ProtectionSpan{
			Addr:   int(info.BaseAddress),
			Length: int(info.RegionSize),
			Prot:   protectionFromWindows(info.Protect),
		})
		cur = info.BaseAddress + info.RegionSize
	}

	return clipSpans(mappings, int(start), int(end))
}

func (h *selfRegion) SetProtection(addr int, length int, prot Protection) error {
	if length <= 0 || addr <= 0 {
		return ErrorInvalidRange
	}

	start, end := h.pageRange(addr, length)

	var old uint32
	if err := windows.VirtualProtect(start, end-start, protectionToWindows(prot), &old); err != nil {
		return fmt.Errorf("VirtualProtect %x+%d: %w", start, end-start, err)
	}
	return nil
}
