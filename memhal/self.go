//go:build linux || windows

package memhal

import (
	"fmt"
	"unsafe"
)

// selfRegion is the address space of the running process. Addresses are
// absolute virtual addresses.
type selfRegion struct {
	pageSize int
}

// Self returns the current process as a ProtectedRegion.
func Self() (ProtectedRegion, error) {
	return &selfRegion{
		pageSize: selfPageSize(),
	}, nil
}

func (h *selfRegion) GetLength() int {
	return int(^uint(0) >> 1)
}

func (h *selfRegion) GetParent() (MemoryRegion, int) {
	return nil, 0
}

func (h *selfRegion) GetName() MemoryRegionNameType {
	return "SELF"
}

func (h *selfRegion) GetAlignment() int {
	return 1
}

func (h *selfRegion) Access(write bool, addr int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	spans, err := h.QueryProtection(addr, len(buf))
	if err != nil {
		return 0, err
	}

	need, denied := ProtRead, ErrorReadNotAllowed
	if write {
		need, denied = ProtWrite, ErrorWriteNotAllowed
	}
	for _, m := range spans {
		if m.Prot&need == 0 {
			return 0, fmt.Errorf("%w: %x (%s)", denied, m.Addr, m.Prot)
		}
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(buf))
	if write {
		copy(mem, buf)
	} else {
		copy(buf, mem)
	}
	return len(buf), nil
}

func (h *selfRegion) Locate(buf []byte) (int, bool) {
	p := bufferAddress(buf)
	return int(p), p != 0
}

func (h *selfRegion) pageRange(addr int, length int) (uintptr, uintptr) {
	start := uintptr(addr) &^ uintptr(h.pageSize-1)
	end := (uintptr(addr+length) + uintptr(h.pageSize-1)) &^ uintptr(h.pageSize-1)
	return start, end
}
