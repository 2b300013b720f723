//go:build linux

package memhal

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func selfPageSize() int {
	return unix.Getpagesize()
}

func (h *selfRegion) QueryProtection(addr int, length int) ([]ProtectionSpan, error) {
	if length <= 0 || addr <= 0 {
		return nil, ErrorInvalidRange
	}

	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mappings, err := parseProcMaps(f)
	if err != nil {
		return nil, err
	}

	start, end := h.pageRange(addr, length)
	return clipSpans(mappings, int(start), int(end))
}

func (h *selfRegion) SetProtection(addr int, length int, prot Protection) error {
	if length <= 0 || addr <= 0 {
		return ErrorInvalidRange
	}

	var flags int
	if prot&ProtRead != 0 {
		flags |= unix.PROT_READ
	}
	if prot&ProtWrite != 0 {
		flags |= unix.PROT_WRITE
	}
	if prot&ProtExec != 0 {
		flags |= unix.PROT_EXEC
	}

	start, end := h.pageRange(addr, length)
	pages := unsafe.Slice((*byte)(unsafe.Pointer(start)), int(end-start))
	if err := unix.Mprotect(pages, flags); err != nil {
		return fmt.Errorf("mprotect %x+%d: %w", start, end-start, err)
	}
	return nil
}
