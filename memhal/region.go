package memhal

import (
	"encoding/binary"
	"unsafe"
)

type MemoryRegionNameType string

type MemoryRegion interface {
	GetLength() int
	Access(write bool, addr int, buf []byte) (int, error)
	GetParent() (MemoryRegion, int)
	GetName() MemoryRegionNameType
	GetAlignment() int
}

// ProtectedRegion is a region whose page permissions can be queried and changed.
// Addresses are relative to the region, like Access.
type ProtectedRegion interface {
	MemoryRegion
	QueryProtection(addr int, length int) ([]ProtectionSpan, error)
	SetProtection(addr int, length int, prot Protection) error
}

// BufferLocator is implemented by regions that can tell whether a Go buffer
// lives inside their own address space.
type BufferLocator interface {
	Locate(buf []byte) (int, bool)
}

type Protection int

const (
	ProtNone  Protection = 0
	ProtRead  Protection = 1 << (iota - 1)
	ProtWrite
	ProtExec

	ProtRW  = ProtRead | ProtWrite
	ProtRX  = ProtRead | ProtExec
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

func ParseProtection(s string) (Protection, error) {
	var p Protection
	for _, c := range s {
		switch c {
		case 'r', 'R':
			p |= ProtRead
		case 'w', 'W':
			p |= ProtWrite
		case 'x', 'X':
			p |= ProtExec
		case '-':
		default:
			return 0, ErrorInvalidRange
		}
	}
	return p, nil
}

type ProtectionSpan struct {
	Addr   int
	Length int
	Prot   Protection
}

type regionCompleteIO struct {
	MemoryRegion
}

func RegionWrapCompleteIO(parent MemoryRegion) MemoryRegion {
	return regionCompleteIO{
		MemoryRegion: parent,
	}
}

func (m regionCompleteIO) Access(write bool, addr int, buf []byte) (int, error) {
	align := m.GetAlignment()
	if addr&(align-1) != 0 {
		return 0, ErrorInvalidRange
	} else if write && len(buf)%align != 0 {
		return 0, ErrorInvalidRange
	}

	total := 0
	for len(buf) > 0 {
		n, err := m.MemoryRegion.Access(write, addr+total, buf)
		total += n
		buf = buf[n:]

		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, ErrorAddressInvalid
		}
	}

	return total, nil
}

func WriteByte(m MemoryRegion, addr int, value byte) error {
	_, err := m.Access(true, addr, []byte{value})
	return err
}

func ReadByte(m MemoryRegion, addr int) (byte, error) {
	var buf [1]byte
	_, err := m.Access(false, addr, buf[:])
	return buf[0], err
}

/* Pointers in the patched image are 32 bit little endian */
const PointerSize = 4

func ReadPointer(m MemoryRegion, addr int) (uint32, error) {
	var buf [PointerSize]byte
	if _, err := RegionWrapCompleteIO(m).Access(false, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WritePointer(m MemoryRegion, addr int, value uint32) error {
	var buf [PointerSize]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err := RegionWrapCompleteIO(m).Access(true, addr, buf[:])
	return err
}

type regionPartial struct {
	parent MemoryRegion
	offset int
	length int
	name   MemoryRegionNameType
}

func RegionWrapPartial(name MemoryRegionNameType, parent MemoryRegion, offset int, length int) MemoryRegion {
	return regionPartial{
		parent: parent,
		offset: offset,
		length: length,
		name:   name,
	}
}

func (h regionPartial) GetName() MemoryRegionNameType {
	return h.name
}

func (h regionPartial) GetLength() int {
	return h.length
}

func (h regionPartial) GetParent() (MemoryRegion, int) {
	return h.parent, h.offset
}

func (h regionPartial) GetAlignment() int {
	return h.parent.GetAlignment()
}

func (h regionPartial) Access(write bool, addr int, buf []byte) (int, error) {
	if addr < 0 {
		return 0, ErrorInvalidRange
	}
	if len(buf)+addr > h.length {
		if addr > h.length {
			return 0, nil
		}
		buf = buf[:h.length-addr]
	}

	return h.parent.Access(write, h.offset+addr, buf)
}

func RecursiveGetParentAddress(region MemoryRegion, offset int) (MemoryRegion, int) {
	for {
		var parentOffset int
		prevRegion := region
		region, parentOffset = region.GetParent()

		offset += parentOffset

		if region == nil {
			return prevRegion, offset
		}
	}
}

// RangesOverlap reports whether [a, a+alen) and [b, b+blen) share a byte.
func RangesOverlap(a, alen, b, blen int) bool {
	if alen <= 0 || blen <= 0 {
		return false
	}
	return a < b+blen && b < a+alen
}

func bufferAddress(buf []byte) uintptr {
	if cap(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf[:1])))
}
