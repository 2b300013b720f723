package memhal

import (
	"fmt"
	"sort"
	"strconv"
)

const DefaultPageSize = 0x1000

/* 32 bit address space, capped to int on 32 bit hosts */
const spaceLength = (1<<32 - 1) & (1<<(strconv.IntSize-1) - 1)

type segment struct {
	name MemoryRegionNameType
	base int
	data []byte
	prot []Protection
}

func (s *segment) end() int {
	return s.base + len(s.data)
}

// Simulated is a sparse 32 bit address space assembled from mapped segments,
// with page granular protection. It stands in for a loaded image.
type Simulated struct {
	pageSize int
	segments []*segment
}

func NewSimulated(pageSize int) *Simulated {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Simulated{
		pageSize: pageSize,
	}
}

func (s *Simulated) PageSize() int {
	return s.pageSize
}

// Map copies data into the space at base. The segment is rounded up to whole pages.
func (s *Simulated) Map(name MemoryRegionNameType, base int, data []byte, prot Protection) error {
	if base < 0 || base%s.pageSize != 0 || len(data) == 0 {
		return ErrorInvalidRange
	}

	pages := (len(data) + s.pageSize - 1) / s.pageSize
	seg := &segment{
		name: name,
		base: base,
		data: make([]byte, pages*s.pageSize),
		prot: make([]Protection, pages),
	}
	if seg.end() > s.GetLength() {
		return ErrorInvalidRange
	}
	copy(seg.data, data)
	for i := range seg.prot {
		seg.prot[i] = prot
	}

	for _, m := range s.segments {
		if RangesOverlap(m.base, len(m.data), seg.base, len(seg.data)) {
			return fmt.Errorf("%w: %s and %s", ErrorSegmentOverlap, m.name, name)
		}
	}

	s.segments = append(s.segments, seg)
	sort.Slice(s.segments, func(i, j int) bool {
		return s.segments[i].base < s.segments[j].base
	})
	return nil
}

func (s *Simulated) find(addr int) *segment {
	i := sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].end() > addr
	})
	if i < len(s.segments) && s.segments[i].base <= addr {
		return s.segments[i]
	}
	return nil
}

func (s *Simulated) GetLength() int {
	return spaceLength
}

func (s *Simulated) GetParent() (MemoryRegion, int) {
	return nil, 0
}

func (s *Simulated) GetName() MemoryRegionNameType {
	return "SPACE"
}

func (s *Simulated) GetAlignment() int {
	return 1
}

func (s *Simulated) Access(write bool, addr int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	seg := s.find(addr)
	if seg == nil {
		return 0, fmt.Errorf("%w: %08x", ErrorAddressInvalid, addr)
	}

	off := addr - seg.base
	if len(buf) > len(seg.data)-off {
		buf = buf[:len(seg.data)-off]
	}

	need, denied := ProtRead, ErrorReadNotAllowed
	if write {
		need, denied = ProtWrite, ErrorWriteNotAllowed
	}
	for p := off / s.pageSize; p <= (off+len(buf)-1)/s.pageSize; p++ {
		if seg.prot[p]&need == 0 {
			return 0, fmt.Errorf("%w: %08x (%s)", denied, seg.base+p*s.pageSize, seg.prot[p])
		}
	}

	if write {
		copy(seg.data[off:], buf)
	} else {
		copy(buf, seg.data[off:])
	}
	return len(buf), nil
}

// walkPages calls fn for every page overlapping [addr, addr+length). The whole
// range has to be mapped.
func (s *Simulated) walkPages(addr int, length int, fn func(seg *segment, page int)) error {
	if length <= 0 || addr < 0 {
		return ErrorInvalidRange
	}

	end := addr + length
	for cur := addr; cur < end; {
		seg := s.find(cur)
		if seg == nil {
			return fmt.Errorf("%w: %08x", ErrorAddressInvalid, cur)
		}
		cur = seg.end()
	}

	for cur := addr - addr%s.pageSize; cur < end; cur += s.pageSize {
		seg := s.find(cur)
		fn(seg, (cur-seg.base)/s.pageSize)
	}
	return nil
}

func (s *Simulated) QueryProtection(addr int, length int) ([]ProtectionSpan, error) {
	var spans []ProtectionSpan
	err := s.walkPages(addr, length, func(seg *segment, page int) {
		pageAddr := seg.base + page*s.pageSize
		prot := seg.prot[page]
		if n := len(spans); n > 0 {
			last := &spans[n-1]
			if last.Prot == prot && last.Addr+last.Length == pageAddr {
				last.Length += s.pageSize
				return
			}
		}
		spans = append(spans, ProtectionSpan{Addr: pageAddr, Length: s.pageSize, Prot: prot})
	})
	return spans, err
}

func (s *Simulated) SetProtection(addr int, length int, prot Protection) error {
	return s.walkPages(addr, length, func(seg *segment, page int) {
		seg.prot[page] = prot
	})
}

// Slice returns a view aliasing the mapped bytes at [addr, addr+length).
func (s *Simulated) Slice(addr int, length int) ([]byte, error) {
	seg := s.find(addr)
	if seg == nil || length < 0 || addr+length > seg.end() {
		return nil, fmt.Errorf("%w: %08x+%d", ErrorAddressInvalid, addr, length)
	}
	off := addr - seg.base
	return seg.data[off : off+length : off+length], nil
}

func (s *Simulated) Locate(buf []byte) (int, bool) {
	p := bufferAddress(buf)
	if p == 0 {
		return 0, false
	}
	for _, m := range s.segments {
		start := bufferAddress(m.data)
		if p >= start && p < start+uintptr(len(m.data)) {
			return m.base + int(p-start), true
		}
	}
	return 0, false
}

// Segments returns one region per mapping, in address order.
func (s *Simulated) Segments() []MemoryRegion {
	var list []MemoryRegion
	for _, m := range s.segments {
		list = append(list, RegionWrapPartial(m.name, s, m.base, len(m.data)))
	}
	return list
}

func (s *Simulated) Segment(name MemoryRegionNameType) MemoryRegion {
	for _, m := range s.segments {
		if m.name == name {
			return RegionWrapPartial(m.name, s, m.base, len(m.data))
		}
	}
	return nil
}
