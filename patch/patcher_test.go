package patch

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BertoldVdb/patchcoord/ledger"
	"github.com/BertoldVdb/patchcoord/memhal"
)

func newImage(t *testing.T) *memhal.Simulated {
	t.Helper()

	code := make([]byte, 0x300)
	for i := range code {
		code[i] = byte(i)
	}

	s := memhal.NewSimulated(0x100)
	require.NoError(t, s.Map("CODE", 0x1000, code, memhal.ProtRX))
	require.NoError(t, s.Map("IDATA", 0x2000, make([]byte, 0x100), memhal.ProtRead))
	return s
}

func newPatcher(t *testing.T, owner string) (*Patcher, *memhal.Simulated) {
	t.Helper()
	s := newImage(t)
	return New(ledger.New(), s, Config{Owner: owner}), s
}

func read(t *testing.T, s memhal.MemoryRegion, addr int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := memhal.RegionWrapCompleteIO(s).Access(false, addr, buf)
	require.NoError(t, err)
	return buf
}

func protAt(t *testing.T, s *memhal.Simulated, addr int) memhal.Protection {
	t.Helper()
	spans, err := s.QueryProtection(addr, 1)
	require.NoError(t, err)
	return spans[0].Prot
}

func TestReplacePointer(t *testing.T) {
	p, s := newPatcher(t, "test")

	old, err := p.ReplacePointer(0x1004, 0xdeadbeef)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x07060504), old)

	v, err := memhal.ReadPointer(s, 0x1004)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)
	assert.Equal(t, memhal.ProtRX, protAt(t, s, 0x1004))
}

func TestReplacePointerCannotBeUndone(t *testing.T) {
	p, s := newPatcher(t, "test")
	orig := read(t, s, 0x1040, 4)

	old, err := p.ReplacePointer(0x1040, 0x12345678)
	require.NoError(t, err)

	_, err = p.ReplacePointer(0x1040, old)
	assert.ErrorIs(t, err, ErrorConflict)

	assert.NotEqual(t, orig, read(t, s, 0x1040, 4))
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, read(t, s, 0x1040, 4))
}

func TestPartialOverlapIsRejected(t *testing.T) {
	p, s := newPatcher(t, "first")

	_, err := p.ReplacePointer(0x1000, 0x11111111)
	require.NoError(t, err)

	before := read(t, s, 0x1000, 8)
	err = p.For("second").ReplaceBytes(0x1002, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrorConflict)
	assert.Contains(t, err.Error(), `"first"`)
	assert.Equal(t, before, read(t, s, 0x1000, 8))
	assert.False(t, p.Ledger().IsClaimed(0x1004, 2))
}

func TestRedirectCallFromTwoModules(t *testing.T) {
	p, s := newPatcher(t, "")

	_, err := p.For("a").RedirectCall(0x1000, 0x2000)
	require.NoError(t, err)
	_, err = p.For("b").RedirectCall(0x1010, 0x3000)
	require.NoError(t, err)

	v, err := memhal.ReadPointer(s, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, int32(0x2000-(0x1000+4)), int32(v))

	v, err = memhal.ReadPointer(s, 0x1010)
	require.NoError(t, err)
	assert.Equal(t, int32(0x3000-(0x1010+4)), int32(v))

	claims := p.Ledger().Claims()
	require.Len(t, claims, 2)
	assert.Equal(t, "a", claims[0].Owner)
	assert.Equal(t, "b", claims[1].Owner)
}

func TestRedirectCallBackwards(t *testing.T) {
	p, _ := newPatcher(t, "test")

	assert.Equal(t, uint32(0xFFFFFFFB), Displacement(0x1100, 0x1100-1))

	old, err := p.RedirectCall(0x1100, 0x1000)
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint32([]byte{0, 1, 2, 3}), old)
}

func TestReplaceExternalReference(t *testing.T) {
	p, s := newPatcher(t, "test")
	require.NoError(t, memhal.WithWritable(s, 0x2010, 4, func() error {
		return memhal.WritePointer(s, 0x2010, 0x77001122)
	}))

	old, err := p.ReplaceExternalReference(0x2010, 0x00401000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x77001122), old)
	assert.Equal(t, memhal.ProtRead, protAt(t, s, 0x2010))

	_, err = p.ReplacePointer(0x2012, 0)
	assert.ErrorIs(t, err, ErrorConflict)
}

func TestReplaceBytes(t *testing.T) {
	p, s := newPatcher(t, "test")

	require.NoError(t, p.ReplaceBytes(0x10FE, []byte{0x90, 0x90, 0x90, 0x90}))
	assert.Equal(t, []byte{0xFD, 0x90, 0x90, 0x90, 0x90, 0x02}, read(t, s, 0x10FD, 6))
	assert.Equal(t, memhal.ProtRX, protAt(t, s, 0x10FF))
	assert.Equal(t, memhal.ProtRX, protAt(t, s, 0x1100))
}

func TestReplaceBytesRejectsOverlappingSource(t *testing.T) {
	cases := []struct {
		name string
		src  int
	}{
		{"source inside destination", 0x1104},
		{"destination inside source", 0x10FC},
		{"same start", 0x1100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, s := newPatcher(t, "test")

			buf, err := s.Slice(tc.src, 8)
			require.NoError(t, err)
			before := read(t, s, 0x10F0, 0x20)

			err = p.ReplaceBytes(0x1100, buf)
			assert.ErrorIs(t, err, ErrorOverlap)
			assert.Equal(t, before, read(t, s, 0x10F0, 0x20))
			assert.Equal(t, 0, p.Ledger().Len())
		})
	}
}

func TestReplaceBytesFromImageWithoutOverlap(t *testing.T) {
	p, s := newPatcher(t, "test")

	buf, err := s.Slice(0x1108, 8)
	require.NoError(t, err)
	require.NoError(t, p.ReplaceBytes(0x1100, buf))
	assert.Equal(t, read(t, s, 0x1108, 8), read(t, s, 0x1100, 8))
}

func TestInvalidRanges(t *testing.T) {
	p, _ := newPatcher(t, "test")

	assert.ErrorIs(t, p.ReplaceBytes(0x1000, nil), ErrorInvalidRange)
	_, err := p.ReplacePointer(-4, 0)
	assert.ErrorIs(t, err, ErrorInvalidRange)
	assert.Equal(t, 0, p.Ledger().Len())
}

type flakyRegion struct {
	*memhal.Simulated
	failPage int
}

func (f *flakyRegion) SetProtection(addr int, length int, prot memhal.Protection) error {
	if addr <= f.failPage && f.failPage < addr+length && prot&memhal.ProtWrite != 0 {
		return errors.New("EPERM")
	}
	return f.Simulated.SetProtection(addr, length, prot)
}

func TestProtectionFailureWritesNothing(t *testing.T) {
	s := newImage(t)
	p := New(ledger.New(), &flakyRegion{Simulated: s, failPage: 0x1200}, Config{Owner: "test"})
	before := read(t, s, 0x1200, 4)

	_, err := p.ReplacePointer(0x1200, 0xffffffff)
	assert.ErrorIs(t, err, memhal.ErrorProtectionChange)
	assert.Equal(t, before, read(t, s, 0x1200, 4))
	assert.Equal(t, memhal.ProtRX, protAt(t, s, 0x1200))

	/* The claim is kept */
	assert.True(t, p.Ledger().IsClaimed(0x1200, 4))
}

func TestUnmappedTarget(t *testing.T) {
	p, _ := newPatcher(t, "test")

	_, err := p.ReplacePointer(0x5000, 1)
	assert.ErrorIs(t, err, memhal.ErrorProtectionChange)
}
