//go:build linux

package memhal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSelfPatchesReadOnlyPage(t *testing.T) {
	page, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	require.NoError(t, err)
	defer unix.Munmap(page)

	copy(page, []byte{1, 2, 3, 4})
	require.NoError(t, unix.Mprotect(page, unix.PROT_READ))

	self, err := Self()
	require.NoError(t, err)

	addr, ok := self.(BufferLocator).Locate(page)
	require.True(t, ok)

	v, err := ReadPointer(self, addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04030201), v)

	assert.ErrorIs(t, WritePointer(self, addr, 0), ErrorWriteNotAllowed)

	err = WithWritable(self, addr, 4, func() error {
		return WritePointer(self, addr, 0xcafebabe)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xba, 0xfe, 0xca}, page[:4])

	spans, err := self.QueryProtection(addr, 4)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, ProtRead, spans[0].Prot)
}
