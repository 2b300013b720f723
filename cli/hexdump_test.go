package main

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestHexdump(t *testing.T) {
	color.NoColor = true

	data := []byte("ABCDEFGHIJKLMNOP\x00\x01")
	out := hexdump(0x401000, data, make([]bool, len(data)))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "00401000  41 42 43"))
	assert.True(t, strings.HasSuffix(lines[0], "|ABCDEFGHIJKLMNOP|"))
	assert.True(t, strings.HasPrefix(lines[1], "00401010  00 01 "))
	assert.Contains(t, lines[1], "|..              |")
}
