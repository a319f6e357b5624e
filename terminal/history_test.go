package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryWraps(t *testing.T) {
	h := newHistory(8)
	h.Write([]byte("abc"))
	assert.Equal(t, "abc", string(h.Bytes()))

	h.Write([]byte("defgh"))
	assert.Equal(t, "abcdefgh", string(h.Bytes()))

	h.Write([]byte("ij"))
	assert.Equal(t, "cdefghij", string(h.Bytes()))
	assert.Equal(t, 8, h.Len())

	h.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", string(h.Bytes()))
}

func TestHistoryStartsOnRuneBoundary(t *testing.T) {
	h := newHistory(4)
	h.Write([]byte("a€")) // € is three bytes
	h.Write([]byte("b"))
	assert.Equal(t, "€b", string(h.Bytes()))

	h.Write([]byte("cd"))
	assert.Equal(t, "bcd", string(h.Bytes()), "partial rune at the start is dropped")
}

func TestSplitUTF8(t *testing.T) {
	euro := []byte("€")
	tests := []struct {
		in       []byte
		complete string
		rest     []byte
	}{
		{[]byte("hello"), "hello", nil},
		{append([]byte("x"), euro[:2]...), "x", euro[:2]},
		{append([]byte("x"), euro...), "x€", nil},
		{euro[:1], "", euro[:1]},
	}
	for _, tt := range tests {
		complete, rest := splitUTF8(tt.in)
		assert.Equal(t, tt.complete, string(complete))
		assert.Equal(t, tt.rest, rest)
	}
}
