package terminal

import "unicode/utf8"

// DefaultHistorySize is the scroll-back kept per session.
const DefaultHistorySize = 256 << 10

// history is a fixed-capacity circular byte buffer holding the most recent
// terminal output. Escape sequences are stored as-is. Not safe for
// concurrent use; the owning session's lock guards it.
type history struct {
	buf   []byte
	start int
	size  int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{buf: make([]byte, capacity)}
}

func (h *history) Write(p []byte) {
	c := len(h.buf)
	if len(p) >= c {
		copy(h.buf, p[len(p)-c:])
		h.start, h.size = 0, c
		return
	}

	end := (h.start + h.size) % c
	n := copy(h.buf[end:], p)
	copy(h.buf, p[n:])

	h.size += len(p)
	if h.size > c {
		h.start = (h.start + h.size - c) % c
		h.size = c
	}
}

// Bytes returns the retained output, oldest first, starting on a rune
// boundary.
func (h *history) Bytes() []byte {
	out := make([]byte, h.size)
	end := h.start + h.size
	if end > len(h.buf) {
		end = len(h.buf)
	}
	n := copy(out, h.buf[h.start:end])
	copy(out[n:], h.buf[:h.size-n])

	for len(out) > 0 && !utf8.RuneStart(out[0]) {
		out = out[1:]
	}
	return out
}

func (h *history) Len() int { return h.size }

// splitUTF8 splits p before a trailing incomplete rune so output chunks never
// cut a character in half.
func splitUTF8(p []byte) (complete, rest []byte) {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if !utf8.FullRune(p[i:]) {
				return p[:i], p[i:]
			}
			break
		}
	}
	return p, nil
}
