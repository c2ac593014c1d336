package executor

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// TruncationMarker is appended to a stream that was cut to the output cap.
const TruncationMarker = "\n[OUTPUT TRUNCATED]"

// boundedBuffer is an io.Writer that keeps the first limit bytes written to
// it and silently discards the rest, so the child never blocks on a full pipe.
type boundedBuffer struct {
	mu       sync.Mutex
	buf      []byte
	limit    int
	total    int64
	overflow bool
}

// newBoundedBuffer sizes the buffer so that a rune straddling the cap is
// always kept whole.
func newBoundedBuffer(maxOutputBytes int) *boundedBuffer {
	return &boundedBuffer{limit: maxOutputBytes + utf8.UTFMax}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += int64(n)

	room := b.limit - len(b.buf)
	if n > room {
		b.overflow = true
		p = p[:max(room, 0)]
	}
	b.buf = append(b.buf, p...)

	return n, nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}

func (b *boundedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}

// TotalBytes returns every byte the child wrote, including discarded ones.
func (b *boundedBuffer) TotalBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// decodeText converts raw output to text, replacing each byte that is not
// part of a valid UTF-8 sequence with U+FFFD.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(utf8.RuneError)
			raw = raw[1:]
			continue
		}
		b.Write(raw[:size])
		raw = raw[size:]
	}
	return b.String()
}

// capText cuts text longer than limit bytes down to limit, backing off to a
// rune boundary, and appends TruncationMarker.
func capText(text string, limit int, overflowed bool) (string, bool) {
	if len(text) <= limit {
		if overflowed {
			return text + TruncationMarker, true
		}
		return text, false
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker, true
}

// finish decodes and caps one captured stream.
func (b *boundedBuffer) finish(limit int) (string, bool) {
	return capText(decodeText(b.Bytes()), limit, b.Overflowed())
}
