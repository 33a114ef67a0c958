package tools

import "sync"

const defaultTailBytes = 16 << 10

// TailBuffer keeps the last N bytes written to it.
type TailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func NewTailBuffer(limit int) *TailBuffer {
	if limit <= 0 {
		limit = defaultTailBytes
	}
	return &TailBuffer{limit: limit}
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *TailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
