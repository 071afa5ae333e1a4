package game

import "sync"

// History is a fixed-size ring of round snapshots.
type History struct {
	mu    sync.Mutex
	buf   []State
	next  int
	count int
}

// NewHistory keeps at most size snapshots. size <= 0 disables it.
func NewHistory(size int) *History {
	if size < 0 {
		size = 0
	}
	return &History{buf: make([]State, size)}
}

// Push appends st, evicting the oldest entry when full.
func (h *History) Push(st State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == 0 {
		return
	}
	h.buf[h.next] = st
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// List returns the kept snapshots, oldest first.
func (h *History) List() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]State, 0, h.count)
	start := (h.next - h.count + len(h.buf)) % max(len(h.buf), 1)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}
