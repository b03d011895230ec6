package market

import (
	"fmt"
	"sync"
)

// DefaultHistorySize 默认保留的快照数量。
const DefaultHistorySize = 500

// History 固定容量的快照环形缓冲区，时间戳单调不减。
type History struct {
	mu    sync.RWMutex
	buf   []Snapshot
	start int
	count int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Snapshot, size)}
}

// Push 追加快照；时间戳早于最后一条时返回 ErrOutOfOrder。
func (h *History) Push(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count > 0 {
		last := h.buf[(h.start+h.count-1)%len(h.buf)]
		if s.Timestamp < last.Timestamp {
			return fmt.Errorf("%w: %d < %d", ErrOutOfOrder, s.Timestamp, last.Timestamp)
		}
	}
	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = s
		h.count++
		return nil
	}
	// 满了覆盖最旧
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
	return nil
}

// Latest 返回最新快照。
func (h *History) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return Snapshot{}, false
	}
	return h.buf[(h.start+h.count-1)%len(h.buf)], true
}

// Snapshots 按时间顺序返回副本。
func (h *History) Snapshots() []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Snapshot, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *History) Cap() int {
	return len(h.buf)
}
