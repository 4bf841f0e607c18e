package station

import (
	"sync"
	"time"
)

// HistoryKind 历史条目类型
type HistoryKind string

const (
	HistorySession HistoryKind = "session"
	HistoryError   HistoryKind = "error"
)

// HistoryEntry 单条历史记录
type HistoryEntry struct {
	Kind HistoryKind `json:"kind"`
	At   time.Time   `json:"at"`
	Data any         `json:"data"`
}

// HistoryFilter 查询条件；零值字段不参与过滤
type HistoryFilter struct {
	Kind  HistoryKind
	Since time.Time
	Until time.Time
	// Limit 返回条数上限，0 表示不限
	Limit int
}

// History 有界历史记录：插入有序，容量按条目类型独立计算，
// 某一类溢出时淘汰该类最旧条目。
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	counts  map[HistoryKind]int
	cap     int
}

// NewHistory 创建历史记录，capacity 为每类条目的容量
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{cap: capacity, counts: make(map[HistoryKind]int)}
}

// Append 追加一条记录，必要时淘汰同类最旧的
func (h *History) Append(kind HistoryKind, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{Kind: kind, At: time.Now(), Data: data})
	h.counts[kind]++
	if h.counts[kind] <= h.cap {
		return
	}
	for i, e := range h.entries {
		if e.Kind == kind {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			h.counts[kind]--
			return
		}
	}
}

// Query 按条件查询，返回插入序的副本
func (h *History) Query(f HistoryFilter) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if !f.Since.IsZero() && e.At.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.At.After(f.Until) {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// CountSince 统计指定时间之后某类条目数量，健康评分使用
func (h *History) CountSince(kind HistoryKind, since time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if e.Kind == kind && !e.At.Before(since) {
			n++
		}
	}
	return n
}

// Len 当前条目数
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
