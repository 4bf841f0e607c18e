// Package events 提供引擎内部的类型化发布/订阅总线。
// 站点 → 管理器 → 控制面/UI 的通知都走这里；对多个订阅者的投递顺序不作保证。
package events

import (
	"sync"
	"time"
)

// Type 事件类型
type Type string

const (
	StationCreated  Type = "station:created"
	StationStarted  Type = "station:started"
	StationStopped  Type = "station:stopped"
	StationError    Type = "station:error"
	StationUpdated  Type = "station:updated"
	Reconnecting    Type = "station:reconnecting"
	ChargingStarted Type = "charging:started"
	ChargingStopped Type = "charging:stopped"
	MeterValues     Type = "meter:values"
	HealthUpdate    Type = "stationHealthUpdate"
	HealthAlert     Type = "stationHealthAlert"
)

// Event 总线事件，按 stationId 归属
type Event struct {
	Type      Type      `json:"type"`
	StationID string    `json:"stationId"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

// Bus 进程内事件总线。Publish 永不阻塞：订阅者缓冲满时丢弃该订阅者的这条事件。
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus 创建总线
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 注册订阅者，返回事件通道与取消函数。
// buffer<=0 时使用默认缓冲 64。
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish 发布事件。At 为零值时自动填充当前时间。
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// 慢消费者：丢弃，不阻塞发布方
		}
	}
}

// SubscriberCount 当前订阅者数
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
