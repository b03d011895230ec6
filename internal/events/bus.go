// Package events 引擎内部的同步事件分发。
package events

import (
	"fmt"
	"sync"
	"time"
)

// Type 事件类型
type Type string

const (
	QuoteUpdated   Type = "quote_updated"
	OrderStarted   Type = "order_started"
	PartExecuted   Type = "part_executed"
	PartFailed     Type = "part_failed"
	OrderCompleted Type = "order_completed"
	OrderFailed    Type = "order_failed"
	OrderCancelled Type = "order_cancelled"
	OrderRejected  Type = "order_rejected"
	RiskAlert      Type = "risk_alert"
	EmergencyStop  Type = "emergency_stop"
)

// Event 引擎对外发出的可观察事件。Data 为对应的值类型负载。
type Event struct {
	Type    Type
	Time    time.Time
	OrderID string
	Message string
	Data    any
}

// Handler 事件处理函数；在发布者的 goroutine 中同步执行。
type Handler func(Event)

type subscription struct {
	id      int
	types   map[Type]bool
	handler Handler
}

// Bus 观察者列表。Publish 按订阅顺序同步调用处理函数。
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
	// OnPanic 处理函数 panic 时回调，默认忽略
	OnPanic func(Event, any)
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 订阅指定类型；types 为空表示订阅全部。返回取消订阅函数。
func (b *Bus) Subscribe(h Handler, types ...Type) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscription{id: b.nextID, handler: h}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	b.subs = append(b.subs, sub)
	id := sub.id
	return func() { b.remove(id) }
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish 同步分发。单个处理函数 panic 不影响其他订阅者。
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		b.dispatch(s.handler, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil && b.OnPanic != nil {
			b.OnPanic(e, r)
		}
	}()
	h(e)
}

func (e Event) String() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s[%s] %s", e.Type, e.OrderID, e.Message)
	}
	return fmt.Sprintf("%s %s", e.Type, e.Message)
}
