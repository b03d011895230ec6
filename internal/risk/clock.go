package risk

import (
	"sync"
	"time"
)

// Clock 抽象时间便于测试。After 用于调度等待。
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock 默认使用系统时间。
var SystemClock Clock = realClock{}

// SimClock 虚拟时钟：After 立即把时间推进 d 并返回，用于测试与回放。
type SimClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set 设置当前时间（允许跨日测试）。
func (c *SimClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance 推进时间。
func (c *SimClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *SimClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d < 0 {
		d = 0
	}
	ch <- c.Advance(d)
	return ch
}
