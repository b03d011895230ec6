package market

import "sync"

// Publisher 一个轻量事件分发器。订阅通道容量为 1，只保留最新快照。
type Publisher struct {
	mu   sync.RWMutex
	subs []chan Snapshot
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make([]chan Snapshot, 0)}
}

func (p *Publisher) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Publish 非阻塞发送；订阅者未取走的旧快照被替换。
func (p *Publisher) Publish(s Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}
