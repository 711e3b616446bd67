package events

import (
	"context"
	"errors"
	"sync"

	"ElizaDID/internal/record"
)

// MemoryPublisher 把事件投递到带缓冲的 channel，测试与进程内订阅使用。
type MemoryPublisher struct {
	mu     sync.Mutex
	agent  string
	ch     chan Event
	closed bool
}

// NewMemoryPublisher 创建 MemoryPublisher。
func NewMemoryPublisher(agent string, buffer int) *MemoryPublisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryPublisher{agent: agent, ch: make(chan Event, buffer)}
}

// Record 实现 record.Recorder 接口。缓冲区已满时阻塞直到 ctx 结束。
func (p *MemoryPublisher) Record(ctx context.Context, outcome record.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件发布器已关闭")
	}
	select {
	case p.ch <- envelope(p.agent, outcome):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events 返回事件 channel，Close 之后关闭。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	return nil
}

var _ Publisher = (*MemoryPublisher)(nil)
