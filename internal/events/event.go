// Package events 把调度结果以事件形式发布到外部系统（Redis、RabbitMQ 等），
// 供下游审计或异步消费。
package events

import (
	"time"

	"ElizaDID/internal/record"
)

// KindTaskDispatched 是调度结果事件的类型。
const KindTaskDispatched = "task.dispatched"

// Event 是发布到外部系统的事件信封。
type Event struct {
	Kind      string         `json:"kind" cbor:"kind"`
	Agent     string         `json:"agent,omitempty" cbor:"agent,omitempty"`
	Outcome   record.Outcome `json:"outcome" cbor:"outcome"`
	EmittedAt time.Time      `json:"emitted_at" cbor:"emitted_at"`
}

// Publisher 发布调度结果事件。它同时满足 record.Recorder，可以直接挂到调度循环上。
type Publisher interface {
	record.Recorder
	Close() error
}

// envelope 构造事件信封。
func envelope(agent string, outcome record.Outcome) Event {
	return Event{
		Kind:      KindTaskDispatched,
		Agent:     agent,
		Outcome:   outcome,
		EmittedAt: time.Now().UTC(),
	}
}

// Options 是各 Publisher 共用的配置。
type Options struct {
	Agent string
	Codec Codec
}

func (o Options) codec() Codec {
	if o.Codec == nil {
		return JSONCodec{}
	}
	return o.Codec
}
