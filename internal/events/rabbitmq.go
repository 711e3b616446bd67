package events

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/record"
)

// RabbitMQConfig 描述 RabbitMQ 事件队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Durable    bool
}

// amqpChannel 是发布所需的 channel 子集。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 把事件发布到 RabbitMQ。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
	persistent bool
	opts       Options
}

// DialRabbitMQ 连接 RabbitMQ，未指定 exchange 时声明同名队列并使用默认 exchange。
func DialRabbitMQ(cfg RabbitMQConfig, opts Options) (*RabbitMQPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "elizadid.outcomes"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Exchange == "" {
		if _, err := ch.QueueDeclare(routingKey, cfg.Durable, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
		}
	} else if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	publisher := newRabbitMQPublisher(ch, cfg, routingKey, opts)
	publisher.conn = conn
	return publisher, nil
}

func newRabbitMQPublisher(ch amqpChannel, cfg RabbitMQConfig, routingKey string, opts Options) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: routingKey,
		persistent: cfg.Durable,
		opts:       opts,
	}
}

// Record 实现 record.Recorder 接口。
func (p *RabbitMQPublisher) Record(ctx context.Context, outcome record.Outcome) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 发布器未初始化")
	}
	codec := p.opts.codec()
	event := envelope(p.opts.Agent, outcome)
	body, err := codec.Encode(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码调度事件失败")
	}
	msg := amqp.Publishing{
		ContentType: codec.ContentType(),
		MessageId:   outcome.TaskID,
		Type:        event.Kind,
		Timestamp:   event.EmittedAt,
		Body:        body,
	}
	if p.persistent {
		msg.DeliveryMode = amqp.Persistent
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布事件失败", xerrors.WithMetadata("task_id", outcome.TaskID))
	}
	return nil
}

// Close 关闭 channel 与连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

var _ Publisher = (*RabbitMQPublisher)(nil)
