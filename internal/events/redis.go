package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	xerrors "ElizaDID/internal/errors"
	"ElizaDID/internal/record"
)

// RedisConfig 描述 Redis 事件流的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// List 保存最近事件的列表键。
	List string
	// MaxLen 大于 0 时裁剪列表长度。
	MaxLen int64
	// Channel 非空时同时 PUBLISH 到该频道。
	Channel string
}

// RedisPublisher 使用 Redis list（LPUSH）保存事件，可选地通过 PUBLISH 广播。
type RedisPublisher struct {
	client  redis.Cmdable
	closer  func() error
	list    string
	maxLen  int64
	channel string
	opts    Options
}

// DialRedis 连接 Redis 并创建 RedisPublisher。
func DialRedis(ctx context.Context, cfg RedisConfig, opts Options) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	publisher := NewRedisPublisher(client, cfg, opts)
	publisher.closer = client.Close
	return publisher, nil
}

// NewRedisPublisher 基于已有的 Redis 客户端创建发布器，调用方负责关闭客户端。
func NewRedisPublisher(client redis.Cmdable, cfg RedisConfig, opts Options) *RedisPublisher {
	list := cfg.List
	if list == "" {
		list = "elizadid:outcomes"
	}
	return &RedisPublisher{
		client:  client,
		list:    list,
		maxLen:  cfg.MaxLen,
		channel: cfg.Channel,
		opts:    opts,
	}
}

// Record 实现 record.Recorder 接口。
func (p *RedisPublisher) Record(ctx context.Context, outcome record.Outcome) error {
	body, err := p.opts.codec().Encode(envelope(p.opts.Agent, outcome))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "编码调度事件失败")
	}
	if err := p.client.LPush(ctx, p.list, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布事件失败", xerrors.WithMetadata("task_id", outcome.TaskID))
	}
	if p.maxLen > 0 {
		if err := p.client.LTrim(ctx, p.list, 0, p.maxLen-1).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "裁剪 Redis 事件列表失败")
		}
	}
	if p.channel != "" {
		if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 广播事件失败", xerrors.WithMetadata("task_id", outcome.TaskID))
		}
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.closer == nil {
		return nil
	}
	return p.closer()
}

var _ Publisher = (*RedisPublisher)(nil)
