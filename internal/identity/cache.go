package identity

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig 描述 Redis 缓存参数。
type CacheConfig struct {
	Prefix string
	TTL    time.Duration
}

// CachingResolver 在 Redis 中缓存上游解析器的结果。NotFound 与其他错误不会被缓存。
type CachingResolver struct {
	upstream Resolver
	client   redis.Cmdable
	prefix   string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewCachingResolver 创建带缓存的解析器。
func NewCachingResolver(upstream Resolver, client redis.Cmdable, cfg CacheConfig, logger *slog.Logger) *CachingResolver {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "elizadid:identity:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingResolver{upstream: upstream, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

// Resolve 实现 Resolver 接口。缓存读写失败只记录日志，回退到上游解析器。
func (c *CachingResolver) Resolve(ctx context.Context, did string) (KeyMaterial, error) {
	key := c.prefix + strings.TrimSpace(did)
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		km, decodeErr := decodeCacheEntry(cached)
		if decodeErr == nil {
			return km, nil
		}
		c.logger.Warn("身份缓存内容非法", slog.String("did", did), slog.Any("error", decodeErr))
	case !stdErrors.Is(err, redis.Nil):
		c.logger.Warn("读取身份缓存失败", slog.String("did", did), slog.Any("error", err))
	}

	km, err := c.upstream.Resolve(ctx, did)
	if err != nil {
		return KeyMaterial{}, err
	}
	if err := c.client.Set(ctx, key, encodeCacheEntry(km), c.ttl).Err(); err != nil {
		c.logger.Warn("写入身份缓存失败", slog.String("did", did), slog.Any("error", err))
	}
	return km, nil
}

// Invalidate 删除指定身份的缓存，通常在密钥轮换后调用。
func (c *CachingResolver) Invalidate(ctx context.Context, did string) error {
	return c.client.Del(ctx, c.prefix+strings.TrimSpace(did)).Err()
}

func encodeCacheEntry(km KeyMaterial) string {
	return string(km.Type) + ":" + km.Hex()
}

func decodeCacheEntry(raw string) (KeyMaterial, error) {
	keyType, hexKey, ok := strings.Cut(raw, ":")
	if !ok {
		return KeyMaterial{}, fmt.Errorf("缓存格式错误: %q", raw)
	}
	parsed, err := ParseKeyType(keyType)
	if err != nil {
		return KeyMaterial{}, err
	}
	return ParseKeyMaterial(parsed, hexKey)
}
