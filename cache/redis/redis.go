// Package redis 提供缓存层的 Redis 实现
//
// 适用于多进程部署：所有实例共享同一份派生聚合缓存，
// 任一实例提交移动后的失效对其他实例立即可见
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stockledger/cache"
)

// client 收敛本包依赖的 go-redis 命令子集（便于测试替换）
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config Redis 缓存配置
type Config struct {
	Client    redis.UniversalClient
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string // 所有键的命名空间前缀，默认 "ledgercache:"

	// DefaultTTL Set 未显式给出 ttl 时使用的默认过期时间，默认 5 分钟
	DefaultTTL time.Duration
}

// Cache Redis 缓存实现
type Cache struct {
	cfg       Config
	client    client
	ownClient bool
}

// New 创建 Redis 缓存实例
func New(cfg Config) (*Cache, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ledgercache:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}

	var cl client
	var own bool
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		options := &redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB}
		cl = redis.NewClient(options)
		own = true
	}
	if cl == nil {
		return nil, errors.New("redis client not configured")
	}

	return &Cache{cfg: cfg, client: cl, ownClient: own}, nil
}

// Get 获取缓存值；键不存在或已过期返回未命中
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := c.client.Get(ctx, c.cfg.KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set 设置缓存值；过期由 Redis 的键TTL承担
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.cfg.KeyPrefix+key, data, ttl).Err()
}

// Invalidate 失效精确键或前缀模式，返回删除条数
func (c *Cache) Invalidate(ctx context.Context, keyOrPattern string) (int, error) {
	if prefix, ok := strings.CutSuffix(keyOrPattern, "*"); ok {
		return c.deleteByPattern(ctx, c.cfg.KeyPrefix+prefix+"*")
	}

	n, err := c.client.Del(ctx, c.cfg.KeyPrefix+keyOrPattern).Result()
	return int(n), err
}

// Clear 删除本缓存命名空间下的所有键
func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.deleteByPattern(ctx, c.cfg.KeyPrefix+"*")
	return err
}

// deleteByPattern 通过 SCAN 游标分批删除匹配的键，避免阻塞 Redis
func (c *Cache) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			removed += int(n)
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Close 释放自建的 Redis 连接；外部传入的连接由调用方负责
func (c *Cache) Close() error {
	if c.ownClient {
		return c.client.Close()
	}
	return nil
}

// 接口断言
var _ cache.ICache = (*Cache)(nil)
