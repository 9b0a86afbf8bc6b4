// Package cache 提供派生聚合值的短TTL缓存层
//
// 设计原则：
// 1. 每个条目携带独立的过期时间，读到过期条目视为未命中并惰性删除
// 2. 写路径在提交后同步失效受影响的键，读者不会观察到过期的命中
// 3. 容量管理 - 超过容量时自动 LRU 驱逐，防止 OOM
// 4. 并发安全 - 使用互斥锁保护
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ICache 缓存层接口
//
// 键为逻辑名称（如 "agg:stock-value"），值为任意派生聚合
// Invalidate 支持精确键或以 "*" 结尾的前缀模式
type ICache interface {
	// Get 获取缓存值；过期条目返回未命中
	Get(ctx context.Context, key string) (any, bool, error)

	// Set 设置缓存值及其TTL；ttl<=0 表示不过期
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Invalidate 失效精确键或前缀模式（如 "item:42:*"），返回删除条数
	Invalidate(ctx context.Context, keyOrPattern string) (int, error)

	// Clear 清空所有条目
	Clear(ctx context.Context) error
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大缓存条目数，0 表示无限制（不推荐）
	MaxSize int

	// DefaultTTL Set 未显式给出 ttl 时使用的默认过期时间
	DefaultTTL time.Duration
}

// Stats 缓存统计信息
type Stats struct {
	Hits          int64 // 缓存命中次数
	Misses        int64 // 缓存未命中次数
	Evictions     int64 // LRU 驱逐次数
	Expires       int64 // TTL 过期次数
	Invalidations int64 // 显式失效删除条数
	Size          int   // 当前条目数
}

// entry 缓存条目
type entry struct {
	key        string
	value      any
	expiresAt  time.Time // 零值表示不过期
	lruElement *list.Element
}

// Memory 进程内缓存实现
//
// 核心特性：
//   - 每条目TTL + 惰性删除，CleanExpired 可供周期性回收内存
//   - LRU 驱逐：超过容量时删除最久未使用的条目
//   - 前缀失效：Invalidate("item:42:*") 删除所有该前缀的键
type Memory struct {
	name    string
	config  Config
	items   map[string]*entry
	lruList *list.List

	// Get 需要同时更新 LRU 位置与统计信息，统一在写锁下完成，
	// 保证链表与 map 的一致性
	mu sync.Mutex

	stats Stats
}

// NewMemory 创建进程内缓存实例
func NewMemory(config Config) *Memory {
	if config.Name == "" {
		config.Name = "unnamed"
	}

	return &Memory{
		name:    config.Name,
		config:  config,
		items:   make(map[string]*entry),
		lruList: list.New(),
	}
}

// Get 获取缓存值
//
// 返回：
//   - value: 缓存的值
//   - found: 是否找到且未过期
func (c *Memory) Get(ctx context.Context, key string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return nil, false, nil
	}

	// 过期条目惰性删除，当作未命中
	if c.isExpired(e, time.Now()) {
		c.removeEntryLocked(e)
		c.stats.Misses++
		c.stats.Expires++
		return nil, false, nil
	}

	c.lruList.MoveToFront(e.lruElement)
	c.stats.Hits++
	return e.value, true, nil
}

// Set 设置缓存值
func (c *Memory) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	// 更新现有条目
	if e, exists := c.items[key]; exists {
		e.value = value
		e.expiresAt = expiresAt
		c.lruList.MoveToFront(e.lruElement)
		return nil
	}

	// 检查是否需要驱逐
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		c.evictOldestLocked()
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.lruElement = c.lruList.PushFront(e)
	c.items[key] = e
	c.stats.Size = len(c.items)
	return nil
}

// Invalidate 失效精确键或前缀模式，返回删除条数
func (c *Memory) Invalidate(ctx context.Context, keyOrPattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 前缀模式："item:42:*" 匹配所有 "item:42:" 开头的键
	if prefix, ok := strings.CutSuffix(keyOrPattern, "*"); ok {
		removed := 0
		for key, e := range c.items {
			if strings.HasPrefix(key, prefix) {
				c.removeEntryLocked(e)
				removed++
			}
		}
		c.stats.Invalidations += int64(removed)
		return removed, nil
	}

	e, exists := c.items[keyOrPattern]
	if !exists {
		return 0, nil
	}
	c.removeEntryLocked(e)
	c.stats.Invalidations++
	return 1, nil
}

// Clear 清空所有缓存
func (c *Memory) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.lruList = list.New()
	c.stats.Size = 0
	return nil
}

// CleanExpired 清理过期条目
//
// 惰性删除已保证正确性，这里仅用于周期性回收内存
//
// 返回：清理的条目数量
func (c *Memory) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	now := time.Now()
	for _, e := range c.items {
		if c.isExpired(e, now) {
			c.removeEntryLocked(e)
			cleaned++
		}
	}

	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Stats 获取缓存统计信息（副本）
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Size 获取当前缓存条目数
func (c *Memory) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// isExpired 检查条目是否过期（需要持锁调用）
func (c *Memory) isExpired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// evictOldestLocked 驱逐最久未使用的条目（需要持锁调用）
func (c *Memory) evictOldestLocked() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeEntryLocked(oldest.Value.(*entry))
	c.stats.Evictions++
}

// removeEntryLocked 删除条目（需要持锁调用）
func (c *Memory) removeEntryLocked(e *entry) {
	if e.lruElement != nil {
		c.lruList.Remove(e.lruElement)
	}
	delete(c.items, e.key)
	c.stats.Size = len(c.items)
}

// String 返回缓存信息的字符串表示
func (c *Memory) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.name, stats.Size, c.config.MaxSize, stats.Hits, stats.Misses, stats.Evictions, stats.Expires)
}

// 接口断言
var _ ICache = (*Memory)(nil)
