package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stockledger/cache"
	"stockledger/logging"
)

// ComputeFunc 派生聚合的重算函数，未命中缓存时从权威存储重新计算
type ComputeFunc func(ctx context.Context, key string) (any, error)

// Reader 读侧门面，组合权威存储与缓存层
//
// 数量读取永远走权威存储：写路径决策（比如提交前展示"可用 N"）
// 不允许观察到过期值。派生聚合先查缓存，未命中时重算并回填
type Reader struct {
	store      ILedgerStore
	cache      cache.ICache
	defaultTTL time.Duration
	logger     logging.Logger

	mu       sync.RWMutex
	computes map[string]ComputeFunc // 精确键或 "prefix*" 模式 -> 重算函数
}

// ReaderConfig 读侧门面配置
type ReaderConfig struct {
	Store      ILedgerStore
	Cache      cache.ICache
	DefaultTTL time.Duration // 回填缓存的TTL，<=0 时为 30s
	Logger     logging.Logger
}

// NewReader 创建读侧门面
func NewReader(cfg ReaderConfig) *Reader {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "ledger.reader"))
	}
	return &Reader{
		store:      cfg.Store,
		cache:      cfg.Cache,
		defaultTTL: ttl,
		logger:     logger,
		computes:   make(map[string]ComputeFunc),
	}
}

// RegisterAggregate 注册派生聚合的重算函数
//
// keyOrPattern 为精确键（如 cache.KeyTotalStockValue）
// 或 "*" 结尾的前缀模式（如 cache.RollupKeyPrefix + "*"）
func (r *Reader) RegisterAggregate(keyOrPattern string, fn ComputeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computes[keyOrPattern] = fn
}

// CurrentQuantity 读取条目当前数量（权威值，永不走缓存）
func (r *Reader) CurrentQuantity(ctx context.Context, itemID int64) (int64, error) {
	return r.store.ReadQuantity(ctx, itemID)
}

// DerivedAggregate 读取派生聚合：缓存优先，未命中时重算并回填
//
// 缓存与重算之间存在良性竞争：最坏情况是一次多余的重算，
// 不会产生错误数据（提交路径总是先失效再返回）
func (r *Reader) DerivedAggregate(ctx context.Context, key string) (any, error) {
	if r.cache != nil {
		value, found, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn(ctx, "cache read failed, falling back to recompute",
				logging.String("key", key), logging.Error(err))
		} else if found {
			return value, nil
		}
	}

	fn := r.lookupCompute(key)
	if fn == nil {
		return nil, &LedgerError{Code: CodeInvalidInput,
			Message: fmt.Sprintf("no compute function registered for aggregate %q", key)}
	}

	value, err := fn(ctx, key)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, value, r.defaultTTL); err != nil {
			r.logger.Warn(ctx, "cache repopulate failed",
				logging.String("key", key), logging.Error(err))
		}
	}
	return value, nil
}

// lookupCompute 先精确匹配，再按注册的前缀模式匹配
func (r *Reader) lookupCompute(key string) ComputeFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.computes[key]; ok {
		return fn
	}
	for pattern, fn := range r.computes {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(key, prefix) {
			return fn
		}
	}
	return nil
}
