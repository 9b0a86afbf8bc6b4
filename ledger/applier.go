package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"stockledger/bus"
	"stockledger/cache"
	"stockledger/logging"
	"stockledger/retry"
)

// Applier 聚合数量的唯一变更路径
//
// 提交流程：输入检查 → 存储原子单元内再校验并写入（含退避重试）→
// 提交成功后同步失效受影响缓存键 → 发布变更事件 → 返回。
// 缓存失效发生在提交结果返回给调用方之前，同一调用方随后的读取
// 不会命中提交前的旧值
type Applier struct {
	store    ILedgerStore
	cache    cache.ICache
	notifier bus.INotifier
	retryCfg retry.Config
	logger   logging.Logger
}

// ApplierConfig Applier 配置
type ApplierConfig struct {
	Store    ILedgerStore
	Cache    cache.ICache  // 可为 nil（不维护缓存）
	Notifier bus.INotifier // 可为 nil（不发布事件）
	Retry    *retry.Config // 为 nil 时使用 retry.DefaultConfig
	Logger   logging.Logger
}

// NewApplier 创建 Applier
func NewApplier(cfg ApplierConfig) *Applier {
	retryCfg := retry.DefaultConfig()
	if cfg.Retry != nil {
		retryCfg = *cfg.Retry
	}
	// 只重试瞬时错误；业务拒绝与调用方错误重试没有意义
	retryCfg.Retryable = func(err error) bool {
		kind := ErrorKindOf(err)
		return kind == CodeContended || kind == CodeStorageFailure
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "ledger.applier"))
	}
	return &Applier{
		store:    cfg.Store,
		cache:    cfg.Cache,
		notifier: cfg.Notifier,
		retryCfg: retryCfg,
		logger:   logger,
	}
}

// Apply 应用一次库存移动
//
// 成功时条目不变式保持成立、移动已持久化、恰好发布一个变更事件；
// 失败时无任何可观察的部分状态。
// 同条目并发提交在存储层串行化；争用超出重试预算返回 *ContendedError
func (a *Applier) Apply(ctx context.Context, itemID int64, quantity int64, direction Direction, meta MovementMeta) (*Movement, error) {
	if err := checkInput(quantity, direction); err != nil {
		return nil, err
	}

	movement := &Movement{
		ID:             uuid.NewString(),
		ItemID:         itemID,
		Direction:      direction,
		Quantity:       quantity,
		Note:           meta.Note,
		SupplierRef:    meta.SupplierRef,
		ActorRef:       meta.ActorRef,
		IdempotencyKey: meta.IdempotencyKey,
		Timestamp:      time.Now(),
	}

	var (
		committed   *Movement
		newQuantity int64
		attempts    int
	)
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		var applyErr error
		committed, newQuantity, applyErr = a.store.ApplyMovement(ctx, movement)
		return applyErr
	}, a.retryCfg)
	if err != nil {
		if ErrorKindOf(err) == CodeContended {
			return nil, &ContendedError{ItemID: itemID, Attempts: attempts}
		}
		return nil, err
	}

	a.afterCommit(ctx, committed, newQuantity)
	return committed, nil
}

// afterCommit 提交后的缓存失效与事件发布
//
// 失效是同步的且先于事件发布；事件通道尽力投递，发布失败只记录日志，
// 不影响已提交的结果
func (a *Applier) afterCommit(ctx context.Context, movement *Movement, quantity int64) {
	if a.cache != nil {
		for _, key := range cache.KeysForItem(movement.ItemID) {
			if _, err := a.cache.Invalidate(ctx, key); err != nil {
				a.logger.Warn(ctx, "cache invalidation failed",
					logging.String("key", key),
					logging.Int64("item_id", movement.ItemID),
					logging.Error(err))
			}
		}
	}

	if a.notifier != nil {
		event := bus.NewMessage(uuid.NewString(), TopicQuantityChanged, ChangeEventPayload{
			ItemID:   movement.ItemID,
			Kind:     "quantity-changed",
			Quantity: quantity,
		})
		if err := a.notifier.Publish(ctx, event); err != nil {
			a.logger.Warn(ctx, "change event publish failed",
				logging.Int64("item_id", movement.ItemID),
				logging.Error(err))
		}
	}
}
