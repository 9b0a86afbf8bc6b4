package ledger

import (
	"context"
)

// ILedgerStore 台账持久化端口
//
// 实现必须提供"同一原子单元内读取-校验-写入"的能力：
// ApplyMovement 在一个原子单元里完成数量守卫检查、聚合更新与
// 移动记录写入，全部成功或全部失败，不可观察到中间态
type ILedgerStore interface {
	// CreateItem 创建条目；ID 为零时由存储分配，Quantity 为初始库存
	CreateItem(ctx context.Context, item *Item) (*Item, error)

	// GetItem 读取条目；不存在返回 *ItemNotFoundError
	GetItem(ctx context.Context, itemID int64) (*Item, error)

	// ReadQuantity 读取条目当前聚合数量（权威值）
	ReadQuantity(ctx context.Context, itemID int64) (int64, error)

	// ApplyMovement 原子地应用一次移动，返回已提交的移动与提交后数量
	//
	// 行为约定:
	//   - 出库时在原子单元内重新校验 quantity <= 当前数量，
	//     不满足返回 *InsufficientStockError（携带当时的可用量）
	//   - 条目不存在返回 *ItemNotFoundError
	//   - movement.IdempotencyKey 非空且已存在同 key 的移动时，
	//     不做任何变更，返回先前已提交的移动（去重，不双倍扣减）
	//   - 底层瞬时冲突（锁、死锁、busy）返回 Code 为 CONTENDED 或
	//     STORAGE_FAILURE 的 *LedgerError，调用方可重试
	ApplyMovement(ctx context.Context, movement *Movement) (*Movement, int64, error)

	// ListMovements 按提交顺序返回条目的移动记录
	ListMovements(ctx context.Context, itemID int64) ([]*Movement, error)

	// Close 释放存储资源
	Close() error
}
