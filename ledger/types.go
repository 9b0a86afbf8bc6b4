// Package ledger 实现库存台账一致性内核
//
// 台账 = 追加写入的移动记录集合 + 每个条目维护的聚合数量。
// 不变式：聚合数量恒等于全部入库数量之和减去全部出库数量之和，且永不为负。
// 聚合数量只允许经由 Applier 变更
package ledger

import (
	"time"
)

// Direction 库存移动方向
type Direction string

const (
	// DirectionIn 入库
	DirectionIn Direction = "in"
	// DirectionOut 出库
	DirectionOut Direction = "out"
)

// Valid 判断方向取值是否合法
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Item 库存条目
//
// Quantity 是增量维护的聚合值，不在读取时从移动历史重算。
// 只有 Applier 的原子提交路径可以修改它
type Item struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	UnitPrice   int64     `json:"unit_price"` // 单价，以分为单位
	Quantity    int64     `json:"quantity"`
	MinQuantity int64     `json:"min_quantity"` // 低库存阈值，0 表示未设置
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Movement 一次不可变的库存移动事实
//
// 持久化后永不更新或删除；订正以反向移动的形式追加，
// 保持台账的审计属性
type Movement struct {
	ID             string    `json:"id"`
	ItemID         int64     `json:"item_id"`
	Direction      Direction `json:"direction"`
	Quantity       int64     `json:"quantity"`
	Note           string    `json:"note,omitempty"`
	SupplierRef    string    `json:"supplier_ref,omitempty"`
	ActorRef       string    `json:"actor_ref,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MovementMeta 提交移动时的附加元数据
type MovementMeta struct {
	Note           string
	SupplierRef    string
	ActorRef       string
	IdempotencyKey string
}

// TopicQuantityChanged 数量变更事件的发布主题
const TopicQuantityChanged = "stock.quantity-changed"

// ChangeEventPayload 数量变更事件负载
//
// Quantity 是提交时刻的快照，仅作提示；订阅者应据此回读权威存储，
// 而不是把负载当作真值
type ChangeEventPayload struct {
	ItemID   int64  `json:"item_id"`
	Kind     string `json:"kind"`
	Quantity int64  `json:"quantity"`
}
