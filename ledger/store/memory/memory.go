// Package memory 提供进程内的台账存储实现
//
// 适用于测试与单进程部署。每个条目持有独立的互斥锁：
// 同一条目的提交串行化，不同条目完全并行互不阻塞
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockledger/idgen/snowflake"
	"stockledger/ledger"
)

// itemState 单个条目的状态与其提交锁
type itemState struct {
	mu        sync.Mutex
	item      ledger.Item
	movements []*ledger.Movement
	byIdemKey map[string]*ledger.Movement
}

// Store 进程内台账存储
type Store struct {
	mu    sync.RWMutex
	items map[int64]*itemState
}

// NewStore 创建进程内存储
func NewStore() *Store {
	return &Store{items: make(map[int64]*itemState)}
}

// CreateItem 创建条目；ID 为零时分配雪花ID
func (s *Store) CreateItem(ctx context.Context, item *ledger.Item) (*ledger.Item, error) {
	if item.Quantity < 0 {
		return nil, &ledger.InvalidInputError{Field: "quantity", Message: "initial quantity must be >= 0"}
	}

	created := *item
	if created.ID == 0 {
		id, err := snowflake.NextID()
		if err != nil {
			return nil, ledger.NewStorageError("generate item id", err)
		}
		created.ID = id
	}
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[created.ID]; exists {
		return nil, &ledger.LedgerError{Code: ledger.CodeInvalidInput, Message: "item already exists"}
	}
	s.items[created.ID] = &itemState{
		item:      created,
		byIdemKey: make(map[string]*ledger.Movement),
	}

	result := created
	return &result, nil
}

// GetItem 读取条目副本
func (s *Store) GetItem(ctx context.Context, itemID int64) (*ledger.Item, error) {
	state, err := s.state(itemID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	item := state.item
	return &item, nil
}

// ReadQuantity 读取当前聚合数量
func (s *Store) ReadQuantity(ctx context.Context, itemID int64) (int64, error) {
	state, err := s.state(itemID)
	if err != nil {
		return 0, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.item.Quantity, nil
}

// ApplyMovement 在条目锁内完成守卫检查、聚合更新与移动追加
//
// 锁就是本实现的原子单元：持锁期间读到的数量即提交时刻的权威值，
// 不存在基于过期读数的决策
func (s *Store) ApplyMovement(ctx context.Context, movement *ledger.Movement) (*ledger.Movement, int64, error) {
	state, err := s.state(movement.ItemID)
	if err != nil {
		return nil, 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	// 幂等键去重：重放返回先前已提交的移动，不做任何变更
	if movement.IdempotencyKey != "" {
		if prior, exists := state.byIdemKey[movement.IdempotencyKey]; exists {
			committed := *prior
			return &committed, state.item.Quantity, nil
		}
	}

	current := state.item.Quantity
	if movement.Direction == ledger.DirectionOut && movement.Quantity > current {
		return nil, 0, &ledger.InsufficientStockError{
			ItemID:    movement.ItemID,
			Available: current,
			Requested: movement.Quantity,
		}
	}

	newQuantity := current + movement.Quantity
	if movement.Direction == ledger.DirectionOut {
		newQuantity = current - movement.Quantity
	}

	committed := *movement
	if committed.Timestamp.IsZero() {
		committed.Timestamp = time.Now()
	}

	state.item.Quantity = newQuantity
	state.item.UpdatedAt = time.Now()
	state.movements = append(state.movements, &committed)
	if committed.IdempotencyKey != "" {
		state.byIdemKey[committed.IdempotencyKey] = &committed
	}

	result := committed
	return &result, newQuantity, nil
}

// ListMovements 按提交顺序返回移动记录副本
func (s *Store) ListMovements(ctx context.Context, itemID int64) ([]*ledger.Movement, error) {
	state, err := s.state(itemID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	result := make([]*ledger.Movement, 0, len(state.movements))
	for _, m := range state.movements {
		movement := *m
		result = append(result, &movement)
	}
	return result, nil
}

// ListItems 返回全部条目副本（按ID排序），供派生聚合重算使用
func (s *Store) ListItems(ctx context.Context) ([]*ledger.Item, error) {
	s.mu.RLock()
	states := make([]*itemState, 0, len(s.items))
	for _, state := range s.items {
		states = append(states, state)
	}
	s.mu.RUnlock()

	result := make([]*ledger.Item, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		item := state.item
		state.mu.Unlock()
		result = append(result, &item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Close 释放资源（进程内存储无资源可释放）
func (s *Store) Close() error { return nil }

func (s *Store) state(itemID int64) (*itemState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, exists := s.items[itemID]
	if !exists {
		return nil, &ledger.ItemNotFoundError{ItemID: itemID}
	}
	return state, nil
}

// 接口断言
var _ ledger.ILedgerStore = (*Store)(nil)
