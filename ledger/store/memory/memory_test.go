package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/ledger"
)

func newTestItem(t *testing.T, store *Store, quantity int64) *ledger.Item {
	t.Helper()
	item, err := store.CreateItem(context.Background(), &ledger.Item{
		Name:      "测试条目",
		UnitPrice: 1500,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	require.NotZero(t, item.ID)
	return item
}

// TestCreateAndGetItem 创建与读取条目
func TestCreateAndGetItem(t *testing.T) {
	store := NewStore()
	item := newTestItem(t, store, 10)

	loaded, err := store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, loaded.ID)
	assert.Equal(t, "测试条目", loaded.Name)
	assert.Equal(t, int64(10), loaded.Quantity)

	quantity, err := store.ReadQuantity(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), quantity)
}

// TestGetItemNotFound 不存在的条目返回类型化错误
func TestGetItemNotFound(t *testing.T) {
	store := NewStore()

	_, err := store.GetItem(context.Background(), 404)
	var notFound *ledger.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, int64(404), notFound.ItemID)

	_, _, err = store.ApplyMovement(context.Background(), &ledger.Movement{
		ID: "mv-1", ItemID: 404, Direction: ledger.DirectionIn, Quantity: 1,
	})
	require.ErrorAs(t, err, &notFound)
}

// TestApplyInAndOut 入库与出库更新聚合数量
func TestApplyInAndOut(t *testing.T) {
	store := NewStore()
	item := newTestItem(t, store, 0)
	ctx := context.Background()

	_, quantity, err := store.ApplyMovement(ctx, &ledger.Movement{
		ID: "mv-in", ItemID: item.ID, Direction: ledger.DirectionIn, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), quantity)

	movement, quantity, err := store.ApplyMovement(ctx, &ledger.Movement{
		ID: "mv-out", ItemID: item.ID, Direction: ledger.DirectionOut, Quantity: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), quantity)
	assert.False(t, movement.Timestamp.IsZero())
}

// TestApplyInsufficient 超出可用量的出库被拒绝，数量不变
func TestApplyInsufficient(t *testing.T) {
	store := NewStore()
	item := newTestItem(t, store, 3)
	ctx := context.Background()

	_, _, err := store.ApplyMovement(ctx, &ledger.Movement{
		ID: "mv-1", ItemID: item.ID, Direction: ledger.DirectionOut, Quantity: 5,
	})
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Equal(t, int64(5), insufficient.Requested)
	assert.False(t, insufficient.NoStock())

	quantity, err := store.ReadQuantity(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), quantity)
}

// TestIdempotencyKeyDedup 同一幂等键重放返回先前的提交，不重复扣减
func TestIdempotencyKeyDedup(t *testing.T) {
	store := NewStore()
	item := newTestItem(t, store, 10)
	ctx := context.Background()

	first, quantity, err := store.ApplyMovement(ctx, &ledger.Movement{
		ID: "mv-1", ItemID: item.ID, Direction: ledger.DirectionOut, Quantity: 4,
		IdempotencyKey: "req-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), quantity)

	// 超时后重放：不同的移动ID，相同的幂等键
	replayed, quantity, err := store.ApplyMovement(ctx, &ledger.Movement{
		ID: "mv-2", ItemID: item.ID, Direction: ledger.DirectionOut, Quantity: 4,
		IdempotencyKey: "req-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, int64(6), quantity)

	movements, err := store.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

// TestListMovementsOrder 移动记录按提交顺序返回
func TestListMovementsOrder(t *testing.T) {
	store := NewStore()
	item := newTestItem(t, store, 0)
	ctx := context.Background()

	ids := []string{"mv-a", "mv-b", "mv-c"}
	for _, id := range ids {
		_, _, err := store.ApplyMovement(ctx, &ledger.Movement{
			ID: id, ItemID: item.ID, Direction: ledger.DirectionIn, Quantity: 1,
		})
		require.NoError(t, err)
	}

	movements, err := store.ListMovements(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, movements, 3)
	for i, id := range ids {
		assert.Equal(t, id, movements[i].ID)
	}
}

// TestListItems 返回全部条目
func TestListItems(t *testing.T) {
	store := NewStore()
	newTestItem(t, store, 1)
	newTestItem(t, store, 2)

	items, err := store.ListItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Less(t, items[0].ID, items[1].ID)
}

// TestInitialQuantityNegative 负的初始数量被拒绝
func TestInitialQuantityNegative(t *testing.T) {
	store := NewStore()
	_, err := store.CreateItem(context.Background(), &ledger.Item{Name: "x", Quantity: -1})
	var invalid *ledger.InvalidInputError
	require.True(t, errors.As(err, &invalid))
}
