package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/ledger"
)

// TestConcurrentOutsExactlyOneWins 场景：5 件库存并发出库 3 和 4，恰好一个成功
func TestConcurrentOutsExactlyOneWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createItem(t, 5)

	quantities := []int64{3, 4}
	results := make([]error, len(quantities))

	var wg sync.WaitGroup
	for i, q := range quantities {
		wg.Add(1)
		go func(idx int, quantity int64) {
			defer wg.Done()
			_, err := env.applier.Apply(ctx, item.ID, quantity, ledger.DirectionOut, ledger.MovementMeta{})
			results[idx] = err
		}(i, q)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *ledger.InsufficientStockError
		require.True(t, errors.As(err, &insufficient), "loser must fail with insufficient stock, got %v", err)
		assert.Less(t, insufficient.Available, insufficient.Requested)
	}
	assert.Equal(t, 1, succeeded)

	quantity, err := env.store.ReadQuantity(ctx, item.ID)
	require.NoError(t, err)
	assert.Contains(t, []int64{1, 2}, quantity)
}

// TestConcurrentOutsNeverNegative N 个并发出库的成功量之和不超过初始库存
func TestConcurrentOutsNeverNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const initial = int64(50)
	const workers = 40
	const perWorker = int64(3) // 40*3 = 120 > 50，必然有一部分被拒绝

	item := env.createItem(t, initial)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeededSum int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.applier.Apply(ctx, item.ID, perWorker, ledger.DirectionOut, ledger.MovementMeta{})
			if err == nil {
				mu.Lock()
				succeededSum += perWorker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	quantity, err := env.store.ReadQuantity(ctx, item.ID)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, quantity, int64(0))
	assert.Equal(t, initial-succeededSum, quantity)
	// 成功的扣减量达到了还能扣的最大次数
	assert.Equal(t, (initial/perWorker)*perWorker, succeededSum)
}

// TestInvariantQuantityEqualsMovementSum 不变式：数量 == 入库和 - 出库和
func TestInvariantQuantityEqualsMovementSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.createItem(t, 0)

	const workers = 8
	const opsPerWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for j := 0; j < opsPerWorker; j++ {
				direction := ledger.DirectionIn
				quantity := int64(seed%5 + 1)
				if j%3 == 0 {
					direction = ledger.DirectionOut
				}
				// 出库可能因库存不足被拒绝，这正是要验证的行为
				_, _ = env.applier.Apply(ctx, item.ID, quantity, direction, ledger.MovementMeta{})
			}
		}(i)
	}
	wg.Wait()

	movements, err := env.store.ListMovements(ctx, item.ID)
	require.NoError(t, err)

	var expected int64
	for _, m := range movements {
		if m.Direction == ledger.DirectionIn {
			expected += m.Quantity
		} else {
			expected -= m.Quantity
		}
	}

	quantity, err := env.store.ReadQuantity(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, expected, quantity)
	assert.GreaterOrEqual(t, quantity, int64(0))
}

// TestDifferentItemsProceedInParallel 不同条目的提交互不阻塞
func TestDifferentItemsProceedInParallel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const items = 10
	const opsPerItem = 20

	ids := make([]int64, items)
	for i := range ids {
		ids[i] = env.createItem(t, 0).ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(itemID int64) {
			defer wg.Done()
			for j := 0; j < opsPerItem; j++ {
				_, err := env.applier.Apply(ctx, itemID, 1, ledger.DirectionIn, ledger.MovementMeta{})
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		quantity, err := env.store.ReadQuantity(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(opsPerItem), quantity)
	}
}
