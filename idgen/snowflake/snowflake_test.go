package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewGenerator_Validation 测试参数范围校验
func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(-1, 1)
	assert.Error(t, err)

	_, err = NewGenerator(1, 32)
	assert.Error(t, err)

	g, err := NewGenerator(31, 31)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

// TestGenerator_Monotonic 同一生成器产生的ID严格递增
func TestGenerator_Monotonic(t *testing.T) {
	g, err := NewGenerator(1, 1)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 1000; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

// TestDefaultGenerator 默认生成器开箱可用，可在启动期替换
func TestDefaultGenerator(t *testing.T) {
	id1, err := NextID()
	require.NoError(t, err)
	id2, err := NextID()
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	assert.Error(t, SetDefaultGenerator(99, 1))

	require.NoError(t, SetDefaultGenerator(2, 3))
	id3, err := NextID()
	require.NoError(t, err)
	assert.NotZero(t, id3)

	// 还原，避免影响其他测试
	require.NoError(t, SetDefaultGenerator(DefaultDatacenterID, DefaultWorkerID))
}

// TestGenerator_ConcurrentUnique 并发生成不重复
func TestGenerator_ConcurrentUnique(t *testing.T) {
	g, err := NewGenerator(1, 1)
	require.NoError(t, err)

	const (
		goroutines = 8
		perGor     = 500
	)

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGor)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGor; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGor)
}
