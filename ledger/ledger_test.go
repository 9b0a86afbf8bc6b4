package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockledger/bus"
	busmemory "stockledger/bus/memory"
	"stockledger/cache"
	"stockledger/ledger"
	storememory "stockledger/ledger/store/memory"
	"stockledger/logging"
)

// testTimeout 异步断言的统一等待上限
const testTimeout = 2 * time.Second

// testEnv 一套完整接线的台账环境：内存存储 + 缓存 + 内存总线
type testEnv struct {
	store    *storememory.Store
	cache    *cache.Memory
	notifier *bus.Notifier
	applier  *ledger.Applier
	reader   *ledger.Reader
	service  *ledger.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storememory.NewStore()
	memCache := cache.NewMemory(cache.Config{Name: "test", MaxSize: 128, DefaultTTL: time.Minute})

	transport := busmemory.NewTransport(256, 2)
	require.NoError(t, transport.Start(context.Background()))
	t.Cleanup(func() { _ = transport.Close() })
	notifier := bus.NewNotifier(transport)

	logger := logging.NewNoopLogger()
	applier := ledger.NewApplier(ledger.ApplierConfig{
		Store:    store,
		Cache:    memCache,
		Notifier: notifier,
		Logger:   logger,
	})
	reader := ledger.NewReader(ledger.ReaderConfig{
		Store:  store,
		Cache:  memCache,
		Logger: logger,
	})
	service := ledger.NewService(ledger.ServiceConfig{
		Validator: ledger.NewValidator(store),
		Applier:   applier,
		Reader:    reader,
		Notifier:  notifier,
		Logger:    logger,
	})

	return &testEnv{
		store:    store,
		cache:    memCache,
		notifier: notifier,
		applier:  applier,
		reader:   reader,
		service:  service,
	}
}

func (env *testEnv) createItem(t *testing.T, quantity int64) *ledger.Item {
	t.Helper()
	item, err := env.store.CreateItem(context.Background(), &ledger.Item{
		Name:      "widget",
		UnitPrice: 100,
		Quantity:  quantity,
	})
	require.NoError(t, err)
	return item
}

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}
