package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDo_SucceedsFirstAttempt 首次成功不应重试
func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, DefaultConfig())

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestDo_RetriesUntilSuccess 失败后重试直到成功
func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, Config{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffFactor: 2.0, MaxDelay: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestDo_ExhaustsAttempts 全部失败时返回最后一次错误
func TestDo_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still failing")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2.0})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

// TestDo_NonRetryableError 不可重试的错误应立即返回
func TestDo_NonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, fatal) },
	}

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	}, cfg)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

// TestDo_ContextCancelled 上下文取消时中断重试
func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		return errors.New("never succeeds")
	}, DefaultConfig())

	assert.ErrorIs(t, err, context.Canceled)
}

// TestDoWithInfo_AttemptNumbers 验证尝试次数从1开始递增
func TestDoWithInfo_AttemptNumbers(t *testing.T) {
	var attempts []int
	err := DoWithInfo(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errors.New("fail")
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

// TestBackoffDelay_CapsAtMaxDelay 验证退避延迟被 MaxDelay 封顶
func TestBackoffDelay_CapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, BackoffFactor: 10, MaxDelay: 200 * time.Millisecond}

	d := backoffDelay(cfg, 5)
	assert.LessOrEqual(t, d, 200*time.Millisecond)
}
