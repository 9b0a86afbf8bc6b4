package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"stockledger/bus"
)

// TestPublishCloseRace 发布与关闭并发执行时不得向已关闭的队列发送
//
// 回归场景：运行状态检查与入队若不在同一临界区内，
// Close 可能在两者之间关闭队列，使发布方 panic
func TestPublishCloseRace(t *testing.T) {
	const (
		iterations = 200
		publishers = 8
		perPub     = 20
	)

	for i := 0; i < iterations; i++ {
		transport := NewTransport(16, 2)
		require.NoError(t, transport.Start(context.Background()))

		var wg sync.WaitGroup
		for p := 0; p < publishers; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perPub; j++ {
					// 关闭后发布返回错误属预期，panic 才是缺陷
					_ = transport.Publish(context.Background(), bus.NewMessage("", "t", nil))
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = transport.Close()
		}()

		wg.Wait()
	}
}

// TestPublishAllCloseRace 批量发布与关闭的同一竞争窗口
func TestPublishAllCloseRace(t *testing.T) {
	const iterations = 100

	for i := 0; i < iterations; i++ {
		transport := NewTransport(64, 2)
		require.NoError(t, transport.Start(context.Background()))

		batch := []bus.IMessage{
			bus.NewMessage("", "t", nil),
			bus.NewMessage("", "t", nil),
			bus.NewMessage("", "t", nil),
		}

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					_ = transport.PublishAll(context.Background(), batch)
				}
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = transport.Close()
		}()

		wg.Wait()
	}
}
