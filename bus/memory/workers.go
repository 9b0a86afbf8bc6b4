package memory

import (
	"context"
	"fmt"

	"stockledger/bus"
	"stockledger/logging"
)

// Start 启动传输层，开启 Worker 池处理消息队列
func (t *Transport) Start(ctx context.Context) error {
	t.mutex.Lock()
	if t.running {
		t.mutex.Unlock()
		return fmt.Errorf("memory transport is already running")
	}

	t.running = true

	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}

	t.mutex.Unlock()
	return nil
}

// Close 关闭传输层
//
// 队列在写锁内关闭，与 Publish 的读锁互斥，不会出现向已关闭队列
// 发送的窗口；关闭后 Worker 会先消费完缓冲中的消息再退出
func (t *Transport) Close() error {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return fmt.Errorf("memory transport is not running")
	}

	t.running = false
	close(t.queue)
	t.mutex.Unlock()

	// Worker 的 dispatch 需要读锁，等待必须在锁外进行
	t.wg.Wait()

	return nil
}

// worker 工作协程，从队列取出消息并分发给订阅的处理器
func (t *Transport) worker(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case message, ok := <-t.queue:
			if !ok {
				return
			}
			t.dispatch(ctx, message)

		case <-ctx.Done():
			return
		}
	}
}

// dispatch 分发消息到订阅的处理器
//
// 异步分发：handler 错误不会传播给发布者，只记录日志。
// 投递语义是每个已连接订阅者至多一次
func (t *Transport) dispatch(ctx context.Context, message bus.IMessage) {
	topic := message.GetType()

	t.mutex.RLock()
	exact := t.handlers[topic]
	wildcard := t.handlers["*"]

	// 拷贝到新的切片，避免在读锁释放后被并发修改
	handlers := make([]bus.IMessageHandler, 0, len(exact)+len(wildcard))
	handlers = append(handlers, exact...)
	handlers = append(handlers, wildcard...)
	t.mutex.RUnlock()

	if len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		if err := handler.Handle(ctx, message); err != nil {
			// 记录错误但继续处理其他处理器
			t.logger.Warn(ctx, "message handler failed",
				logging.String("topic", topic),
				logging.String("message_id", message.GetID()),
				logging.Error(err))
		}
	}
}
