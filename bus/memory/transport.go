// Package memory 提供基于内存队列的通知传输实现
// 适用于单进程部署、开发环境和测试场景
package memory

import (
	"context"
	"fmt"
	"sync"

	"stockledger/bus"
	"stockledger/logging"
)

// Transport 内存通知传输实现
//
// 特性:
//   - 基于内存队列的异步投递
//   - Worker 池模式处理消息
//   - 订阅者断开期间发布的事件直接丢失（尽力投递语义）
//   - 并发安全
type Transport struct {
	handlers    map[string][]bus.IMessageHandler
	queue       chan bus.IMessage
	queueSize   int
	workerCount int
	logger      logging.Logger
	running     bool
	mutex       sync.RWMutex
	wg          sync.WaitGroup
}

// NewTransport 创建内存传输实例
//
// 参数:
//   - queueSize: 队列大小（<=0 时使用默认 1000）
//   - workerCount: Worker 数量（<=0 时使用默认 4）
func NewTransport(queueSize, workerCount int) *Transport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	return newTransport(queueSize, workerCount)
}

// NewTransportForTest 创建仅用于测试的内存传输实例
//
// 允许创建 0 worker 的传输以验证队列行为；
// 生产代码应始终使用 NewTransport，避免消息永远不被消费
func NewTransportForTest(queueSize int) *Transport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return newTransport(queueSize, 0)
}

func newTransport(queueSize, workerCount int) *Transport {
	return &Transport{
		handlers:    make(map[string][]bus.IMessageHandler),
		queue:       make(chan bus.IMessage, queueSize),
		queueSize:   queueSize,
		workerCount: workerCount,
		logger:      logging.GetLogger().WithFields(logging.String("component", "bus.memory")),
	}
}

// Publish 发布消息到队列
//
// 消息将被放入队列，由 Worker 池异步投递；队列满时返回错误而不是阻塞。
// 入队全程持读锁：Close 持写锁关闭队列，读锁保证运行状态检查与入队
// 之间队列不会被并发关闭
func (t *Transport) Publish(ctx context.Context, message bus.IMessage) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}

	select {
	case t.queue <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("message queue is full")
	}
}

// PublishAll 批量发布消息到队列
func (t *Transport) PublishAll(ctx context.Context, messages []bus.IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}

	for _, message := range messages {
		select {
		case t.queue <- message:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("message queue is full")
		}
	}

	return nil
}

// Subscribe 订阅主题处理器
//
// 支持多个处理器订阅同一主题；支持通配符 "*" 订阅所有主题
func (t *Transport) Subscribe(topic string, handler bus.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.handlers[topic] = append(t.handlers[topic], handler)
	return nil
}

// Unsubscribe 取消订阅处理器
func (t *Transport) Unsubscribe(topic string, handler bus.IMessageHandler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	handlers, ok := t.handlers[topic]
	if !ok {
		return fmt.Errorf("no handlers for topic %s", topic)
	}

	for i, h := range handlers {
		if h == handler {
			t.handlers[topic] = append(handlers[:i], handlers[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("handler not found for topic %s", topic)
}

// Stats 获取统计信息
func (t *Transport) Stats() bus.TransportStats {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	handlerCount := 0
	topics := make([]string, 0, len(t.handlers))
	for topic, handlers := range t.handlers {
		topics = append(topics, topic)
		handlerCount += len(handlers)
	}

	return bus.TransportStats{
		Running:      t.running,
		HandlerCount: handlerCount,
		Topics:       topics,
		QueueSize:    t.queueSize,
		QueueDepth:   len(t.queue),
		WorkerCount:  t.workerCount,
	}
}

// 接口断言
var _ bus.ITransport = (*Transport)(nil)
