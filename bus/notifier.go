package bus

import (
	"context"
	"fmt"
	"sync"
)

// IMessageHandler 消息处理器接口
type IMessageHandler interface {
	Handle(ctx context.Context, message IMessage) error
}

// HandlerFunc 函数式消息处理器
type HandlerFunc func(ctx context.Context, message IMessage) error

func (f HandlerFunc) Handle(ctx context.Context, message IMessage) error {
	return f(ctx, message)
}

// ITransport 传输层接口
//
// Subscribe 的 topic 支持 "*" 通配符订阅所有主题。
// 订阅者集合会被连接/断开并发修改，实现必须保证注册/移除与投递互不破坏。
// Unsubscribe 按相等性匹配处理器，因此需要退订的处理器必须是
// 可比较类型（如结构体指针）；HandlerFunc 这类函数值无法比较
type ITransport interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Subscribe(topic string, handler IMessageHandler) error
	Unsubscribe(topic string, handler IMessageHandler) error
	Start(ctx context.Context) error
	Close() error
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool
	HandlerCount int
	Topics       []string
	QueueSize    int
	QueueDepth   int
	WorkerCount  int
}

// IMiddleware 发布路径中间件接口
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// INotifier 变更通知器接口
type INotifier interface {
	Publish(ctx context.Context, message IMessage) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Subscribe(ctx context.Context, topic string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, topic string, handler IMessageHandler) error
	Use(middleware IMiddleware)
}

// Notifier 变更通知器基础实现
//
// 依赖 ITransport 完成实际投递，发布前依次执行注册的中间件
type Notifier struct {
	transport   ITransport
	middlewares []IMiddleware
	mutex       sync.RWMutex
}

// NewNotifier 创建变更通知器
func NewNotifier(transport ITransport) *Notifier {
	return &Notifier{
		transport:   transport,
		middlewares: make([]IMiddleware, 0),
	}
}

// Use 注册中间件
func (n *Notifier) Use(middleware IMiddleware) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.middlewares = append(n.middlewares, middleware)
}

// Subscribe 订阅主题
func (n *Notifier) Subscribe(ctx context.Context, topic string, handler IMessageHandler) error {
	return n.transport.Subscribe(topic, handler)
}

// Unsubscribe 取消订阅
func (n *Notifier) Unsubscribe(ctx context.Context, topic string, handler IMessageHandler) error {
	return n.transport.Unsubscribe(topic, handler)
}

// Publish 发布消息，发送到传输层前先执行中间件链
func (n *Notifier) Publish(ctx context.Context, message IMessage) error {
	finalHandler := func(ctx context.Context, msg IMessage) error {
		return n.transport.Publish(ctx, msg)
	}
	return n.executeMiddlewares(ctx, message, finalHandler)
}

// PublishAll 发布多个消息
func (n *Notifier) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batched := make([]IMessage, 0, len(messages))
	for _, message := range messages {
		err := n.executeMiddlewares(ctx, message, func(ctx context.Context, msg IMessage) error {
			batched = append(batched, msg)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to publish message %s: %w", message.GetID(), err)
		}
	}

	if len(batched) == 0 {
		return nil
	}

	if err := n.transport.PublishAll(ctx, batched); err != nil {
		return fmt.Errorf("failed to publish batch (%d messages): %w", len(batched), err)
	}

	return nil
}

// executeMiddlewares 构建并执行中间件链
func (n *Notifier) executeMiddlewares(ctx context.Context, message IMessage, finalHandler HandlerFunc) error {
	n.mutex.RLock()
	middlewares := n.middlewares
	n.mutex.RUnlock()

	if len(middlewares) == 0 {
		return finalHandler(ctx, message)
	}

	next := finalHandler
	for i := len(middlewares) - 1; i >= 0; i-- {
		middleware := middlewares[i]
		currentNext := next
		next = func(ctx context.Context, msg IMessage) error {
			return middleware.Handle(ctx, msg, currentNext)
		}
	}
	return next(ctx, message)
}

// 接口断言
var _ INotifier = (*Notifier)(nil)
