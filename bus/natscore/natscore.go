// Package natscore 提供基于 NATS core 发布/订阅的通知传输实现
//
// 刻意不使用 JetStream：通知通道不保留回放日志，
// 订阅者断连期间的事件直接丢失，重连后通过重新读取权威存储对账。
// NATS core 的 at-most-once 投递正好匹配这一语义
package natscore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"stockledger/bus"
	"stockledger/logging"
)

// Config NATS 传输配置
type Config struct {
	URL           string
	SubjectPrefix string
	Logger        logging.Logger
	Conn          *nats.Conn
}

// Transport 基于 NATS core 的 bus.ITransport 实现
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	ownsConn bool

	handlers map[string][]bus.IMessageHandler
	subs     map[string]*nats.Subscription

	mu      sync.RWMutex
	running bool
}

// NewTransport 创建 NATS 传输实例
func NewTransport(cfg Config) *Transport {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "ledger."
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger().WithFields(logging.String("component", "bus.natscore"))
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string][]bus.IMessageHandler),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Publish 发布消息；没有任何订阅者时消息直接丢弃（尽力投递）
func (t *Transport) Publish(ctx context.Context, message bus.IMessage) error {
	t.mu.RLock()
	conn := t.conn
	running := t.running
	t.mu.RUnlock()
	if !running || conn == nil {
		return errors.New("nats transport not running")
	}

	data, err := marshalMessage(message)
	if err != nil {
		return err
	}
	return conn.Publish(t.subjectName(message.GetType()), data)
}

// PublishAll 逐条发布多个消息
func (t *Transport) PublishAll(ctx context.Context, messages []bus.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 订阅主题处理器；"*" 订阅所有主题
func (t *Transport) Subscribe(topic string, handler bus.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[topic] = append(t.handlers[topic], handler)
	if t.running {
		return t.subscribeLocked(topic)
	}
	return nil
}

// Unsubscribe 取消订阅处理器；该主题最后一个处理器移除后退订 NATS subject
func (t *Transport) Unsubscribe(topic string, handler bus.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[topic]
	for i, h := range handlers {
		if h == handler {
			t.handlers[topic] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	if len(t.handlers[topic]) == 0 {
		delete(t.handlers, topic)
		if sub, ok := t.subs[topic]; ok {
			_ = sub.Unsubscribe()
			delete(t.subs, topic)
		}
	}
	return nil
}

// Start 建立连接并订阅已注册的主题
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	for topic := range t.handlers {
		if err := t.subscribeLocked(topic); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

// Close 退订并关闭自建连接
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		if t.ownsConn && t.conn != nil {
			t.conn.Close()
		}
		return nil
	}
	t.running = false
	for topic, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, topic)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	return nil
}

// Stats 获取统计信息
func (t *Transport) Stats() bus.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	handlerCount := 0
	topics := make([]string, 0, len(t.handlers))
	for topic, hs := range t.handlers {
		handlerCount += len(hs)
		topics = append(topics, topic)
	}
	return bus.TransportStats{
		Running:      t.running,
		HandlerCount: handlerCount,
		Topics:       topics,
	}
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
		return nil
	}
	if t.cfg.URL == "" {
		t.cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(t.cfg.URL)
	if err != nil {
		return err
	}
	t.conn = conn
	t.ownsConn = true
	return nil
}

func (t *Transport) subscribeLocked(topic string) error {
	if _, exists := t.subs[topic]; exists {
		return nil
	}
	subject := t.subjectName(topic)
	sub, err := t.conn.Subscribe(subject, t.handleMessage(topic))
	if err != nil {
		return err
	}
	t.subs[topic] = sub
	return nil
}

func (t *Transport) handleMessage(defaultTopic string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		decoded, err := unmarshalMessage(msg.Data)
		if err != nil {
			t.logger.Warn(context.Background(), "decode nats message failed", logging.Error(err))
			return
		}
		if decoded.GetType() == "" {
			if m, ok := decoded.(*bus.Message); ok {
				m.Type = defaultTopic
			}
		}
		t.dispatch(context.Background(), decoded)
	}
}

func (t *Transport) dispatch(ctx context.Context, message bus.IMessage) {
	t.mu.RLock()
	exact := t.handlers[message.GetType()]
	wildcard := t.handlers["*"]
	handlers := make([]bus.IMessageHandler, 0, len(exact)+len(wildcard))
	handlers = append(handlers, exact...)
	handlers = append(handlers, wildcard...)
	t.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("topic", message.GetType()), logging.Error(err))
		}
	}
}

// subjectName NATS subject 不允许空格，主题名做保守替换
func (t *Transport) subjectName(topic string) string {
	return t.cfg.SubjectPrefix + strings.ReplaceAll(topic, " ", "_")
}

func marshalMessage(msg bus.IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	metadata := msg.GetMetadata()
	if metadata == nil {
		metadata = make(map[string]any)
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireMessage{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  metadata,
	})
}

func unmarshalMessage(data []byte) (bus.IMessage, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, err
		}
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]any)
	}
	return &bus.Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp),
		Payload:   payload,
		Metadata:  wire.Metadata,
	}, nil
}

// wireMessage NATS 线上格式
type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata"`
}

// 接口断言
var _ bus.ITransport = (*Transport)(nil)
