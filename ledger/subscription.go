package ledger

import (
	"context"
	"encoding/json"

	"stockledger/bus"
	"stockledger/logging"
)

// QuantityChangedHandler 数量变更事件处理器
//
// 事件只是刷新提示，处理器应回读权威存储获取最新值
type QuantityChangedHandler func(ctx context.Context, event ChangeEventPayload)

// quantitySubscription 单个条目的变更订阅
//
// 结构体指针实现 bus.IMessageHandler，保证退订时按指针相等匹配
type quantitySubscription struct {
	itemID  int64
	handler QuantityChangedHandler
	logger  logging.Logger
}

func (s *quantitySubscription) Handle(ctx context.Context, message bus.IMessage) error {
	payload, ok := decodeChangeEvent(message.GetPayload())
	if !ok {
		s.logger.Warn(ctx, "unrecognized change event payload",
			logging.String("message_id", message.GetID()))
		return nil
	}
	// itemID <= 0 订阅全部条目
	if s.itemID > 0 && payload.ItemID != s.itemID {
		return nil
	}
	s.handler(ctx, payload)
	return nil
}

// OnQuantityChanged 订阅某个条目的数量变更；itemID <= 0 订阅全部条目
//
// 返回的函数用于退订。投递语义是尽力、至多一次：断开期间的事件
// 直接丢失，重连后调用方应通过 GetAvailableQuantity 对账
func (s *Service) OnQuantityChanged(itemID int64, handler QuantityChangedHandler) (func() error, error) {
	if s.notifier == nil {
		return nil, &LedgerError{Code: CodeInvalidInput, Message: "service has no notifier configured"}
	}

	sub := &quantitySubscription{itemID: itemID, handler: handler, logger: s.logger}
	if err := s.notifier.Subscribe(context.Background(), TopicQuantityChanged, sub); err != nil {
		return nil, err
	}

	unsubscribe := func() error {
		return s.notifier.Unsubscribe(context.Background(), TopicQuantityChanged, sub)
	}
	return unsubscribe, nil
}

// decodeChangeEvent 解码事件负载
//
// 进程内投递时负载是 ChangeEventPayload 本身；
// 经过 NATS/Redis 线上格式后会变成 map[string]any，两种形态都要接住
func decodeChangeEvent(payload any) (ChangeEventPayload, bool) {
	switch p := payload.(type) {
	case ChangeEventPayload:
		return p, true
	case *ChangeEventPayload:
		return *p, true
	case map[string]any:
		data, err := json.Marshal(p)
		if err != nil {
			return ChangeEventPayload{}, false
		}
		var event ChangeEventPayload
		if err := json.Unmarshal(data, &event); err != nil {
			return ChangeEventPayload{}, false
		}
		return event, true
	default:
		return ChangeEventPayload{}, false
	}
}
