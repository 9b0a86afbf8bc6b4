package bus

import (
	"context"
	"time"
)

// 中间件在元数据中传播的字段名
const (
	// KeyCorrelationID 关联ID，用于把一次提交引发的事件串到同一条链路
	KeyCorrelationID = "correlation_id"

	// KeyPublishedAt 事件进入传输层前的发布时刻
	KeyPublishedAt = "published_at"
)

// correlationKey Context 中关联ID的键类型
type correlationKey struct{}

// WithCorrelationID 将关联ID放入 Context，供发布路径上的中间件读取
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationKey{}, correlationID)
}

// CorrelationIDFromContext 从 Context 读取关联ID
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok && id != ""
}

// TracingMiddleware 在发布前为消息补全链路元数据
//
// 规则：
//   - correlation_id 缺失时优先从 Context 继承，仍缺失则兜底为消息ID
//   - published_at 总是盖上发布时刻
type TracingMiddleware struct{}

// NewTracingMiddleware 创建链路中间件
func NewTracingMiddleware() *TracingMiddleware { return &TracingMiddleware{} }

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}
	md := message.GetMetadata()

	if v, ok := md[KeyCorrelationID].(string); !ok || v == "" {
		if ctxCorr, ok := CorrelationIDFromContext(ctx); ok {
			md[KeyCorrelationID] = ctxCorr
		} else {
			md[KeyCorrelationID] = message.GetID()
		}
	}
	md[KeyPublishedAt] = time.Now().UTC().Format(time.RFC3339Nano)

	return next(ctx, message)
}

// 接口断言
var _ IMiddleware = (*TracingMiddleware)(nil)
