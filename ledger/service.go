package ledger

import (
	"context"

	"stockledger/bus"
	"stockledger/logging"
)

// SubmitRequest 移动提交请求
type SubmitRequest struct {
	ItemID    int64
	Quantity  int64
	Direction Direction

	Note        string
	SupplierRef string
	ActorRef    string

	// IdempotencyKey 幂等键；超时后重放同一请求携带同一个键，
	// 存储层据此去重，绝不双倍扣减
	IdempotencyKey string
}

// MovementResult 判别式提交结果
//
// 业务失败（库存不足、条目不存在、非法输入）不以 Go error 形式抛给
// 调用方，而是落在 ErrorKind/ErrorMessage 上，便于上层精确呈现原因
type MovementResult struct {
	Success      bool      `json:"success"`
	Movement     *Movement `json:"movement,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Service 面向调用方的台账服务
//
// 组合校验器、提交器、读侧门面与变更订阅，是上层应用
// 消费本内核的唯一入口
type Service struct {
	validator *Validator
	applier   *Applier
	reader    *Reader
	notifier  bus.INotifier
	logger    logging.Logger
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Validator *Validator
	Applier   *Applier
	Reader    *Reader
	Notifier  bus.INotifier // 可为 nil（订阅 API 不可用）
	Logger    logging.Logger
}

// NewService 创建台账服务
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithFields(logging.String("component", "ledger.service"))
	}
	return &Service{
		validator: cfg.Validator,
		applier:   cfg.Applier,
		reader:    cfg.Reader,
		notifier:  cfg.Notifier,
		logger:    logger,
	}
}

// ValidateMovement 咨询式预校验（用于表单实时反馈）
//
// 通过不代表提交一定成功，权威校验在提交时的原子单元内执行
func (s *Service) ValidateMovement(ctx context.Context, itemID int64, quantity int64, direction Direction) error {
	return s.validator.Validate(ctx, itemID, quantity, direction)
}

// SubmitMovement 提交一次库存移动
//
// 永不因业务拒绝返回失败以外的形态：结果总是判别式的
func (s *Service) SubmitMovement(ctx context.Context, req SubmitRequest) MovementResult {
	movement, err := s.applier.Apply(ctx, req.ItemID, req.Quantity, req.Direction, MovementMeta{
		Note:           req.Note,
		SupplierRef:    req.SupplierRef,
		ActorRef:       req.ActorRef,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		kind := ErrorKindOf(err)
		if kind == CodeStorageFailure || kind == CodeContended {
			s.logger.Error(ctx, "movement submission failed",
				logging.Int64("item_id", req.ItemID),
				logging.String("kind", kind),
				logging.Error(err))
		}
		return MovementResult{Success: false, ErrorKind: kind, ErrorMessage: err.Error()}
	}

	s.logger.Info(ctx, "movement committed",
		logging.Int64("item_id", req.ItemID),
		logging.String("movement_id", movement.ID),
		logging.String("direction", string(movement.Direction)),
		logging.Int64("quantity", movement.Quantity))
	return MovementResult{Success: true, Movement: movement}
}

// GetAvailableQuantity 读取条目当前可用数量（权威值）
//
// 无中间移动时连续两次调用返回同一个值
func (s *Service) GetAvailableQuantity(ctx context.Context, itemID int64) (int64, error) {
	return s.reader.CurrentQuantity(ctx, itemID)
}

// GetDerivedAggregate 读取派生聚合（缓存优先）
func (s *Service) GetDerivedAggregate(ctx context.Context, key string) (any, error) {
	return s.reader.DerivedAggregate(ctx, key)
}
