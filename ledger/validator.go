package ledger

import (
	"context"
)

// Validator 移动提交前的咨询式校验
//
// 只读检查，用于给调用方（如表单实时反馈）提供快速、廉价的预判。
// 校验通过不代表提交一定成功：数量可能在校验与提交之间被并发修改，
// 权威检查由存储在提交的原子单元内再次执行
type Validator struct {
	store ILedgerStore
}

// NewValidator 创建校验器
func NewValidator(store ILedgerStore) *Validator {
	return &Validator{store: store}
}

// Validate 校验一次拟提交的移动是否可受理
//
// 规则:
//   - quantity 必须为正整数，direction 必须是 in 或 out
//   - 入库恒可受理（无上限）
//   - 出库要求 quantity <= 当前数量；当前数量为零时以"无库存"拒绝
//
// 业务拒绝以类型化错误值返回，绝不 panic；
// 条目不存在或存储故障属于基础设施错误，与业务拒绝是不同的错误类别
func (v *Validator) Validate(ctx context.Context, itemID int64, quantity int64, direction Direction) error {
	if err := checkInput(quantity, direction); err != nil {
		return err
	}
	if direction == DirectionIn {
		return nil
	}

	current, err := v.store.ReadQuantity(ctx, itemID)
	if err != nil {
		return err
	}
	if quantity > current {
		return &InsufficientStockError{ItemID: itemID, Available: current, Requested: quantity}
	}
	return nil
}

// checkInput 输入形参检查，校验器与提交路径共用同一守卫
func checkInput(quantity int64, direction Direction) error {
	if quantity <= 0 {
		return &InvalidInputError{Field: "quantity", Message: "must be a positive integer"}
	}
	if !direction.Valid() {
		return &InvalidInputError{Field: "direction", Message: `must be "in" or "out"`}
	}
	return nil
}
