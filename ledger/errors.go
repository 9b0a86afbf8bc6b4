package ledger

import (
	"errors"
	"fmt"
)

// LedgerError 台账错误基类，携带错误码便于上层映射
type LedgerError struct {
	Code    string
	Message string
	Cause   error
}

func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LedgerError) Unwrap() error { return e.Cause }

// 错误码常量，同时作为 MovementResult.ErrorKind 的取值
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeItemNotFound      = "ITEM_NOT_FOUND"
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeContended         = "CONTENDED"
	CodeStorageFailure    = "STORAGE_FAILURE"
)

// InvalidInputError 非法输入（数量非正或方向非法），属调用方错误，不重试
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Message)
}

// ItemNotFoundError 条目不存在或引用已失效
type ItemNotFoundError struct {
	ItemID int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %d not found", e.ItemID)
}

// InsufficientStockError 库存不足的业务拒绝，携带可用/请求数量
//
// 说明：
//   - 这是业务错误的最终形态，不包裹下层错误，不实现 Unwrap；
//   - 调用方通过 errors.As 识别并据此向用户展示精确原因；
//   - Available == 0 时 NoStock 为 true，对应"无库存"这一独立拒绝理由
type InsufficientStockError struct {
	ItemID    int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	if e.NoStock() {
		return fmt.Sprintf("item %d has no stock (requested %d)", e.ItemID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for item %d: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

// NoStock 当前库存为零
func (e *InsufficientStockError) NoStock() bool { return e.Available == 0 }

// ContendedError 重试预算内未能获得排他更新权
type ContendedError struct {
	ItemID   int64
	Attempts int
}

func (e *ContendedError) Error() string {
	return fmt.Sprintf("contended update on item %d after %d attempts", e.ItemID, e.Attempts)
}

// NewStorageError 包装底层持久化错误，视为瞬时可重试
func NewStorageError(message string, cause error) *LedgerError {
	return &LedgerError{Code: CodeStorageFailure, Message: message, Cause: cause}
}

// ErrorKindOf 将错误映射为错误码；nil 返回空串，未识别的错误归为存储失败
func ErrorKindOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		invalidErr      *InvalidInputError
		notFoundErr     *ItemNotFoundError
		insufficientErr *InsufficientStockError
		contendedErr    *ContendedError
		ledgerErr       *LedgerError
	)
	switch {
	case errors.As(err, &invalidErr):
		return CodeInvalidInput
	case errors.As(err, &notFoundErr):
		return CodeItemNotFound
	case errors.As(err, &insufficientErr):
		return CodeInsufficientStock
	case errors.As(err, &contendedErr):
		return CodeContended
	case errors.As(err, &ledgerErr):
		return ledgerErr.Code
	default:
		return CodeStorageFailure
	}
}
