package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrClientNotFound 找不到客戶 (未在設定檔中)
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidTransaction 交易欄位不合法，實際原因見 InvalidTransactionError
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrLimitExceeded 扣款後餘額會低於 -limit
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrBalanceOverflow 存款後餘額超出 int64 範圍
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrStorageUnavailable 儲存層無法使用 (連線失敗、逾時、WAL 寫入失敗)
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrMalformedRequest 請求本身無法解析
	ErrMalformedRequest = errors.New("malformed request")
)

// InvalidTransactionError 描述交易驗證失敗的欄位與原因
type InvalidTransactionError struct {
	Field  string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
}

// Is 讓 errors.Is(err, ErrInvalidTransaction) 成立
func (e *InvalidTransactionError) Is(target error) bool {
	return target == ErrInvalidTransaction
}

func invalid(field, reason string) error {
	return &InvalidTransactionError{Field: field, Reason: reason}
}

// IsOutcome 判斷 err 是否為業務結果 (而非儲存層故障)
func IsOutcome(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrBalanceOverflow)
}

// AsStorageError 將非業務錯誤統一包成 ErrStorageUnavailable，業務錯誤原樣回傳
func AsStorageError(err error) error {
	if err == nil || IsOutcome(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
