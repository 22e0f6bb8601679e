package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionApplied 交易提交後發出的事件
type TransactionApplied struct {
	ClientID    int64     `json:"client_id"`
	Sequence    uint64    `json:"sequence"`
	Amount      int64     `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	Balance     int64     `json:"balance"`
	Limit       int64     `json:"limit"`
	RefID       string    `json:"ref_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewTransactionApplied 由已提交的交易建立事件
func NewTransactionApplied(tran *Transaction, limit int64) *TransactionApplied {
	evt := &TransactionApplied{
		ClientID:    tran.ClientID,
		Sequence:    tran.Sequence,
		Amount:      tran.Amount,
		Kind:        tran.Kind.Code(),
		Description: tran.Description,
		Balance:     tran.BalanceAfter,
		Limit:       limit,
		OccurredAt:  tran.CreatedAt,
	}
	if tran.RefID != uuid.Nil {
		evt.RefID = tran.RefID.String()
	}
	return evt
}
