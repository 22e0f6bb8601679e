package domain

import (
	"math"
	"time"
)

// Account 客戶帳戶的餘額狀態
type Account struct {
	ID      int64
	Limit   int64
	Balance int64
	// Version 每套用一筆交易加一，等於最後一筆交易的 Sequence
	Version   uint64
	UpdatedAt time.Time
}

func NewAccount(id int64, limit int64) *Account {
	return &Account{
		ID:    id,
		Limit: limit,
	}
}

// NextBalance 計算交易後的餘額，不修改帳戶
//
// 回傳:
//
//	int64: 交易後餘額
//	error: ErrLimitExceeded (扣款超過額度) / ErrBalanceOverflow (存款溢位)
func (a *Account) NextBalance(kind Kind, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("amount", "must be positive")
	}
	switch kind {
	case KindCredit:
		if a.Balance > 0 && amount > math.MaxInt64-a.Balance {
			return 0, ErrBalanceOverflow
		}
		return a.Balance + amount, nil
	case KindDebit:
		// Limit 與 amount 都有上限 (MaxLimit / MaxAmount)，這裡不會下溢
		candidate := a.Balance - amount
		if candidate < -a.Limit {
			return 0, ErrLimitExceeded
		}
		return candidate, nil
	}
	return 0, invalid("kind", "is unknown")
}

// Prepare 檢查額度並填入交易的 Sequence / CreatedAt / BalanceAfter，帳戶本身不變
// 呼叫端必須持有此帳戶的獨佔權，直到 Commit 或放棄
func (a *Account) Prepare(tran *Transaction, now time.Time) error {
	next, err := a.NextBalance(tran.Kind, tran.Amount)
	if err != nil {
		return err
	}
	if now.Before(a.UpdatedAt) {
		now = a.UpdatedAt
	}
	tran.ClientID = a.ID
	tran.Sequence = a.Version + 1
	tran.CreatedAt = now
	tran.BalanceAfter = next
	return nil
}

// Commit 將 Prepare 過的交易套用到帳戶
func (a *Account) Commit(tran *Transaction) {
	a.Balance = tran.BalanceAfter
	a.Version = tran.Sequence
	a.UpdatedAt = tran.CreatedAt
}

// Snapshot 回傳目前餘額資訊
func (a *Account) Snapshot() Balance {
	return Balance{
		Limit:    a.Limit,
		Balance:  a.Balance,
		Sequence: a.Version,
	}
}
