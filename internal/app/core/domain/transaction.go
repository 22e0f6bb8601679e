package domain

import (
	"time"

	"github.com/google/uuid"
)

// Kind 交易方向
// 為了節省記憶體，使用 uint8
type Kind uint8

const (
	// 存入 (餘額增加)
	KindCredit Kind = 1
	// 扣款 (餘額減少)
	KindDebit Kind = 2
)

// 對外 (HTTP / gRPC / 資料庫) 使用的代碼
const (
	CodeCredit = "c"
	CodeDebit  = "d"
)

// Code 回傳對外代碼 "c" / "d"，未知類型回傳空字串
func (k Kind) Code() string {
	switch k {
	case KindCredit:
		return CodeCredit
	case KindDebit:
		return CodeDebit
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case KindCredit:
		return "credit"
	case KindDebit:
		return "debit"
	}
	return "unknown"
}

// ParseKind 將對外代碼轉回 Kind
func ParseKind(code string) (Kind, bool) {
	switch code {
	case CodeCredit:
		return KindCredit, true
	case CodeDebit:
		return KindDebit, true
	}
	return 0, false
}

// Transaction 交易紀錄，寫入後不可修改 (append-only)
// 注意欄位排序以避免 Padding
type Transaction struct {
	// Sequence: 帳戶內的順序號，等於套用此筆交易後的帳戶版本 (1, 2, 3...)
	Sequence uint64
	// ClientID: 所屬客戶
	ClientID int64
	// Amount: 金額 (最小貨幣單位，必為正數)
	Amount int64
	// BalanceAfter: 套用後的餘額，重放時直接回傳
	BalanceAfter int64
	// CreatedAt: 提交時間，同一客戶內單調不遞減
	CreatedAt time.Time
	// Description: 1~10 個字元
	Description string
	// RefID: 冪等鍵 (選填)，uuid.Nil 表示沒有
	RefID uuid.UUID
	// Kind: 放到最後面，利用 Padding 空間
	Kind Kind
}

// Validate 檢查紀錄本身是否完整，用於讀取時發現壞資料
func (t *Transaction) Validate() error {
	if t.Kind.Code() == "" {
		return invalid("kind", "is unknown")
	}
	if t.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	return validateDescription(t.Description)
}
