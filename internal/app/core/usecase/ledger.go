package usecase

import (
	"context"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// Ledger 是帳務儲存層的介面
//
// 同一客戶的 ApplyTransaction 必須可序列化 (餘額檢查與寫入為同一個原子單位)，
// 不同客戶之間不得互相阻塞。
type Ledger interface {
	// ApplyTransaction 原子地檢查額度、更新餘額並追加交易紀錄
	// 會填入 tran 的 Sequence / CreatedAt / BalanceAfter
	ApplyTransaction(ctx context.Context, tran *domain.Transaction) (domain.Balance, error)
	// ReadStatement 讀出一致的餘額與最近 limit 筆交易 (由新到舊)
	ReadStatement(ctx context.Context, clientID int64, limit int) (*domain.StatementSnapshot, error)
	// Seed 啟動時建立缺少的帳戶 (餘額 0)，並同步設定檔中的額度
	Seed(ctx context.Context, clients []domain.Client) error
}

// EventPublisher 交易提交後的事件發佈
type EventPublisher interface {
	Publish(ctx context.Context, evt *domain.TransactionApplied) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *domain.TransactionApplied) error { return nil }
