package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// mutexAccount 每個客戶各自的鎖
//
//	claim: 寫入者的獨佔權，涵蓋 檢查 -> WAL -> 套用 整段
//	mu: 保護 book，只在套用與讀取時短暫持有，讀取不必等 WAL fsync
type mutexAccount struct {
	claim claim
	mu    sync.RWMutex
	book  *accountBook
}

// MutexLedger 是一個使用 Mutex 實現的帳本 (每個客戶一把鎖)
//
// 結構:
//
//	accounts: 帳戶資料 Map，只在 Seed 時新增
//	mu: 保護 accounts Map 本身
//	wal: Write-Ahead Log 實例 (可為 nil)
type MutexLedger struct {
	accounts map[int64]*mutexAccount
	mu       sync.RWMutex
	// Write-Ahead Logging
	wal  *wal.WAL
	opts options
}

// NewMutexLedger 建立一個新的 MutexLedger 實例
//
// 參數:
//
//	clients: 初始客戶
//	wal: Write-Ahead Log 實例，nil 表示不落地
//
// 回傳:
//
//	*MutexLedger: MutexLedger 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexLedger(clients []domain.Client, w *wal.WAL, opts ...Option) (*MutexLedger, error) {
	ledger := &MutexLedger{
		accounts: make(map[int64]*mutexAccount, len(clients)),
		wal:      w,
		opts:     newOptions(opts),
	}
	books := make(map[int64]*accountBook, len(clients))
	for _, c := range clients {
		acc := &mutexAccount{claim: newClaim(), book: newAccountBook(c, ledger.opts)}
		ledger.accounts[c.ID] = acc
		books[c.ID] = acc.book
	}
	if err := recoverBooks(w, books); err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	return ledger, nil
}

// Seed 補上缺少的帳戶，已存在的帳戶更新額度
func (m *MutexLedger) Seed(ctx context.Context, clients []domain.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range clients {
		if acc, ok := m.accounts[c.ID]; ok {
			if err := acc.claim.acquire(ctx); err != nil {
				return err
			}
			acc.mu.Lock()
			acc.book.account.Limit = c.Limit
			acc.mu.Unlock()
			acc.claim.release()
			continue
		}
		m.accounts[c.ID] = &mutexAccount{claim: newClaim(), book: newAccountBook(c, m.opts)}
	}
	return nil
}

func (m *MutexLedger) account(clientID int64) (*mutexAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[clientID]
	return acc, ok
}

// ApplyTransaction 處理交易請求 (Level 1: 每個帳戶一把鎖)
//
// 參數:
//
//	ctx: 上下文，逾時則放棄等待帳戶鎖
//	tran: 交易請求物件
//
// 回傳:
//
//	domain.Balance: 交易後狀態
//	error: 處理錯誤
func (m *MutexLedger) ApplyTransaction(ctx context.Context, tran *domain.Transaction) (domain.Balance, error) {
	acc, ok := m.account(tran.ClientID)
	if !ok {
		return domain.Balance{}, domain.ErrClientNotFound
	}

	if err := acc.claim.acquire(ctx); err != nil {
		return domain.Balance{}, err
	}
	defer acc.claim.release()

	// 持有 claim 時只有自己會修改 book，讀取不需要 mu
	if bal, ok := acc.book.replayed(tran.RefID); ok {
		return bal, nil
	}

	// 1. 檢查額度 (不修改狀態)
	if err := acc.book.account.Prepare(tran, m.opts.now()); err != nil {
		return domain.Balance{}, err
	}

	// 還沒寫任何東西，此時放棄不留痕跡
	if err := ctx.Err(); err != nil {
		return domain.Balance{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	// 2. 寫入 WAL (Critical Path)
	if m.wal != nil {
		if err := m.wal.Write(tran); err != nil {
			return domain.Balance{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		}
	}

	// 3. 套用到記憶體
	acc.mu.Lock()
	bal := acc.book.commit(tran)
	acc.mu.Unlock()
	return bal, nil
}

// ReadStatement 讀取餘額與最近交易，只鎖單一帳戶
func (m *MutexLedger) ReadStatement(ctx context.Context, clientID int64, limit int) (*domain.StatementSnapshot, error) {
	acc, ok := m.account(clientID)
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	return acc.book.statement(limit, m.opts.now()), nil
}

var _ usecase.Ledger = (*MutexLedger)(nil)
