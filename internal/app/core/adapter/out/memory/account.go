package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

const (
	// DefaultIdempotencyWindow 每個帳戶記住的冪等鍵數量
	DefaultIdempotencyWindow = 10000
	// keepHistory 記憶體中每個帳戶保留的最近交易筆數，完整紀錄在 WAL
	keepHistory = 1000
)

// Option 設定記憶體帳本
type Option func(*options)

type options struct {
	now       func() time.Time
	refWindow int
}

// WithClock 替換時間來源 (測試用)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIdempotencyWindow 每個帳戶最多記住 n 個冪等鍵，超過時淘汰最舊的
// 被淘汰的鍵再送一次會被當成新交易
func WithIdempotencyWindow(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.refWindow = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, refWindow: DefaultIdempotencyWindow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// accountBook 單一客戶的帳戶狀態、最近交易與已處理的冪等鍵
// 呼叫端負責同步
type accountBook struct {
	account   domain.Account
	history   []domain.Transaction
	processed map[uuid.UUID]domain.Balance
	// refs 依套用順序排列的冪等鍵 (環狀)，next 為下一個要淘汰的位置
	refs      []uuid.UUID
	next      int
	refWindow int
}

func newAccountBook(c domain.Client, o options) *accountBook {
	return &accountBook{
		account:   *domain.NewAccount(c.ID, c.Limit),
		processed: make(map[uuid.UUID]domain.Balance),
		refWindow: o.refWindow,
	}
}

// replayed 冪等鍵命中時回傳先前結果
func (b *accountBook) replayed(ref uuid.UUID) (domain.Balance, bool) {
	if ref == uuid.Nil {
		return domain.Balance{}, false
	}
	bal, ok := b.processed[ref]
	if ok {
		bal.Replayed = true
	}
	return bal, ok
}

// commit 套用已 Prepare 並已寫入 WAL 的交易
func (b *accountBook) commit(tran *domain.Transaction) domain.Balance {
	b.account.Commit(tran)
	b.history = append(b.history, *tran)
	if len(b.history) >= 2*keepHistory {
		b.history = append([]domain.Transaction(nil), b.history[len(b.history)-keepHistory:]...)
	}
	bal := b.account.Snapshot()
	if tran.RefID != uuid.Nil {
		b.remember(tran.RefID, bal)
	}
	return bal
}

func (b *accountBook) remember(ref uuid.UUID, bal domain.Balance) {
	if len(b.refs) < b.refWindow {
		b.refs = append(b.refs, ref)
	} else {
		delete(b.processed, b.refs[b.next])
		b.refs[b.next] = ref
		b.next = (b.next + 1) % len(b.refs)
	}
	b.processed[ref] = bal
}

// statement 由新到舊複製最近 limit 筆
func (b *accountBook) statement(limit int, now time.Time) *domain.StatementSnapshot {
	n := len(b.history)
	if limit < n {
		n = limit
	}
	recent := make([]domain.Transaction, 0, n)
	for i := len(b.history) - 1; i >= len(b.history)-n; i-- {
		recent = append(recent, b.history[i])
	}
	return &domain.StatementSnapshot{
		Balance:      b.account.Balance,
		Limit:        b.account.Limit,
		SnapshotAt:   now,
		Transactions: recent,
	}
}

// recoverBooks 從 WAL 檔案恢復帳本狀態 (單執行緒，無需 Lock)
//
// 參數:
//
//	w: Write-Ahead Log 實例 (可為 nil)
//	books: 已建立的帳戶
//
// 回傳:
//
//	error: 恢復過程錯誤 (WAL 損毀、未知客戶、順序號不連續)
func recoverBooks(w *wal.WAL, books map[int64]*accountBook) error {
	if w == nil {
		return nil
	}
	return w.ReadAll(func(raw json.RawMessage) error {
		var tran domain.Transaction
		if err := json.Unmarshal(raw, &tran); err != nil {
			return err
		}
		book, ok := books[tran.ClientID]
		if !ok {
			return fmt.Errorf("client %d: %w", tran.ClientID, domain.ErrClientNotFound)
		}
		if tran.Sequence != book.account.Version+1 {
			return fmt.Errorf("client %d: sequence %d after %d", tran.ClientID, tran.Sequence, book.account.Version)
		}
		book.commit(&tran)
		return nil
	})
}

// claim 帳戶的獨佔權，可被 context 取消 (sync.Mutex 做不到)
type claim chan struct{}

func newClaim() claim {
	return make(claim, 1)
}

func (c claim) acquire(ctx context.Context) error {
	select {
	case c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for account: %w", domain.ErrStorageUnavailable, ctx.Err())
	}
}

func (c claim) release() {
	<-c
}
