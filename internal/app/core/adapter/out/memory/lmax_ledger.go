package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// sequencerBuffer 每個客戶輸送帶的長度
const sequencerBuffer = 1000

// request 包裝請求，讓呼叫端可以等待結果
// tran 不為 nil 是交易；update 不為 nil 是設定變更；其餘為讀取對帳單
type request struct {
	ctx    context.Context
	tran   *domain.Transaction
	update func(*accountBook)
	limit  int
	// result 固定容量 1，核心迴圈寫入時不會阻塞
	result chan response
}

func (r *request) reset() {
	r.ctx = nil
	r.tran = nil
	r.update = nil
	r.limit = 0
}

type response struct {
	balance   domain.Balance
	statement *domain.StatementSnapshot
	err       error
}

// sequencer 單一客戶的輸送帶，book 只由它的核心迴圈修改
type sequencer struct {
	book *accountBook
	in   chan *request
}

// LMAXLedger 單一寫入者帳本 (Level 2)
//
// 每個客戶一條輸送帶 + 一個 goroutine，同客戶的請求依序處理，不同客戶互不等待。
type LMAXLedger struct {
	mu         sync.RWMutex
	sequencers map[int64]*sequencer
	// runCtx 為 nil 表示尚未 Start
	runCtx context.Context
	wg     sync.WaitGroup
	// Write-Ahead Logging
	wal  *wal.WAL
	opts options
	// Pool 減少 GC 壓力
	requestPool sync.Pool
}

// NewLMAXLedger 建立一個新的 LMAXLedger 實例，需呼叫 Start 才會開始處理
//
// 參數:
//
//	clients: 初始客戶
//	wal: Write-Ahead Log 實例，nil 表示不落地
//
// 回傳:
//
//	*LMAXLedger: LMAXLedger 實例
//	error: 初始化錯誤
func NewLMAXLedger(clients []domain.Client, w *wal.WAL, opts ...Option) (*LMAXLedger, error) {
	ledger := &LMAXLedger{
		sequencers: make(map[int64]*sequencer, len(clients)),
		wal:        w,
		opts:       newOptions(opts),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &request{result: make(chan response, 1)}
			},
		},
	}
	books := make(map[int64]*accountBook, len(clients))
	for _, c := range clients {
		seq := newSequencer(c, ledger.opts)
		ledger.sequencers[c.ID] = seq
		books[c.ID] = seq.book
	}
	// 在啟動前先恢復資料
	if err := recoverBooks(w, books); err != nil {
		return nil, fmt.Errorf("recover from wal: %w", err)
	}
	return ledger, nil
}

func newSequencer(c domain.Client, o options) *sequencer {
	return &sequencer{
		book: newAccountBook(c, o),
		in:   make(chan *request, sequencerBuffer),
	}
}

// Start 啟動所有核心迴圈 (非同步)
// ctx 結束時每個迴圈會先把輸送帶上剩下的請求處理完再離開
func (l *LMAXLedger) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.runCtx != nil {
		return
	}
	l.runCtx = ctx
	for _, seq := range l.sequencers {
		l.launch(seq)
	}
}

// Wait 等待所有核心迴圈結束
func (l *LMAXLedger) Wait() {
	l.wg.Wait()
}

// launch 呼叫端需持有 l.mu
func (l *LMAXLedger) launch(seq *sequencer) {
	ctx := l.runCtx
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx, seq)
	}()
}

// Seed 補上缺少的帳戶，已啟動時立刻開始新帳戶的迴圈
// 已存在帳戶的額度變更經由輸送帶套用，避免與處理中的交易競爭
func (l *LMAXLedger) Seed(ctx context.Context, clients []domain.Client) error {
	type limitUpdate struct {
		seq   *sequencer
		limit int64
	}
	var updates []limitUpdate

	l.mu.Lock()
	started := l.runCtx != nil
	for _, c := range clients {
		if seq, ok := l.sequencers[c.ID]; ok {
			updates = append(updates, limitUpdate{seq: seq, limit: c.Limit})
			continue
		}
		seq := newSequencer(c, l.opts)
		l.sequencers[c.ID] = seq
		if started {
			l.launch(seq)
		}
	}
	l.mu.Unlock()

	for _, u := range updates {
		limit := u.limit
		update := func(b *accountBook) { b.account.Limit = limit }
		if !started {
			update(u.seq.book)
			continue
		}
		req := l.requestPool.Get().(*request)
		req.ctx = ctx
		req.update = update
		resp, err := l.submit(ctx, u.seq, req)
		if err != nil {
			return err
		}
		if resp.err != nil {
			return resp.err
		}
	}
	return nil
}

func (l *LMAXLedger) sequencer(clientID int64) (*sequencer, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.sequencers[clientID]
	return seq, ok
}

// ApplyTransaction 接收交易請求
//
// ApplyTransaction(等待) -> Channel -> Run Loop (核心) -> WAL -> Book Update -> Result Channel -> ApplyTransaction(收到結果)
func (l *LMAXLedger) ApplyTransaction(ctx context.Context, tran *domain.Transaction) (domain.Balance, error) {
	seq, ok := l.sequencer(tran.ClientID)
	if !ok {
		return domain.Balance{}, domain.ErrClientNotFound
	}
	req := l.requestPool.Get().(*request)
	req.ctx = ctx
	req.tran = tran
	resp, err := l.submit(ctx, seq, req)
	if err != nil {
		return domain.Balance{}, err
	}
	return resp.balance, resp.err
}

// ReadStatement 讀取請求同樣經過輸送帶，與同客戶的寫入依序處理
func (l *LMAXLedger) ReadStatement(ctx context.Context, clientID int64, limit int) (*domain.StatementSnapshot, error) {
	seq, ok := l.sequencer(clientID)
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	req := l.requestPool.Get().(*request)
	req.ctx = ctx
	req.limit = limit
	resp, err := l.submit(ctx, seq, req)
	if err != nil {
		return nil, err
	}
	return resp.statement, resp.err
}

// submit 放入輸送帶並等待結果
// 呼叫端放棄等待的 request 不放回 Pool，迴圈之後仍可能寫入它的 result
func (l *LMAXLedger) submit(ctx context.Context, seq *sequencer, req *request) (response, error) {
	// 清空 Channel (理論上應該是空的)
	select {
	case <-req.result:
	default:
	}

	select {
	case seq.in <- req:
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: ledger queue full: %w", domain.ErrStorageUnavailable, ctx.Err())
	}

	select {
	case resp := <-req.result:
		req.reset()
		l.requestPool.Put(req)
		return resp, nil
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: waiting for ledger: %w", domain.ErrStorageUnavailable, ctx.Err())
	}
}

func (l *LMAXLedger) run(ctx context.Context, seq *sequencer) {
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			l.drain(seq)
			return
		case req := <-seq.in:
			l.process(seq.book, req)
		}
	}
}

func (l *LMAXLedger) drain(seq *sequencer) {
	for {
		select {
		case req := <-seq.in:
			l.process(seq.book, req)
		default:
			return
		}
	}
}

// process 處理單一請求並回傳結果
func (l *LMAXLedger) process(book *accountBook, req *request) {
	switch {
	case req.tran != nil:
		bal, err := l.apply(req.ctx, book, req.tran)
		req.result <- response{balance: bal, err: err}
	case req.update != nil:
		req.update(book)
		req.result <- response{}
	default:
		req.result <- response{statement: book.statement(req.limit, l.opts.now())}
	}
}

func (l *LMAXLedger) apply(ctx context.Context, book *accountBook, tran *domain.Transaction) (domain.Balance, error) {
	// 0. Idempotency Check (Thread Safe in Loop)
	if bal, ok := book.replayed(tran.RefID); ok {
		return bal, nil
	}

	// 呼叫端已放棄，不再套用
	if err := ctx.Err(); err != nil {
		return domain.Balance{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	// 1. 檢查額度
	if err := book.account.Prepare(tran, l.opts.now()); err != nil {
		return domain.Balance{}, err
	}

	// 2. 寫入 WAL (Critical Path)
	if l.wal != nil {
		if err := l.wal.Write(tran); err != nil {
			return domain.Balance{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		}
	}

	// 3. 套用
	return book.commit(tran), nil
}

var _ usecase.Ledger = (*LMAXLedger)(nil)
