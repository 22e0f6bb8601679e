package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

// DefaultStorageTimeout 儲存層操作的等待上限
const DefaultStorageTimeout = 2 * time.Second

// TransactionRequest 尚未驗證的交易請求 (欄位型別由傳輸層解碼決定)
type TransactionRequest struct {
	Amount      any
	Kind        any
	Description any
	// RefID 冪等鍵，uuid.Nil 表示不啟用
	RefID uuid.UUID
}

// ClientDTO 交易成功後回傳的額度與餘額 (不含客戶 ID)
type ClientDTO struct {
	Limit   int64
	Balance int64
}

// StatementDTO 對帳單
type StatementDTO struct {
	Total            int64
	Limit            int64
	StatementDate    string
	LastTransactions []StatementEntry
}

// StatementEntry 對帳單中的一筆交易，Kind 為對外代碼
type StatementEntry struct {
	Amount      int64
	Kind        string
	Description string
}

// CoreUseCase 是核心業務邏輯層
type CoreUseCase struct {
	registry       *domain.Registry
	ledger         Ledger
	publisher      EventPublisher
	logger         *zap.Logger
	meterProvider  metric.MeterProvider
	metrics        *metrics
	storageTimeout time.Duration
}

// Option 設定 CoreUseCase
type Option func(*CoreUseCase)

// WithPublisher 設定事件發佈者
func WithPublisher(p EventPublisher) Option {
	return func(c *CoreUseCase) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLogger 設定 logger
func WithLogger(l *zap.Logger) Option {
	return func(c *CoreUseCase) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeterProvider 設定 metrics 來源，預設使用 otel 全域設定
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *CoreUseCase) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

// WithStorageTimeout 設定儲存層等待上限
func WithStorageTimeout(d time.Duration) Option {
	return func(c *CoreUseCase) {
		if d > 0 {
			c.storageTimeout = d
		}
	}
}

func NewCoreUseCase(registry *domain.Registry, ledger Ledger, opts ...Option) (*CoreUseCase, error) {
	c := &CoreUseCase{
		registry:       registry,
		ledger:         ledger,
		publisher:      nopPublisher{},
		logger:         zap.NewNop(),
		meterProvider:  otel.GetMeterProvider(),
		storageTimeout: DefaultStorageTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	m, err := newMetrics(c.meterProvider)
	if err != nil {
		return nil, err
	}
	c.metrics = m
	return c, nil
}

// HasClient 客戶是否存在於設定中
func (c *CoreUseCase) HasClient(clientID int64) bool {
	_, ok := c.registry.LimitOf(clientID)
	return ok
}

// SubmitTransaction 處理交易
//
// 參數:
//
//	ctx: 上下文
//	clientID: 客戶 ID
//	req: 未驗證的交易內容
//
// 回傳:
//
//	*ClientDTO: 交易後的額度與餘額
//	error: ErrClientNotFound / ErrInvalidTransaction / ErrLimitExceeded / ErrBalanceOverflow / ErrStorageUnavailable
func (c *CoreUseCase) SubmitTransaction(ctx context.Context, clientID int64, req TransactionRequest) (*ClientDTO, error) {
	// 1. 客戶不存在就不碰儲存層
	limit, ok := c.registry.LimitOf(clientID)
	if !ok {
		c.metrics.reject(ctx, "client_not_found")
		return nil, domain.ErrClientNotFound
	}

	// 2. 驗證欄位
	input, err := domain.ValidateTransaction(req.Amount, req.Kind, req.Description)
	if err != nil {
		c.metrics.reject(ctx, "invalid")
		return nil, err
	}

	tran := &domain.Transaction{
		ClientID:    clientID,
		Amount:      input.Amount,
		Kind:        input.Kind,
		Description: input.Description,
		RefID:       req.RefID,
	}

	// 3. 原子套用，額度只在這裡檢查
	storeCtx, cancel := context.WithTimeout(ctx, c.storageTimeout)
	defer cancel()
	balance, err := c.ledger.ApplyTransaction(storeCtx, tran)
	if err != nil {
		err = domain.AsStorageError(err)
		c.metrics.reject(ctx, rejectReason(err))
		if errors.Is(err, domain.ErrStorageUnavailable) {
			c.logger.Error("apply transaction failed",
				zap.Int64("client_id", clientID),
				zap.Error(err))
		}
		return nil, err
	}

	if !balance.Replayed {
		c.metrics.applied.Add(ctx, 1)
		c.publish(ctx, domain.NewTransactionApplied(tran, limit))
	}

	// 4. 回傳額度與餘額
	return &ClientDTO{Limit: balance.Limit, Balance: balance.Balance}, nil
}

// BuildStatement 組出對帳單
//
// 格式錯誤的交易紀錄會被略過並記錄 (資料完整性事件)，不會讓整份對帳單失敗
func (c *CoreUseCase) BuildStatement(ctx context.Context, clientID int64) (*StatementDTO, error) {
	if _, ok := c.registry.LimitOf(clientID); !ok {
		return nil, domain.ErrClientNotFound
	}

	storeCtx, cancel := context.WithTimeout(ctx, c.storageTimeout)
	defer cancel()
	snap, err := c.ledger.ReadStatement(storeCtx, clientID, domain.StatementSize)
	if err != nil {
		err = domain.AsStorageError(err)
		if errors.Is(err, domain.ErrStorageUnavailable) {
			c.logger.Error("read statement failed",
				zap.Int64("client_id", clientID),
				zap.Error(err))
		}
		return nil, err
	}

	entries := make([]StatementEntry, 0, len(snap.Transactions))
	for i := range snap.Transactions {
		tran := &snap.Transactions[i]
		if err := tran.Validate(); err != nil {
			c.metrics.malformed.Add(ctx, 1)
			c.logger.Error("malformed ledger entry dropped from statement",
				zap.Int64("client_id", clientID),
				zap.Uint64("sequence", tran.Sequence),
				zap.Error(err))
			continue
		}
		entries = append(entries, StatementEntry{
			Amount:      tran.Amount,
			Kind:        tran.Kind.Code(),
			Description: tran.Description,
		})
	}

	return &StatementDTO{
		Total:            snap.Balance,
		Limit:            snap.Limit,
		StatementDate:    snap.SnapshotAt.UTC().Format(domain.StatementTimeLayout),
		LastTransactions: entries,
	}, nil
}

// publish 盡力發佈事件，失敗只記錄不影響交易結果
func (c *CoreUseCase) publish(ctx context.Context, evt *domain.TransactionApplied) {
	if err := c.publisher.Publish(ctx, evt); err != nil {
		c.metrics.publishFailures.Add(ctx, 1)
		c.logger.Warn("publish transaction event failed",
			zap.Int64("client_id", evt.ClientID),
			zap.Uint64("sequence", evt.Sequence),
			zap.Error(err))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrClientNotFound):
		return "client_not_found"
	case errors.Is(err, domain.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, domain.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, domain.ErrInvalidTransaction):
		return "invalid"
	}
	return "storage_unavailable"
}
