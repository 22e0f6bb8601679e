// Package breaker 在資料庫帳本外加一層熔斷器
//
// 資料庫連續故障時直接回傳 ErrStorageUnavailable，不再佔用連線池等待逾時。
// 業務結果 (額度不足、客戶不存在) 不算故障。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// Config 熔斷器設定
type Config struct {
	Enabled bool `yaml:"enabled"`
	// MaxRequests 半開狀態允許通過的試探請求數
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval 關閉狀態下計數歸零的週期
	Interval time.Duration `yaml:"interval"`
	// Timeout 開啟後多久轉為半開
	Timeout time.Duration `yaml:"timeout"`
	// ConsecutiveFailures 連續失敗幾次後開啟
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
}

// ApplyDefaults 補全未設定的參數
func (c *Config) ApplyDefaults() {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
}

// Ledger 以熔斷器包裝另一個 usecase.Ledger
type Ledger struct {
	next    usecase.Ledger
	breaker *gobreaker.CircuitBreaker
}

func New(next usecase.Ledger, cfg Config, log *zap.Logger) *Ledger {
	cfg.ApplyDefaults()
	settings := gobreaker.Settings{
		Name:        "ledger-storage",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Ledger{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// isSuccessful 只有儲存層故障才計入失敗；呼叫端自行取消也不算
func isSuccessful(err error) bool {
	return err == nil ||
		domain.IsOutcome(err) ||
		errors.Is(err, context.Canceled)
}

// State 目前的熔斷器狀態
func (l *Ledger) State() gobreaker.State {
	return l.breaker.State()
}

func (l *Ledger) ApplyTransaction(ctx context.Context, tran *domain.Transaction) (domain.Balance, error) {
	res, err := l.breaker.Execute(func() (any, error) {
		return l.next.ApplyTransaction(ctx, tran)
	})
	if err != nil {
		return domain.Balance{}, translate(err)
	}
	return res.(domain.Balance), nil
}

func (l *Ledger) ReadStatement(ctx context.Context, clientID int64, limit int) (*domain.StatementSnapshot, error) {
	res, err := l.breaker.Execute(func() (any, error) {
		return l.next.ReadStatement(ctx, clientID, limit)
	})
	if err != nil {
		return nil, translate(err)
	}
	return res.(*domain.StatementSnapshot), nil
}

// Seed 啟動時執行，不經過熔斷器
func (l *Ledger) Seed(ctx context.Context, clients []domain.Client) error {
	return l.next.Seed(ctx, clients)
}

func translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return domain.AsStorageError(err)
}

var _ usecase.Ledger = (*Ledger)(nil)
