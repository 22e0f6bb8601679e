package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/breaker"
	memory_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/postgres"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/internal/config"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/postgres"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// closers 依建立的相反順序釋放資源
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// buildLedger 依設定建立帳本並同步客戶表
//
// 回傳的 closers 在服務結束時呼叫 (即使回傳錯誤也要呼叫)
func buildLedger(ctx context.Context, cfg *config.Config, clients []domain.Client, log *zap.Logger) (usecase.Ledger, closers, error) {
	var cleanup closers

	var ledger usecase.Ledger
	switch cfg.Storage.Backend {
	case config.BackendMemoryMutex, config.BackendMemoryLMAX:
		walFile, err := openWAL(cfg.Storage.WALPath)
		if err != nil {
			return nil, cleanup, err
		}
		if walFile != nil {
			cleanup.add(func() {
				if err := walFile.Close(); err != nil {
					log.Warn("close wal failed", zap.Error(err))
				}
			})
		}

		if cfg.Storage.Backend == config.BackendMemoryMutex {
			mutexLedger, err := memory_adapter.NewMutexLedger(clients, walFile)
			if err != nil {
				return nil, cleanup, fmt.Errorf("init mutex ledger: %w", err)
			}
			ledger = mutexLedger
			break
		}

		lmaxLedger, err := memory_adapter.NewLMAXLedger(clients, walFile)
		if err != nil {
			return nil, cleanup, fmt.Errorf("init lmax ledger: %w", err)
		}
		// 核心迴圈的生命週期獨立於請求，關閉時先停迴圈再關 WAL
		runCtx, cancel := context.WithCancel(context.Background())
		lmaxLedger.Start(runCtx)
		cleanup.add(func() {
			cancel()
			lmaxLedger.Wait()
		})
		ledger = lmaxLedger

	case config.BackendMySQL:
		dbClient, err := mysql.NewClient(ctx, cfg.MySQL, log)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup.add(func() { _ = dbClient.Close() })
		ledger = withBreaker(mysql_adapter.NewMySQLLedger(dbClient), cfg.Breaker, log)

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup.add(func() { _ = db.Close() })
		ledger = withBreaker(postgres_adapter.NewPostgresLedger(db), cfg.Breaker, log)

	default:
		return nil, cleanup, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if err := ledger.Seed(ctx, clients); err != nil {
		return nil, cleanup, fmt.Errorf("seed clients: %w", err)
	}
	log.Info("ledger ready",
		zap.String("backend", string(cfg.Storage.Backend)),
		zap.Int("clients", len(clients)))
	return ledger, cleanup, nil
}

func openWAL(path string) (*wal.WAL, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	return wal.NewWAL(path)
}

func withBreaker(ledger usecase.Ledger, cfg breaker.Config, log *zap.Logger) usecase.Ledger {
	if !cfg.Enabled {
		return ledger
	}
	return breaker.New(ledger, cfg, log)
}
