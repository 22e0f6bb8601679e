package mysql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 連線 MySQL，資料庫尚未就緒時 (例如 docker compose 同時啟動) 依設定重試
//
// 參數:
//
//	ctx: 取消時停止重試
//	cfg: 連線配置
//	log: 重試訊息使用的 logger
//
// 回傳值:
//
//	*Client: 可用的客戶端
//	error: 重試用盡或 ctx 結束
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectRetries; attempt++ {
		db, err := open(ctx, cfg)
		if err == nil {
			return &Client{db: db}, nil
		}
		lastErr = err
		if attempt == cfg.ConnectRetries {
			break
		}

		log.Warn("mysql not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.ConnectRetries),
			zap.Duration("retry_in", cfg.RetryInterval),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", cfg.ConnectRetries, lastErr)
}

// open 開一次連線並設定連線池，Ping 失敗時釋放資源
func open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		// 帳務寫入一律明確使用 Transaction
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	// 連線池耗盡時請求會排隊，等待上限由呼叫端的 context 決定
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// Wrap 以既有的 *gorm.DB 建立 Client (測試用)
func Wrap(db *gorm.DB) *Client {
	return &Client{db: db}
}

// DB 回傳底層的 *gorm.DB，供 adapter 使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newLogger GORM 的 SQL log 等級: silent / error (預設) / warn / info
func newLogger(level string) logger.Interface {
	levels := map[string]logger.LogLevel{
		"silent": logger.Silent,
		"error":  logger.Error,
		"warn":   logger.Warn,
		"info":   logger.Info,
	}
	lv, ok := levels[level]
	if !ok {
		lv = logger.Error
	}
	return logger.Default.LogMode(lv)
}
