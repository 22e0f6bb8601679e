// Package http 以 fiber 提供帳務的 HTTP 介面
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// LedgerService HTTP 層需要的核心操作
type LedgerService interface {
	HasClient(clientID int64) bool
	SubmitTransaction(ctx context.Context, clientID int64, req usecase.TransactionRequest) (*usecase.ClientDTO, error)
	BuildStatement(ctx context.Context, clientID int64) (*usecase.StatementDTO, error)
}

// Server 封裝 fiber.App
type Server struct {
	app    *fiber.App
	core   LedgerService
	logger *zap.Logger
}

// NewServer 建立 HTTP 伺服器並註冊路由
//
// 參數:
//
//	core: 核心業務邏輯
//	logger: 存取紀錄與錯誤使用的 logger
func NewServer(core LedgerService, logger *zap.Logger) *Server {
	s := &Server{
		core:   core,
		logger: logger,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "credit-ledger",
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(requestID())
	s.app.Use(accessLog(logger))

	s.app.Get("/health", s.health)
	s.app.Get("/healthz", s.health)
	s.app.Get("/clients/:id/statement", s.getStatement)
	s.app.Post("/clients/:id/transactions", s.postTransaction)
	return s
}

// App 回傳底層 fiber.App (測試用 app.Test)
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen 阻塞直到伺服器關閉
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown 停止接收新連線並等待進行中的請求
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
