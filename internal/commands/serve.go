package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/http"
	kafka_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/internal/buildinfo"
	"github.com/JoeShih716/go-credit-ledger/internal/config"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
)

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP (and optional gRPC) ledger server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file (empty for env + defaults only)")
	return cmd
}

// serve 組裝所有元件並阻塞到 ctx 結束或任一伺服器失敗
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting ledger", zap.String("version", buildinfo.String()))

	// 1. 客戶表
	registry, err := domain.NewRegistry(cfg.Clients)
	if err != nil {
		return err
	}

	// 2. 帳本 (Driven Adapter)
	ledger, cleanup, err := buildLedger(ctx, cfg, registry.Clients(), log)
	defer cleanup.run()
	if err != nil {
		return err
	}

	// 3. 事件發佈 (選用)
	opts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithStorageTimeout(cfg.Storage.Timeout),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka)
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("close kafka publisher failed", zap.Error(err))
			}
		}()
		opts = append(opts, usecase.WithPublisher(publisher))
		log.Info("publishing transaction events", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	// 4. UseCase
	core, err := usecase.NewCoreUseCase(registry, ledger, opts...)
	if err != nil {
		return err
	}

	// 5. Driving Adapters
	// gRPC 先佔好埠，失敗時還沒有任何伺服器在跑
	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	errCh := make(chan error, 2)

	httpServer := http_adapter.NewServer(core, log)
	go func() {
		log.Info("starting http server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.Listen(cfg.Server.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	var grpcHandler *grpc_adapter.GrpcServer
	if grpcLis != nil {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(log)))
		grpcHandler = grpc_adapter.NewGrpcServer(core)
		grpcHandler.Register(grpcServer)
		go func() {
			log.Info("starting grpc server", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	// 6. Graceful Shutdown
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed, shutting down", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcHandler.Shutdown()
		stopGRPC(shutdownCtx, grpcServer)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	log.Info("server exited")
	return serveErr
}

// stopGRPC 先嘗試 GracefulStop，逾時就強制 Stop
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
	}
}
