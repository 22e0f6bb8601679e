package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

// LedgerService gRPC 層需要的核心操作
type LedgerService interface {
	SubmitTransaction(ctx context.Context, clientID int64, req usecase.TransactionRequest) (*usecase.ClientDTO, error)
	BuildStatement(ctx context.Context, clientID int64) (*usecase.StatementDTO, error)
}

type GrpcServer struct {
	core   LedgerService
	health *health.Server
}

func NewGrpcServer(core LedgerService) *GrpcServer {
	return &GrpcServer{
		core:   core,
		health: health.NewServer(),
	}
}

// Register 註冊帳務服務、標準健康檢查與 reflection
func (s *GrpcServer) Register(server *grpc.Server) {
	RegisterLedgerServiceServer(server, s)
	healthpb.RegisterHealthServer(server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(server) // 方便 grpcurl / Postman 測試
}

// Shutdown 關閉前將健康狀態設為 NOT_SERVING
func (s *GrpcServer) Shutdown() {
	s.health.Shutdown()
}

func (s *GrpcServer) SubmitTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.AsMap()

	// 1. 客戶 ID
	clientID, err := parseClientID(fields)
	if err != nil {
		return nil, toStatus(err)
	}

	// 2. 冪等鍵 (選填)
	txReq := usecase.TransactionRequest{
		Amount:      fields["amount"],
		Kind:        fields["kind"],
		Description: fields["description"],
	}
	if raw, ok := fields["ref_id"]; ok && raw != nil {
		text, _ := raw.(string)
		ref, err := uuid.Parse(text)
		if err != nil {
			return nil, toStatus(fmt.Errorf("%w: ref_id: %w", domain.ErrMalformedRequest, err))
		}
		txReq.RefID = ref
	}

	// 3. 執行交易
	dto, err := s.core.SubmitTransaction(ctx, clientID, txReq)
	if err != nil {
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"limit":   dto.Limit,
		"balance": dto.Balance,
	})
}

func (s *GrpcServer) GetStatement(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	clientID, err := parseClientID(req.AsMap())
	if err != nil {
		return nil, toStatus(err)
	}

	stmt, err := s.core.BuildStatement(ctx, clientID)
	if err != nil {
		return nil, toStatus(err)
	}

	entries := make([]any, 0, len(stmt.LastTransactions))
	for _, e := range stmt.LastTransactions {
		entries = append(entries, map[string]any{
			"amount":      e.Amount,
			"kind":        e.Kind,
			"description": e.Description,
		})
	}
	return structpb.NewStruct(map[string]any{
		"balance": map[string]any{
			"total":          stmt.Total,
			"statement_date": stmt.StatementDate,
			"limit":          stmt.Limit,
		},
		"last_transactions": entries,
	})
}

// parseClientID Struct 的數字都是 float64，非整數視為不存在的客戶
func parseClientID(fields map[string]any) (int64, error) {
	v, ok := fields["client_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: client_id must be a number", domain.ErrMalformedRequest)
	}
	if v != math.Trunc(v) || math.Abs(v) > domain.MaxLimit {
		return 0, domain.ErrClientNotFound
	}
	return int64(v), nil
}

// toStatus 錯誤種類對應 gRPC 狀態碼，儲存層細節不外露
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrClientNotFound):
		return status.Error(codes.NotFound, "client not found")
	case errors.Is(err, domain.ErrMalformedRequest),
		errors.Is(err, domain.ErrInvalidTransaction):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrBalanceOverflow):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		return status.Error(codes.Unavailable, "storage unavailable")
	}
	return status.Error(codes.Internal, "internal error")
}

// UnaryLoggingInterceptor 每個 RPC 一筆存取紀錄
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		if code == codes.Unavailable || code == codes.Internal {
			logger.Error("grpc request failed", fields...)
		} else {
			logger.Info("grpc request", fields...)
		}
		return resp, err
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
