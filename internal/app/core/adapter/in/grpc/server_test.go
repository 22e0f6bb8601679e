package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	grpcpool "github.com/JoeShih716/go-credit-ledger/pkg/grpc"
)

func newTestClient(t *testing.T) (*LedgerServiceClient, *grpc.ClientConn) {
	t.Helper()
	registry, err := domain.NewRegistry(map[int64]int64{1: 100000, 2: 80000})
	require.NoError(t, err)
	ledger, err := memory.NewMutexLedger(registry.Clients(), nil)
	require.NoError(t, err)
	core, err := usecase.NewCoreUseCase(registry, ledger)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zap.NewNop())))
	NewGrpcServer(core).Register(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	pool := grpcpool.NewPool(grpcpool.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	t.Cleanup(func() { _ = pool.Close() })
	conn, err := pool.GetConnection("passthrough:///bufnet")
	require.NoError(t, err)
	return NewLedgerServiceClient(conn), conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGrpcServer_SubmitAndStatement(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	resp, err := client.SubmitTransaction(ctx, mustStruct(t, map[string]any{
		"client_id": 1, "amount": 1000, "kind": "c", "description": "salary",
	}))
	require.NoError(t, err)
	assert.Equal(t, float64(100000), resp.AsMap()["limit"])
	assert.Equal(t, float64(1000), resp.AsMap()["balance"])

	_, err = client.SubmitTransaction(ctx, mustStruct(t, map[string]any{
		"client_id": 1, "amount": 300, "kind": "d", "description": "coffee",
	}))
	require.NoError(t, err)

	stmt, err := client.GetStatement(ctx, mustStruct(t, map[string]any{"client_id": 1}))
	require.NoError(t, err)

	fields := stmt.AsMap()
	balance := fields["balance"].(map[string]any)
	assert.Equal(t, float64(700), balance["total"])
	assert.Equal(t, float64(100000), balance["limit"])
	assert.NotEmpty(t, balance["statement_date"])

	entries := fields["last_transactions"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"amount": float64(300), "kind": "d", "description": "coffee"}, entries[0])
}

func TestGrpcServer_EmptyStatement(t *testing.T) {
	client, _ := newTestClient(t)

	stmt, err := client.GetStatement(context.Background(), mustStruct(t, map[string]any{"client_id": 2}))
	require.NoError(t, err)
	assert.Equal(t, []any{}, stmt.AsMap()["last_transactions"])
}

func TestGrpcServer_ErrorCodes(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{"unknown client", map[string]any{"client_id": 6, "amount": 1, "kind": "c", "description": "x"}, codes.NotFound},
		{"fractional client", map[string]any{"client_id": 1.5, "amount": 1, "kind": "c", "description": "x"}, codes.NotFound},
		{"missing client", map[string]any{"amount": 1, "kind": "c", "description": "x"}, codes.InvalidArgument},
		{"bad ref id", map[string]any{"client_id": 1, "amount": 1, "kind": "c", "description": "x", "ref_id": "nope"}, codes.InvalidArgument},
		{"fractional amount", map[string]any{"client_id": 1, "amount": 1.5, "kind": "c", "description": "x"}, codes.InvalidArgument},
		{"long description", map[string]any{"client_id": 1, "amount": 1, "kind": "c", "description": "12345678901"}, codes.InvalidArgument},
		{"limit exceeded", map[string]any{"client_id": 2, "amount": 80001, "kind": "d", "description": "x"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.SubmitTransaction(ctx, mustStruct(t, tt.req))
			assert.Equal(t, tt.code, status.Code(err))
		})
	}

	_, err := client.GetStatement(ctx, mustStruct(t, map[string]any{"client_id": 9}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGrpcServer_RefIDReplay(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	req := mustStruct(t, map[string]any{
		"client_id": 2, "amount": 50, "kind": "c", "description": "once", "ref_id": uuid.NewString(),
	})

	first, err := client.SubmitTransaction(ctx, req)
	require.NoError(t, err)
	second, err := client.SubmitTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.AsMap(), second.AsMap())

	stmt, err := client.GetStatement(ctx, mustStruct(t, map[string]any{"client_id": 2}))
	require.NoError(t, err)
	assert.Len(t, stmt.AsMap()["last_transactions"], 1)
}

func TestGrpcServer_Health(t *testing.T) {
	_, conn := newTestClient(t)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestToStatus_HidesStorageDetail(t *testing.T) {
	err := toStatus(domain.AsStorageError(assert.AnError))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.NotContains(t, err.Error(), assert.AnError.Error())
}
