package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpc_adapter "github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/in/grpc"
	grpcpool "github.com/JoeShih716/go-credit-ledger/pkg/grpc"
)

// 壓測工具: 對同一個客戶並發送出存款/扣款，最後比對對帳單餘額
func main() {
	var (
		target      string
		clientID    int64
		total       int
		concurrency int
		amount      int64
		withRef     bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:          "test_rpc_client",
		Short:        "Load test the ledger gRPC service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, cmd, target, clientID, total, concurrency, amount, withRef)
		},
	}
	cmd.Flags().StringVar(&target, "target", "localhost:50051", "gRPC server address")
	cmd.Flags().Int64Var(&clientID, "client", 1, "client id")
	cmd.Flags().IntVar(&total, "total", 100000, "number of transactions")
	cmd.Flags().IntVar(&concurrency, "concurrency", 200, "concurrent in-flight requests")
	cmd.Flags().Int64Var(&amount, "amount", 1, "amount per transaction")
	cmd.Flags().BoolVar(&withRef, "ref", false, "send a ref_id with every transaction")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cobra.Command, target string, clientID int64, total, concurrency int, amount int64, withRef bool) error {
	pool := grpcpool.NewPool()
	defer pool.Close()

	conn, err := pool.GetConnection(target)
	if err != nil {
		return err
	}
	client := grpc_adapter.NewLedgerServiceClient(conn)

	before, err := statementTotal(ctx, client, clientID)
	if err != nil {
		return err
	}

	var (
		wg       sync.WaitGroup
		applied  atomic.Int64 // 成功套用的淨額
		ok       atomic.Int64
		rejected atomic.Int64
		failed   atomic.Int64
	)
	sem := make(chan struct{}, concurrency)
	start := time.Now()

	for i := 0; i < total; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			kind, delta := "c", amount
			if idx%2 == 1 {
				kind, delta = "d", -amount
			}
			fields := map[string]any{
				"client_id":   clientID,
				"amount":      amount,
				"kind":        kind,
				"description": "load",
			}
			if withRef {
				fields["ref_id"] = uuid.NewString()
			}
			req, err := structpb.NewStruct(fields)
			if err != nil {
				failed.Add(1)
				return
			}

			_, err = client.SubmitTransaction(ctx, req)
			switch status.Code(err) {
			case codes.OK:
				ok.Add(1)
				applied.Add(delta)
			case codes.FailedPrecondition:
				rejected.Add(1)
			default:
				failed.Add(1)
				if idx%10000 == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "transaction %d failed: %v\n", idx, err)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	after, err := statementTotal(ctx, client, clientID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Completed %d requests in %v\n", total, elapsed)
	fmt.Fprintf(out, "TPS: %.2f\n", float64(total)/elapsed.Seconds())
	fmt.Fprintf(out, "ok=%d rejected=%d failed=%d\n", ok.Load(), rejected.Load(), failed.Load())
	fmt.Fprintf(out, "balance before=%d after=%d expected=%d\n", before, after, before+applied.Load())
	if failed.Load() == 0 && after != before+applied.Load() {
		return fmt.Errorf("balance mismatch: got %d, want %d", after, before+applied.Load())
	}
	return nil
}

func statementTotal(ctx context.Context, client *grpc_adapter.LedgerServiceClient, clientID int64) (int64, error) {
	req, err := structpb.NewStruct(map[string]any{"client_id": clientID})
	if err != nil {
		return 0, err
	}
	resp, err := client.GetStatement(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("get statement: %w", err)
	}
	balance, _ := resp.AsMap()["balance"].(map[string]any)
	total, _ := balance["total"].(float64)
	return int64(total), nil
}
