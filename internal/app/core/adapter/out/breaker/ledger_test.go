package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
)

type stubLedger struct {
	applyErr error
	calls    int
}

func (s *stubLedger) ApplyTransaction(_ context.Context, _ *domain.Transaction) (domain.Balance, error) {
	s.calls++
	if s.applyErr != nil {
		return domain.Balance{}, s.applyErr
	}
	return domain.Balance{Limit: 10, Balance: 5, Sequence: 1}, nil
}

func (s *stubLedger) ReadStatement(_ context.Context, clientID int64, _ int) (*domain.StatementSnapshot, error) {
	s.calls++
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return &domain.StatementSnapshot{Limit: 10, Balance: clientID}, nil
}

func (s *stubLedger) Seed(context.Context, []domain.Client) error {
	return nil
}

func newTestBreaker(next *stubLedger) *Ledger {
	return New(next, Config{
		Enabled:             true,
		ConsecutiveFailures: 2,
		Timeout:             time.Hour,
	}, zap.NewNop())
}

func TestLedger_PassesThrough(t *testing.T) {
	next := &stubLedger{}
	l := newTestBreaker(next)

	bal, err := l.ApplyTransaction(context.Background(), &domain.Transaction{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal.Balance)

	snap, err := l.ReadStatement(context.Background(), 3, domain.StatementSize)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Balance)
}

func TestLedger_OutcomesDoNotTrip(t *testing.T) {
	next := &stubLedger{applyErr: domain.ErrLimitExceeded}
	l := newTestBreaker(next)

	for i := 0; i < 5; i++ {
		_, err := l.ApplyTransaction(context.Background(), &domain.Transaction{})
		assert.ErrorIs(t, err, domain.ErrLimitExceeded)
		assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
	}
	assert.Equal(t, gobreaker.StateClosed, l.State())
	assert.Equal(t, 5, next.calls)
}

func TestLedger_StorageFailuresTrip(t *testing.T) {
	next := &stubLedger{applyErr: errors.New("connection refused")}
	l := newTestBreaker(next)

	for i := 0; i < 2; i++ {
		_, err := l.ApplyTransaction(context.Background(), &domain.Transaction{})
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, l.State())

	// 開啟後不再呼叫底層
	_, err := l.ReadStatement(context.Background(), 1, domain.StatementSize)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, next.calls)
}

func TestLedger_CanceledCallerDoesNotTrip(t *testing.T) {
	next := &stubLedger{applyErr: context.Canceled}
	l := newTestBreaker(next)

	for i := 0; i < 3; i++ {
		_, err := l.ApplyTransaction(context.Background(), &domain.Transaction{})
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	}
	assert.Equal(t, gobreaker.StateClosed, l.State())
}
