package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

var (
	selectAccount      = regexp.QuoteMeta("SELECT * FROM `accounts` WHERE id = ?")
	selectTransactions = regexp.QuoteMeta("SELECT * FROM `transactions` WHERE account_id = ?")
	updateAccount      = regexp.QuoteMeta("UPDATE `accounts` SET")
	insertTransaction  = regexp.QuoteMeta("INSERT INTO `transactions`")
)

var accountColumns = []string{"id", "limit_amount", "balance", "version", "updated_at"}

var transactionColumns = []string{
	"id", "account_id", "sequence", "ref_id", "amount", "kind", "description", "balance_after", "created_at",
}

func newTestLedger(t *testing.T) (*MySQLLedger, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger := NewMySQLLedger(mysql.Wrap(gdb))
	ledger.now = func() time.Time { return now }
	return ledger, mock, now
}

func TestMySQLLedger_ApplyTransaction_Commits(t *testing.T) {
	ledger, mock, now := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount + ".*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, 0, 0, now.Add(-time.Hour)))
	mock.ExpectExec(updateAccount).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTransaction).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tran := &domain.Transaction{ClientID: 1, Amount: 1000, Kind: domain.KindDebit, Description: "rent"}
	bal, err := ledger.ApplyTransaction(context.Background(), tran)
	require.NoError(t, err)

	assert.Equal(t, domain.Balance{Limit: 1000, Balance: -1000, Sequence: 1}, bal)
	assert.Equal(t, uint64(1), tran.Sequence)
	assert.Equal(t, now, tran.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ApplyTransaction_LimitExceededRollsBack(t *testing.T) {
	ledger, mock, now := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, -500, 3, now))
	mock.ExpectRollback()

	_, err := ledger.ApplyTransaction(context.Background(),
		&domain.Transaction{ClientID: 1, Amount: 501, Kind: domain.KindDebit, Description: "x"})
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ApplyTransaction_UnknownClient(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).WillReturnRows(sqlmock.NewRows(accountColumns))
	mock.ExpectRollback()

	_, err := ledger.ApplyTransaction(context.Background(),
		&domain.Transaction{ClientID: 9, Amount: 1, Kind: domain.KindCredit, Description: "x"})
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ApplyTransaction_ReplayReturnsPriorBalance(t *testing.T) {
	ledger, mock, now := newTestLedger(t)
	ref := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, 700, 2, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `transactions` WHERE account_id = ? AND ref_id = ?")).
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(10, 1, 1, ref[:], 500, "c", "salary", 500, now))
	mock.ExpectCommit()

	bal, err := ledger.ApplyTransaction(context.Background(),
		&domain.Transaction{ClientID: 1, Amount: 500, Kind: domain.KindCredit, Description: "salary", RefID: ref})
	require.NoError(t, err)
	assert.True(t, bal.Replayed)
	assert.Equal(t, int64(500), bal.Balance)
	assert.Equal(t, uint64(1), bal.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ApplyTransaction_InsertFailureIsStorageError(t *testing.T) {
	ledger, mock, now := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, 0, 0, now))
	mock.ExpectExec(updateAccount).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTransaction).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := ledger.ApplyTransaction(context.Background(),
		&domain.Transaction{ClientID: 1, Amount: 10, Kind: domain.KindCredit, Description: "x"})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ApplyTransaction_BeginFailure(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := ledger.ApplyTransaction(context.Background(),
		&domain.Transaction{ClientID: 1, Amount: 10, Kind: domain.KindCredit, Description: "x"})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestMySQLLedger_ReadStatement(t *testing.T) {
	ledger, mock, now := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, -9098, 2, now))
	mock.ExpectQuery(selectTransactions + ".*ORDER BY sequence DESC").
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(2, 1, 2, nil, 10000, "d", "rent", -9098, now).
			AddRow(1, 1, 1, nil, 902, "c", "salary", 902, now.Add(-time.Minute)))
	mock.ExpectCommit()

	snap, err := ledger.ReadStatement(context.Background(), 1, domain.StatementSize)
	require.NoError(t, err)

	assert.Equal(t, int64(-9098), snap.Balance)
	assert.Equal(t, int64(1000), snap.Limit)
	assert.Equal(t, now, snap.SnapshotAt)
	require.Len(t, snap.Transactions, 2)
	assert.Equal(t, domain.KindDebit, snap.Transactions[0].Kind)
	assert.Equal(t, "rent", snap.Transactions[0].Description)
	assert.Equal(t, domain.KindCredit, snap.Transactions[1].Kind)
	assert.Equal(t, uuid.Nil, snap.Transactions[1].RefID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLLedger_ReadStatement_UnknownKindIsLeftForCaller(t *testing.T) {
	ledger, mock, now := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow(1, 1000, 5, 1, now))
	mock.ExpectQuery(selectTransactions).
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow(1, 1, 1, nil, 5, "x", "bad", 5, now))
	mock.ExpectCommit()

	snap, err := ledger.ReadStatement(context.Background(), 1, domain.StatementSize)
	require.NoError(t, err)
	require.Len(t, snap.Transactions, 1)
	assert.Error(t, snap.Transactions[0].Validate())
}

func TestMySQLLedger_ReadStatement_UnknownClient(t *testing.T) {
	ledger, mock, _ := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectAccount).WillReturnRows(sqlmock.NewRows(accountColumns))
	mock.ExpectRollback()

	_, err := ledger.ReadStatement(context.Background(), 42, domain.StatementSize)
	assert.ErrorIs(t, err, domain.ErrClientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
