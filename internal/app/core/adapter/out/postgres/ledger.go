// Package postgres 以 PostgreSQL 實作帳本，同一帳戶的交易由列鎖序列化
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

//go:embed schema.sql
var schema string

const (
	lockAccountQuery = `SELECT limit_amount, balance, version, updated_at FROM accounts WHERE id = $1 FOR UPDATE`
	readAccountQuery = `SELECT limit_amount, balance FROM accounts WHERE id = $1`
	findRefQuery     = `SELECT sequence, balance_after FROM transactions WHERE account_id = $1 AND ref_id = $2`
	updateAccountSQL = `UPDATE accounts SET balance = $2, version = $3, updated_at = $4 WHERE id = $1`
	insertTranSQL    = `INSERT INTO transactions (account_id, sequence, ref_id, amount, kind, description, balance_after, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	recentTranQuery = `SELECT sequence, ref_id, amount, kind, description, balance_after, created_at
	FROM transactions WHERE account_id = $1 ORDER BY sequence DESC LIMIT $2`
	upsertAccountSQL = `INSERT INTO accounts (id, limit_amount, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET limit_amount = EXCLUDED.limit_amount`
)

type PostgresLedger struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db:  db,
		now: time.Now,
	}
}

// Seed 建立資料表並 upsert 客戶額度
func (p *PostgresLedger) Seed(ctx context.Context, clients []domain.Client) (err error) {
	if _, err = p.db.ExecContext(ctx, schema); err != nil {
		return domain.AsStorageError(err)
	}

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.AsStorageError(err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
			err = domain.AsStorageError(err)
		}
	}()

	for _, c := range clients {
		if _, err = dbTx.ExecContext(ctx, upsertAccountSQL, c.ID, c.Limit, p.now().UTC()); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

// ApplyTransaction 鎖定帳戶列後檢查額度，餘額更新與交易紀錄寫入在同一個資料庫交易
func (p *PostgresLedger) ApplyTransaction(ctx context.Context, tran *domain.Transaction) (bal domain.Balance, err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Balance{}, domain.AsStorageError(err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
			bal = domain.Balance{}
			err = domain.AsStorageError(err)
		}
	}()

	acc := domain.NewAccount(tran.ClientID, 0)
	err = dbTx.QueryRowContext(ctx, lockAccountQuery, tran.ClientID).
		Scan(&acc.Limit, &acc.Balance, &acc.Version, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Balance{}, domain.ErrClientNotFound
	}
	if err != nil {
		return domain.Balance{}, err
	}

	if tran.RefID != uuid.Nil {
		var prior domain.Balance
		err = dbTx.QueryRowContext(ctx, findRefQuery, tran.ClientID, tran.RefID).
			Scan(&prior.Sequence, &prior.Balance)
		switch {
		case err == nil:
			prior.Limit = acc.Limit
			prior.Replayed = true
			return prior, dbTx.Commit()
		case !errors.Is(err, sql.ErrNoRows):
			return domain.Balance{}, err
		}
		err = nil
	}

	if err = acc.Prepare(tran, p.now().UTC()); err != nil {
		return domain.Balance{}, err
	}

	if _, err = dbTx.ExecContext(ctx, updateAccountSQL,
		tran.ClientID, tran.BalanceAfter, int64(tran.Sequence), tran.CreatedAt); err != nil {
		return domain.Balance{}, err
	}
	ref := uuid.NullUUID{UUID: tran.RefID, Valid: tran.RefID != uuid.Nil}
	if _, err = dbTx.ExecContext(ctx, insertTranSQL,
		tran.ClientID, int64(tran.Sequence), ref, tran.Amount, tran.Kind.Code(),
		tran.Description, tran.BalanceAfter, tran.CreatedAt); err != nil {
		return domain.Balance{}, err
	}
	if err = dbTx.Commit(); err != nil {
		return domain.Balance{}, err
	}

	acc.Commit(tran)
	return acc.Snapshot(), nil
}

// ReadStatement 唯讀 REPEATABLE READ 交易，餘額與最近交易來自同一個快照
func (p *PostgresLedger) ReadStatement(ctx context.Context, clientID int64, limit int) (snap *domain.StatementSnapshot, err error) {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, domain.AsStorageError(err)
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
			snap = nil
			err = domain.AsStorageError(err)
		}
	}()

	snap = &domain.StatementSnapshot{SnapshotAt: p.now().UTC()}
	err = dbTx.QueryRowContext(ctx, readAccountQuery, clientID).Scan(&snap.Limit, &snap.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := dbTx.QueryContext(ctx, recentTranQuery, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap.Transactions = make([]domain.Transaction, 0, limit)
	for rows.Next() {
		var (
			tran domain.Transaction
			ref  uuid.NullUUID
			kind string
		)
		if err = rows.Scan(&tran.Sequence, &ref, &tran.Amount, &kind,
			&tran.Description, &tran.BalanceAfter, &tran.CreatedAt); err != nil {
			return nil, err
		}
		// 無法辨識的 kind 保留為零值，由對帳單組裝時剔除
		tran.Kind, _ = domain.ParseKind(kind)
		tran.ClientID = clientID
		if ref.Valid {
			tran.RefID = ref.UUID
		}
		snap.Transactions = append(snap.Transactions, tran)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return snap, dbTx.Commit()
}

var _ usecase.Ledger = (*PostgresLedger)(nil)
