package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`
	LimitAmount int64 `gorm:"column:limit_amount"`
	Balance     int64
	Version     uint64
	// 不使用 UpdatedAt 欄位名稱，避免 GORM 自動覆寫時間
	LastModified time.Time `gorm:"column:updated_at"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

func (a *sqlAccount) toDomain() *domain.Account {
	return &domain.Account{
		ID:        a.ID,
		Limit:     a.LimitAmount,
		Balance:   a.Balance,
		Version:   a.Version,
		UpdatedAt: a.LastModified,
	}
}

// sqlTransaction 對應資料庫的 transactions 表 (append-only)
type sqlTransaction struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	AccountID    int64  `gorm:"uniqueIndex:idx_account_sequence,priority:1;uniqueIndex:idx_account_ref,priority:1"`
	Sequence     uint64 `gorm:"uniqueIndex:idx_account_sequence,priority:2"`
	RefID        []byte `gorm:"column:ref_id;type:binary(16);uniqueIndex:idx_account_ref,priority:2"` // 對應 domain.Transaction.RefID，NULL 表示沒有
	Amount       int64
	Kind         string `gorm:"type:char(1)"`
	Description  string `gorm:"size:64"`
	BalanceAfter int64
	CommittedAt  time.Time `gorm:"column:created_at"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

func fromDomain(tran *domain.Transaction) *sqlTransaction {
	rec := &sqlTransaction{
		AccountID:    tran.ClientID,
		Sequence:     tran.Sequence,
		Amount:       tran.Amount,
		Kind:         tran.Kind.Code(),
		Description:  tran.Description,
		BalanceAfter: tran.BalanceAfter,
		CommittedAt:  tran.CreatedAt,
	}
	if tran.RefID != uuid.Nil {
		rec.RefID = tran.RefID[:]
	}
	return rec
}

// toDomain 讀回的紀錄不在這裡驗證，壞資料交給對帳單組裝時處理
func (t *sqlTransaction) toDomain() domain.Transaction {
	kind, _ := domain.ParseKind(t.Kind)
	tran := domain.Transaction{
		Sequence:     t.Sequence,
		ClientID:     t.AccountID,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    t.CommittedAt,
		Description:  t.Description,
		Kind:         kind,
	}
	if ref, err := uuid.FromBytes(t.RefID); err == nil {
		tran.RefID = ref
	}
	return tran
}

// MySQLLedger Level 0: 以資料庫列鎖 (SELECT ... FOR UPDATE) 序列化同一帳戶
type MySQLLedger struct {
	client *mysql.Client
	now    func() time.Time
}

func NewMySQLLedger(client *mysql.Client) *MySQLLedger {
	return &MySQLLedger{
		client: client,
		now:    time.Now,
	}
}

// Seed 建立資料表並補上缺少的帳戶，已存在的帳戶只更新額度
func (ledger *MySQLLedger) Seed(ctx context.Context, clients []domain.Client) error {
	db := ledger.client.DB().WithContext(ctx)
	if err := db.AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return domain.AsStorageError(err)
	}
	if len(clients) == 0 {
		return nil
	}
	rows := make([]sqlAccount, 0, len(clients))
	for _, c := range clients {
		rows = append(rows, sqlAccount{ID: c.ID, LimitAmount: c.Limit, LastModified: ledger.now()})
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit_amount"}),
	}).Create(&rows).Error
	return domain.AsStorageError(err)
}

// ApplyTransaction 在單一資料庫交易中: 鎖定帳戶列 -> 檢查額度 -> 更新餘額 -> 新增交易紀錄
// 任何一步失敗都會 Rollback
func (ledger *MySQLLedger) ApplyTransaction(ctx context.Context, tran *domain.Transaction) (domain.Balance, error) {
	var result domain.Balance
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 取得帳戶列的悲觀鎖，同帳戶的其他交易會在這裡等待
		var row sqlAccount
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tran.ClientID).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrClientNotFound
			}
			return err
		}

		// 冪等鍵: 持有列鎖後才查，同一個鍵的並發請求不會都通過
		if tran.RefID != uuid.Nil {
			var prior sqlTransaction
			err := tx.Where("account_id = ? AND ref_id = ?", tran.ClientID, tran.RefID[:]).Take(&prior).Error
			if err == nil {
				result = domain.Balance{
					Limit:    row.LimitAmount,
					Balance:  prior.BalanceAfter,
					Sequence: prior.Sequence,
					Replayed: true,
				}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		acc := row.toDomain()
		if err := acc.Prepare(tran, ledger.now()); err != nil {
			return err
		}

		if err := tx.Model(&sqlAccount{}).
			Where("id = ?", tran.ClientID).
			Updates(map[string]any{
				"balance":    tran.BalanceAfter,
				"version":    tran.Sequence,
				"updated_at": tran.CreatedAt,
			}).Error; err != nil {
			return err
		}
		if err := tx.Create(fromDomain(tran)).Error; err != nil {
			return err
		}

		acc.Commit(tran)
		result = acc.Snapshot()
		return nil
	})
	if err != nil {
		return domain.Balance{}, domain.AsStorageError(err)
	}
	return result, nil
}

// ReadStatement 以唯讀 REPEATABLE READ 交易讀取，餘額與交易紀錄來自同一個快照
func (ledger *MySQLLedger) ReadStatement(ctx context.Context, clientID int64, limit int) (*domain.StatementSnapshot, error) {
	var snap *domain.StatementSnapshot
	err := ledger.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row sqlAccount
		if err := tx.Where("id = ?", clientID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrClientNotFound
			}
			return err
		}

		var rows []sqlTransaction
		if err := tx.Where("account_id = ?", clientID).
			Order("sequence DESC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}

		snap = &domain.StatementSnapshot{
			Balance:      row.Balance,
			Limit:        row.LimitAmount,
			SnapshotAt:   ledger.now(),
			Transactions: make([]domain.Transaction, 0, len(rows)),
		}
		for i := range rows {
			snap.Transactions = append(snap.Transactions, rows[i].toDomain())
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, domain.AsStorageError(err)
	}
	return snap, nil
}

var _ usecase.Ledger = (*MySQLLedger)(nil)
