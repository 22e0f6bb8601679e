package domain

import "time"

// StatementSize 對帳單顯示的最近交易筆數
const StatementSize = 10

// StatementTimeLayout 對帳單時間格式 (UTC, 微秒)
const StatementTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Balance 套用交易後的帳戶狀態
type Balance struct {
	Limit    int64
	Balance  int64
	Sequence uint64
	// Replayed 為 true 表示冪等鍵命中，回傳的是先前的結果
	Replayed bool
}

// StatementSnapshot 儲存層在同一時間點讀出的餘額與交易紀錄
type StatementSnapshot struct {
	Balance    int64
	Limit      int64
	SnapshotAt time.Time
	// Transactions 由新到舊
	Transactions []Transaction
}
