package domain

import (
	"fmt"
	"sort"
)

// MaxLimit 額度上限，保證 balance - amount 不會溢位
const MaxLimit = 1<<53 - 1

// Client 客戶與額度，啟動時由設定檔載入，執行期間不變
type Client struct {
	ID    int64
	Limit int64
}

// Registry 客戶 ID 對應額度的唯讀表
type Registry struct {
	limits map[int64]int64
}

// DefaultClients 預設的五位客戶
func DefaultClients() map[int64]int64 {
	return map[int64]int64{
		1: 100000,
		2: 80000,
		3: 1000000,
		4: 10000000,
		5: 500000,
	}
}

// NewRegistry 建立 Registry，並檢查 ID 與額度
func NewRegistry(limits map[int64]int64) (*Registry, error) {
	copied := make(map[int64]int64, len(limits))
	for id, limit := range limits {
		if id <= 0 {
			return nil, fmt.Errorf("client id must be positive: %d", id)
		}
		if limit < 0 || limit > MaxLimit {
			return nil, fmt.Errorf("client %d: limit out of range: %d", id, limit)
		}
		copied[id] = limit
	}
	return &Registry{limits: copied}, nil
}

// LimitOf 查詢客戶額度，找不到回傳 false
func (r *Registry) LimitOf(clientID int64) (int64, bool) {
	limit, ok := r.limits[clientID]
	return limit, ok
}

// Clients 依 ID 排序回傳所有客戶
func (r *Registry) Clients() []Client {
	clients := make([]Client, 0, len(r.limits))
	for id, limit := range r.limits {
		clients = append(clients, Client{ID: id, Limit: limit})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients
}
