package batch

import (
	"context"
	"sync"

	"cartsentry/internal/model"
)

// MemorySnapshots 是 SnapshotSource 的内存实现。
//
// 促销/购买/库存列表的持久化归上层所有，批处理只消费快照，
// 内存实现足够支撑运维接口与测试。
type MemorySnapshots struct {
	mu        sync.RWMutex
	deals     []model.DealRecord
	purchases []model.PurchaseRecord
	inventory []model.InventoryItem
}

// NewMemorySnapshots 创建空的内存快照源。
func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{}
}

// SetDeals 整体替换促销列表。
func (m *MemorySnapshots) SetDeals(deals []model.DealRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals = append([]model.DealRecord(nil), deals...)
}

// AddDeal 追加一条促销。
func (m *MemorySnapshots) AddDeal(deal model.DealRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals = append(m.deals, deal)
}

// SetPurchases 整体替换购买记录。
func (m *MemorySnapshots) SetPurchases(purchases []model.PurchaseRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append([]model.PurchaseRecord(nil), purchases...)
}

// SetInventory 整体替换库存列表。
func (m *MemorySnapshots) SetInventory(items []model.InventoryItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inventory = append([]model.InventoryItem(nil), items...)
}

// ActiveDeals 实现 SnapshotSource。
func (m *MemorySnapshots) ActiveDeals(ctx context.Context) []model.DealRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DealRecord, 0, len(m.deals))
	for _, d := range m.deals {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out
}

// Purchases 实现 SnapshotSource。
func (m *MemorySnapshots) Purchases(ctx context.Context) []model.PurchaseRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.PurchaseRecord(nil), m.purchases...)
}

// Inventory 实现 SnapshotSource。
func (m *MemorySnapshots) Inventory(ctx context.Context) []model.InventoryItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.InventoryItem(nil), m.inventory...)
}
