package memory

import (
	"context"
	"fmt"
	"strings"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

// memTx stages writes on top of the committed maps. Only one memTx exists at
// a time (Store.writeMu), so the committed maps cannot change underneath it.
type memTx struct {
	s            *Store
	items        map[string]domain.InventoryItem
	transactions map[string]domain.InventoryTransaction
	losses       map[string]domain.InventoryLoss
	counts       map[string]domain.InventoryCount
	entries      map[string]domain.FinancialEntry
}

func newMemTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		items:        make(map[string]domain.InventoryItem),
		transactions: make(map[string]domain.InventoryTransaction),
		losses:       make(map[string]domain.InventoryLoss),
		counts:       make(map[string]domain.InventoryCount),
		entries:      make(map[string]domain.FinancialEntry),
	}
}

func (t *memTx) lookupItem(id string) (domain.InventoryItem, bool) {
	if item, ok := t.items[id]; ok {
		return item, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	item, ok := t.s.items[id]
	return item, ok
}

func (t *memTx) GetItemForUpdate(ctx context.Context, id string) (*domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, ok := t.lookupItem(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (t *memTx) skuTaken(sku string, exceptID string) bool {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return false
	}
	for id, item := range t.items {
		if id != exceptID && strings.EqualFold(item.SKU, sku) {
			return true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, item := range t.s.items {
		if id == exceptID {
			continue
		}
		if _, staged := t.items[id]; staged {
			continue
		}
		if strings.EqualFold(item.SKU, sku) {
			return true
		}
	}
	return false
}

func (t *memTx) CreateItem(_ context.Context, item domain.InventoryItem) error {
	if _, exists := t.lookupItem(item.ID); exists {
		return fmt.Errorf("%w: item %s", store.ErrDuplicate, item.ID)
	}
	if t.skuTaken(item.SKU, item.ID) {
		return fmt.Errorf("%w: sku %s", store.ErrDuplicate, item.SKU)
	}
	t.items[item.ID] = item
	return nil
}

func (t *memTx) UpdateItem(_ context.Context, item domain.InventoryItem) error {
	if _, exists := t.lookupItem(item.ID); !exists {
		return store.ErrNotFound
	}
	if t.skuTaken(item.SKU, item.ID) {
		return fmt.Errorf("%w: sku %s", store.ErrDuplicate, item.SKU)
	}
	t.items[item.ID] = item
	return nil
}

func (t *memTx) lookupTransaction(id string) (domain.InventoryTransaction, bool) {
	if txn, ok := t.transactions[id]; ok {
		return txn, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	txn, ok := t.s.transactions[id]
	return txn, ok
}

func (t *memTx) CreateTransaction(_ context.Context, txn domain.InventoryTransaction) error {
	if _, exists := t.lookupTransaction(txn.ID); exists {
		return fmt.Errorf("%w: transaction %s", store.ErrDuplicate, txn.ID)
	}
	t.transactions[txn.ID] = txn
	return nil
}

func (t *memTx) GetTransactionForUpdate(ctx context.Context, id string) (*domain.InventoryTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn, ok := t.lookupTransaction(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &txn, nil
}

func (t *memTx) UpdateTransaction(_ context.Context, txn domain.InventoryTransaction) error {
	if _, exists := t.lookupTransaction(txn.ID); !exists {
		return store.ErrNotFound
	}
	t.transactions[txn.ID] = txn
	return nil
}

func (t *memTx) lookupLoss(id string) (domain.InventoryLoss, bool) {
	if loss, ok := t.losses[id]; ok {
		return loss, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	loss, ok := t.s.losses[id]
	return loss, ok
}

func (t *memTx) CreateLoss(_ context.Context, loss domain.InventoryLoss) error {
	if _, exists := t.lookupLoss(loss.ID); exists {
		return fmt.Errorf("%w: loss %s", store.ErrDuplicate, loss.ID)
	}
	t.losses[loss.ID] = loss
	return nil
}

func (t *memTx) GetLossForUpdate(ctx context.Context, id string) (*domain.InventoryLoss, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loss, ok := t.lookupLoss(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loss, nil
}

func (t *memTx) UpdateLoss(_ context.Context, loss domain.InventoryLoss) error {
	if _, exists := t.lookupLoss(loss.ID); !exists {
		return store.ErrNotFound
	}
	t.losses[loss.ID] = loss
	return nil
}

func (t *memTx) lookupCount(id string) (domain.InventoryCount, bool) {
	if count, ok := t.counts[id]; ok {
		return cloneCount(count), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	count, ok := t.s.counts[id]
	if !ok {
		return domain.InventoryCount{}, false
	}
	return cloneCount(count), true
}

func (t *memTx) CreateCount(_ context.Context, count domain.InventoryCount) error {
	if _, exists := t.lookupCount(count.ID); exists {
		return fmt.Errorf("%w: count %s", store.ErrDuplicate, count.ID)
	}
	t.counts[count.ID] = cloneCount(count)
	return nil
}

func (t *memTx) GetCountForUpdate(ctx context.Context, id string) (*domain.InventoryCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	count, ok := t.lookupCount(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &count, nil
}

func (t *memTx) UpdateCount(_ context.Context, count domain.InventoryCount) error {
	if _, exists := t.lookupCount(count.ID); !exists {
		return store.ErrNotFound
	}
	t.counts[count.ID] = cloneCount(count)
	return nil
}

func (t *memTx) entryExists(id string, referenceID string, referenceType domain.ReferenceType) bool {
	match := func(entry domain.FinancialEntry) bool {
		return entry.ID == id || (entry.ReferenceID == referenceID && entry.ReferenceType == referenceType)
	}
	for _, entry := range t.entries {
		if match(entry) {
			return true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, entry := range t.s.entries {
		if match(entry) {
			return true
		}
	}
	return false
}

func (t *memTx) CreateFinancialEntry(ctx context.Context, entry domain.FinancialEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.entryExists(entry.ID, entry.ReferenceID, entry.ReferenceType) {
		return fmt.Errorf("%w: financial entry for %s %s", store.ErrDuplicate, entry.ReferenceType, entry.ReferenceID)
	}
	t.entries[entry.ID] = entry
	return nil
}
