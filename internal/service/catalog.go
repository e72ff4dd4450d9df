package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

func validateThresholds(minimum, reorder, maximum, cost decimal.Decimal) error {
	for name, value := range map[string]decimal.Decimal{
		"minimum_stock": minimum,
		"reorder_point": reorder,
		"maximum_stock": maximum,
		"cost_per_unit": cost,
	} {
		if value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", store.ErrValidation, name)
		}
		if err := checkScale(name, value); err != nil {
			return err
		}
	}
	if maximum.IsPositive() && minimum.GreaterThan(maximum) {
		return fmt.Errorf("%w: minimum_stock must not exceed maximum_stock", store.ErrValidation)
	}
	return nil
}

func duplicateSKU(err error, sku string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: sku %q already exists", store.ErrValidation, sku)
	}
	return err
}

// CreateItem registers an item. A positive initial stock is booked as an
// approved INITIAL transaction together with the item.
func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.TrimSpace(req.SKU)
	if req.Name == "" {
		return domain.InventoryItem{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if err := validateThresholds(req.MinimumStock, req.ReorderPoint, req.MaximumStock, req.CostPerUnit); err != nil {
		return domain.InventoryItem{}, err
	}
	if req.InitialStock != nil && req.InitialStock.IsNegative() {
		return domain.InventoryItem{}, fmt.Errorf("%w: initial_stock must not be negative", store.ErrValidation)
	}

	now := s.now()
	item := domain.InventoryItem{
		ID:           xid.New("item"),
		Name:         req.Name,
		SKU:          req.SKU,
		Barcode:      strings.TrimSpace(req.Barcode),
		Description:  strings.TrimSpace(req.Description),
		CategoryID:   strings.TrimSpace(req.CategoryID),
		UnitID:       strings.TrimSpace(req.UnitID),
		MinimumStock: req.MinimumStock,
		ReorderPoint: req.ReorderPoint,
		MaximumStock: req.MaximumStock,
		CurrentStock: decimal.Zero,
		CostPerUnit:  req.CostPerUnit,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	item.Revalue()

	createdBy := actorName(ctx, "")
	var alert *domain.ReorderAlert
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateItem(ctx, item); err != nil {
			return duplicateSKU(err, item.SKU)
		}
		if req.InitialStock == nil || !req.InitialStock.IsPositive() {
			return nil
		}

		txn, err := s.newTransaction(item, domain.TransactionCreateRequest{
			ItemID:   item.ID,
			Type:     domain.TxInitial,
			Quantity: *req.InitialStock,
			Notes:    "opening stock",
		}, createdBy, now)
		if err != nil {
			return err
		}
		alert, err = s.applyTransaction(ctx, tx, &txn, &item, domain.SystemActor, now)
		if err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	if alert != nil {
		s.notifyReorder(ctx, []domain.ReorderAlert{*alert})
	}
	s.logAudit(ctx, "item.create", "inventory_item", item.ID,
		fmt.Sprintf("sku=%s stock=%s cost=%s", item.SKU, item.CurrentStock, item.CostPerUnit))
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.ItemSummary, error) {
	filter.Limit = normalizeLimit(filter.Limit)
	items, err := s.repo.ListItems(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := make([]domain.ItemSummary, 0, len(items))
	for _, item := range items {
		result = append(result, domain.ItemSummary{
			ID:           item.ID,
			Name:         item.Name,
			SKU:          item.SKU,
			CategoryID:   item.CategoryID,
			UnitID:       item.UnitID,
			CurrentStock: item.CurrentStock,
			ReorderPoint: item.ReorderPoint,
			CostPerUnit:  item.CostPerUnit,
			Value:        item.Value,
			LowStock:     item.LowStock(),
			Active:       item.Active,
		})
	}
	return result, nil
}

// UpdateItem patches catalog fields. Stock only moves through the ledger; a
// cost change revalues the current stock but leaves history alone.
func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	var updated domain.InventoryItem
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: name is required", store.ErrValidation)
			}
			item.Name = name
		}
		if req.SKU != nil {
			item.SKU = strings.TrimSpace(*req.SKU)
		}
		if req.Barcode != nil {
			item.Barcode = strings.TrimSpace(*req.Barcode)
		}
		if req.Description != nil {
			item.Description = strings.TrimSpace(*req.Description)
		}
		if req.CategoryID != nil {
			item.CategoryID = strings.TrimSpace(*req.CategoryID)
		}
		if req.UnitID != nil {
			item.UnitID = strings.TrimSpace(*req.UnitID)
		}
		if req.MinimumStock != nil {
			item.MinimumStock = *req.MinimumStock
		}
		if req.ReorderPoint != nil {
			item.ReorderPoint = *req.ReorderPoint
		}
		if req.MaximumStock != nil {
			item.MaximumStock = *req.MaximumStock
		}
		if req.CostPerUnit != nil {
			item.CostPerUnit = *req.CostPerUnit
		}
		if req.Active != nil {
			item.Active = *req.Active
		}
		if err := validateThresholds(item.MinimumStock, item.ReorderPoint, item.MaximumStock, item.CostPerUnit); err != nil {
			return err
		}

		item.Revalue()
		item.UpdatedAt = s.now()
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return duplicateSKU(err, item.SKU)
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	s.logAudit(ctx, "item.update", "inventory_item", updated.ID,
		fmt.Sprintf("cost=%s active=%t", updated.CostPerUnit, updated.Active))
	return updated, nil
}

// DeleteItem deactivates the item. Its ledger history stays intact.
func (s *Service) DeleteItem(ctx context.Context, id string) (domain.InventoryItem, error) {
	inactive := false
	item, err := s.UpdateItem(ctx, id, domain.ItemUpdateRequest{Active: &inactive})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.logAudit(ctx, "item.delete", "inventory_item", item.ID, "sku="+item.SKU)
	return item, nil
}

// InventoryValuation totals the value of all active items.
func (s *Service) InventoryValuation(ctx context.Context) (domain.InventoryValuation, error) {
	items, err := s.repo.ListItems(ctx, domain.ItemFilter{})
	if err != nil {
		return domain.InventoryValuation{}, err
	}

	summary := domain.InventoryValuation{
		TotalValue:  decimal.Zero,
		GeneratedAt: s.now(),
	}
	for _, item := range items {
		summary.ItemCount++
		summary.TotalValue = summary.TotalValue.Add(item.Value)
		if item.LowStock() {
			summary.LowStockCount++
		}
	}
	return summary, nil
}
