package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

// direction maps a transaction type to its effect on stock. ADJUSTMENT takes
// the sign of the submitted quantity.
func direction(t domain.TransactionType, quantity decimal.Decimal) (domain.Direction, error) {
	switch t {
	case domain.TxPurchase, domain.TxReturn, domain.TxInitial:
		return domain.DirectionIn, nil
	case domain.TxSale, domain.TxLoss, domain.TxProduction:
		return domain.DirectionOut, nil
	case domain.TxAdjustment:
		if quantity.IsNegative() {
			return domain.DirectionOut, nil
		}
		return domain.DirectionIn, nil
	case domain.TxTransfer:
		return "", fmt.Errorf("%w: transfer transactions", store.ErrUnsupported)
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", store.ErrValidation, t)
	}
}

// autoApproves reports whether a type is applied in the same step it is
// recorded in. LOSS and ADJUSTMENT wait for a reviewer.
func autoApproves(t domain.TransactionType) bool {
	switch t {
	case domain.TxPurchase, domain.TxSale, domain.TxInitial, domain.TxReturn, domain.TxProduction:
		return true
	case domain.TxLoss, domain.TxAdjustment, domain.TxTransfer:
		return false
	default:
		return false
	}
}

// maxScale is the number of fractional digits stored for quantities and
// unit costs.
const maxScale = 4

func checkScale(field string, value decimal.Decimal) error {
	if !value.Equal(value.Truncate(maxScale)) {
		return fmt.Errorf("%w: %s allows at most %d decimal places", store.ErrValidation, field, maxScale)
	}
	return nil
}

// newTransaction validates req against the locked item and builds a PENDING
// record. Nothing is written.
func (s *Service) newTransaction(item domain.InventoryItem, req domain.TransactionCreateRequest, createdBy string, now time.Time) (domain.InventoryTransaction, error) {
	if !req.Type.Valid() {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: unknown transaction type %q", store.ErrValidation, req.Type)
	}
	dir, err := direction(req.Type, req.Quantity)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	if req.Type != domain.TxAdjustment && req.Quantity.IsNegative() {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	quantity := req.Quantity.Abs()
	if !quantity.IsPositive() {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: quantity must be non-zero", store.ErrValidation)
	}
	if err := checkScale("quantity", quantity); err != nil {
		return domain.InventoryTransaction{}, err
	}
	if !item.Active {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: item %s is inactive", store.ErrValidation, item.ID)
	}

	unitCost := item.CostPerUnit
	if req.UnitCost != nil {
		if req.UnitCost.IsNegative() {
			return domain.InventoryTransaction{}, fmt.Errorf("%w: unit cost must not be negative", store.ErrValidation)
		}
		if err := checkScale("unit_cost", *req.UnitCost); err != nil {
			return domain.InventoryTransaction{}, err
		}
		unitCost = *req.UnitCost
	}

	txn := domain.InventoryTransaction{
		ID:            xid.New("txn"),
		ItemID:        item.ID,
		Type:          req.Type,
		Direction:     dir,
		Quantity:      quantity,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		UnitCost:      unitCost,
		CostSupplied:  req.UnitCost != nil && req.ReferenceType == domain.RefNone,
		Status:        domain.TxStatusPending,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	txn.ValueChange = quantity.Mul(unitCost)
	if dir == domain.DirectionOut {
		txn.ValueChange = txn.ValueChange.Neg()
	}

	txn.PreviousStock = item.CurrentStock
	txn.NewStock = item.CurrentStock.Add(txn.SignedQuantity())
	if txn.NewStock.IsNegative() {
		return domain.InventoryTransaction{}, insufficientStock(item, quantity)
	}
	return txn, nil
}

// applyTransaction moves a PENDING transaction to APPROVED and writes the
// resulting stock onto the locked item. Stock is rebased on the item as it is
// now, not as it was when the transaction was recorded. A cost the caller
// supplied becomes the item's cost whatever the type; a plain movement is
// revalued at the item's current cost instead.
func (s *Service) applyTransaction(ctx context.Context, tx store.Tx, txn *domain.InventoryTransaction, item *domain.InventoryItem, reviewer string, now time.Time) (*domain.ReorderAlert, error) {
	if txn.Status.Terminal() {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, txn.ID, txn.Status)
	}

	previous := item.CurrentStock
	next := previous.Add(txn.SignedQuantity())
	if next.IsNegative() {
		return nil, insufficientStock(*item, txn.Quantity)
	}

	item.CurrentStock = next
	switch {
	case txn.CostSupplied:
		item.CostPerUnit = txn.UnitCost
	case txn.ReferenceType == domain.RefNone:
		txn.UnitCost = item.CostPerUnit
		txn.ValueChange = txn.Quantity.Mul(txn.UnitCost)
		if txn.Direction == domain.DirectionOut {
			txn.ValueChange = txn.ValueChange.Neg()
		}
	}
	item.Revalue()
	item.UpdatedAt = now
	if err := tx.UpdateItem(ctx, *item); err != nil {
		return nil, err
	}

	reviewedAt := now
	txn.PreviousStock = previous
	txn.NewStock = next
	txn.Status = domain.TxStatusApproved
	txn.ReviewedBy = reviewer
	txn.ReviewedAt = &reviewedAt
	txn.UpdatedAt = now

	if !item.LowStock() {
		return nil, nil
	}
	return &domain.ReorderAlert{
		ItemID:        item.ID,
		ItemName:      item.Name,
		SKU:           item.SKU,
		CurrentStock:  item.CurrentStock,
		ReorderPoint:  item.ReorderPoint,
		TransactionID: txn.ID,
		At:            now,
	}, nil
}

func insufficientStock(item domain.InventoryItem, quantity decimal.Decimal) error {
	return fmt.Errorf("%w: item %s has %s, requested %s", store.ErrInsufficientStock, item.ID, item.CurrentStock, quantity)
}

// CreateTransaction records a movement. Routine types are applied at once;
// LOSS and ADJUSTMENT stay PENDING until reviewed.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.InventoryTransaction, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: item_id is required", store.ErrValidation)
	}
	if req.Type == domain.TxLoss && req.ReferenceType != domain.RefLoss {
		return domain.InventoryTransaction{}, fmt.Errorf("%w: losses are recorded through the loss workflow", store.ErrValidation)
	}

	createdBy := actorName(ctx, "")
	now := s.now()

	var (
		created domain.InventoryTransaction
		alert   *domain.ReorderAlert
	)
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetItemForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}
		txn, err := s.newTransaction(*item, req, createdBy, now)
		if err != nil {
			return err
		}
		if autoApproves(txn.Type) {
			alert, err = s.applyTransaction(ctx, tx, &txn, item, domain.SystemActor, now)
			if err != nil {
				return err
			}
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	if alert != nil {
		s.notifyReorder(ctx, []domain.ReorderAlert{*alert})
	}
	s.logAudit(ctx, "transaction.create", "inventory_transaction", created.ID,
		fmt.Sprintf("item=%s type=%s qty=%s status=%s", created.ItemID, created.Type, created.Quantity, created.Status))
	return created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.InventoryTransaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	return *txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", store.ErrValidation, filter.Type)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	filter.Limit = normalizeLimit(filter.Limit)
	return s.repo.ListTransactions(ctx, filter)
}

// ApproveTransaction applies a PENDING transaction. Loss transactions are
// decided through the loss workflow so the loss record and its financial
// entry follow.
func (s *Service) ApproveTransaction(ctx context.Context, id string, approver string) (domain.InventoryTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.approve_transaction",
		trace.WithAttributes(attribute.String("inventory.transaction_id", id)))
	var err error
	defer func() { endSpan(span, err) }()

	current, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	if current.ReferenceType == domain.RefLoss {
		if _, err = s.ApproveLoss(ctx, current.ReferenceID, approver); err != nil {
			return domain.InventoryTransaction{}, err
		}
		return s.GetTransaction(ctx, id)
	}

	reviewer := actorName(ctx, approver)
	now := s.now()
	var (
		approved domain.InventoryTransaction
		alert    *domain.ReorderAlert
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status != domain.TxStatusPending {
			return fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, txn.ID, txn.Status)
		}
		item, err := tx.GetItemForUpdate(ctx, txn.ItemID)
		if err != nil {
			return err
		}
		alert, err = s.applyTransaction(ctx, tx, txn, item, reviewer, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, *txn); err != nil {
			return err
		}
		approved = *txn
		return nil
	})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	span.SetAttributes(
		attribute.String("inventory.item_id", approved.ItemID),
		attribute.String("inventory.new_stock", approved.NewStock.String()),
	)

	if alert != nil {
		s.notifyReorder(ctx, []domain.ReorderAlert{*alert})
	}
	s.logAudit(ctx, "transaction.approve", "inventory_transaction", approved.ID,
		fmt.Sprintf("item=%s previous=%s new=%s", approved.ItemID, approved.PreviousStock, approved.NewStock))
	return approved, nil
}

// RejectTransaction closes a PENDING transaction without touching stock.
func (s *Service) RejectTransaction(ctx context.Context, id string, approver string) (domain.InventoryTransaction, error) {
	current, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.InventoryTransaction{}, err
	}
	if current.ReferenceType == domain.RefLoss {
		if _, err := s.RejectLoss(ctx, current.ReferenceID, approver); err != nil {
			return domain.InventoryTransaction{}, err
		}
		return s.GetTransaction(ctx, id)
	}

	reviewer := actorName(ctx, approver)
	now := s.now()
	var rejected domain.InventoryTransaction
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		txn, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := rejectTransaction(txn, reviewer, now); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, *txn); err != nil {
			return err
		}
		rejected = *txn
		return nil
	})
	if err != nil {
		return domain.InventoryTransaction{}, err
	}

	s.logAudit(ctx, "transaction.reject", "inventory_transaction", rejected.ID, "item="+rejected.ItemID)
	return rejected, nil
}

func rejectTransaction(txn *domain.InventoryTransaction, reviewer string, now time.Time) error {
	if txn.Status.Terminal() {
		return fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, txn.ID, txn.Status)
	}
	reviewedAt := now
	txn.Status = domain.TxStatusRejected
	txn.ReviewedBy = reviewer
	txn.ReviewedAt = &reviewedAt
	txn.UpdatedAt = now
	return nil
}

// ListItemTransactions is the stock card of one item, newest first.
func (s *Service) ListItemTransactions(ctx context.Context, itemID string, limit int) ([]domain.InventoryTransaction, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, domain.TransactionFilter{ItemID: itemID, Limit: normalizeLimit(limit)})
}
