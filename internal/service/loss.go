package service

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

// ReportLoss records a PENDING LOSS transaction and its loss record in one
// storage transaction. The loss is valued at the item's cost at report time.
func (s *Service) ReportLoss(ctx context.Context, req domain.LossReportRequest) (domain.InventoryLoss, error) {
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		return domain.InventoryLoss{}, fmt.Errorf("%w: item_id is required", store.ErrValidation)
	}
	if !req.Quantity.IsPositive() {
		return domain.InventoryLoss{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if err := checkScale("quantity", req.Quantity); err != nil {
		return domain.InventoryLoss{}, err
	}
	if !req.Reason.Valid() {
		return domain.InventoryLoss{}, fmt.Errorf("%w: unknown loss reason %q", store.ErrValidation, req.Reason)
	}

	reporter := actorName(ctx, "")
	now := s.now()
	lossID := xid.New("loss")

	var loss domain.InventoryLoss
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetItemForUpdate(ctx, req.ItemID)
		if err != nil {
			return err
		}
		if req.Quantity.GreaterThan(item.CurrentStock) {
			return insufficientStock(*item, req.Quantity)
		}

		txn, err := s.newTransaction(*item, domain.TransactionCreateRequest{
			ItemID:        item.ID,
			Type:          domain.TxLoss,
			Quantity:      req.Quantity,
			Notes:         req.Notes,
			ReferenceID:   lossID,
			ReferenceType: domain.RefLoss,
		}, reporter, now)
		if err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		loss = domain.InventoryLoss{
			ID:            lossID,
			ItemID:        item.ID,
			TransactionID: txn.ID,
			Quantity:      req.Quantity,
			Reason:        req.Reason,
			Notes:         strings.TrimSpace(req.Notes),
			Value:         req.Quantity.Mul(item.CostPerUnit),
			Status:        domain.TxStatusPending,
			ReportedBy:    reporter,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.CreateLoss(ctx, loss)
	})
	if err != nil {
		return domain.InventoryLoss{}, err
	}

	s.logAudit(ctx, "loss.report", "inventory_loss", loss.ID,
		fmt.Sprintf("item=%s qty=%s reason=%s value=%s", loss.ItemID, loss.Quantity, loss.Reason, loss.Value))
	return loss, nil
}

func (s *Service) GetLoss(ctx context.Context, id string) (domain.InventoryLoss, error) {
	loss, err := s.repo.GetLoss(ctx, id)
	if err != nil {
		return domain.InventoryLoss{}, err
	}
	return *loss, nil
}

func (s *Service) ListLosses(ctx context.Context, filter domain.LossFilter) ([]domain.InventoryLoss, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown loss reason %q", store.ErrValidation, filter.Reason)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	filter.Limit = normalizeLimit(filter.Limit)
	return s.repo.ListLosses(ctx, filter)
}

// ApproveLoss applies the wrapped LOSS transaction and records exactly one
// financial entry for the loss value in the same storage transaction. The
// entry is delivered after commit.
func (s *Service) ApproveLoss(ctx context.Context, id string, approver string) (domain.InventoryLoss, error) {
	ctx, span := s.tracer.Start(ctx, "loss.approve",
		trace.WithAttributes(attribute.String("inventory.loss_id", id)))
	var err error
	defer func() { endSpan(span, err) }()

	reviewer := actorName(ctx, approver)
	now := s.now()
	var (
		loss  domain.InventoryLoss
		entry domain.FinancialEntry
		alert *domain.ReorderAlert
	)
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetLossForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.TxStatusPending {
			return fmt.Errorf("%w: loss %s is %s", store.ErrInvalidState, current.ID, current.Status)
		}
		txn, err := tx.GetTransactionForUpdate(ctx, current.TransactionID)
		if err != nil {
			return err
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

		entry, err = recordFinancialEntry(ctx, tx, domain.FinancialPostRequest{
			EntryType:     domain.EntryInventoryLoss,
			ReferenceID:   current.ID,
			ReferenceType: domain.RefLoss,
			Amount:        current.Value,
			Description:   fmt.Sprintf("Inventory loss %s: %s x %s (%s)", current.ID, current.Quantity, current.ItemID, current.Reason),
		}, now)
		if err != nil {
			return err
		}

		reviewedAt := now
		current.Status = domain.TxStatusApproved
		current.ReviewedBy = reviewer
		current.ReviewedAt = &reviewedAt
		current.FinancialEntryID = entry.ID
		current.UpdatedAt = now
		if err := tx.UpdateLoss(ctx, *current); err != nil {
			return err
		}
		loss = *current
		return nil
	})
	if err != nil {
		return domain.InventoryLoss{}, err
	}

	entry = s.deliverFinancial(ctx, entry)
	span.SetAttributes(attribute.String("finance.entry_id", entry.ID), attribute.Bool("finance.posted", entry.IsPosted))

	if alert != nil {
		s.notifyReorder(ctx, []domain.ReorderAlert{*alert})
	}
	s.logAudit(ctx, "loss.approve", "inventory_loss", loss.ID,
		fmt.Sprintf("item=%s qty=%s value=%s entry=%s", loss.ItemID, loss.Quantity, loss.Value, loss.FinancialEntryID))
	return loss, nil
}

// RejectLoss closes the loss and its transaction. No stock moves and no
// financial entry is created.
func (s *Service) RejectLoss(ctx context.Context, id string, approver string) (domain.InventoryLoss, error) {
	reviewer := actorName(ctx, approver)
	now := s.now()

	var loss domain.InventoryLoss
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetLossForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != domain.TxStatusPending {
			return fmt.Errorf("%w: loss %s is %s", store.ErrInvalidState, current.ID, current.Status)
		}
		txn, err := tx.GetTransactionForUpdate(ctx, current.TransactionID)
		if err != nil {
			return err
		}
		if err := rejectTransaction(txn, reviewer, now); err != nil {
			return err
		}
		if err := tx.UpdateTransaction(ctx, *txn); err != nil {
			return err
		}

		reviewedAt := now
		current.Status = domain.TxStatusRejected
		current.ReviewedBy = reviewer
		current.ReviewedAt = &reviewedAt
		current.UpdatedAt = now
		if err := tx.UpdateLoss(ctx, *current); err != nil {
			return err
		}
		loss = *current
		return nil
	})
	if err != nil {
		return domain.InventoryLoss{}, err
	}

	s.logAudit(ctx, "loss.reject", "inventory_loss", loss.ID, "item="+loss.ItemID)
	return loss, nil
}
