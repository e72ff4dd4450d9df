package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// reconcileLine fills the derived fields of a count line from the expected
// stock and cost captured at count creation.
func reconcileLine(line *domain.CountLine) {
	line.Variance = line.ActualQuantity.Sub(line.ExpectedQuantity)
	if line.ExpectedQuantity.IsZero() {
		line.VariancePercentage = decimal.Zero
	} else {
		line.VariancePercentage = line.Variance.Div(line.ExpectedQuantity).Mul(hundred).Round(2)
	}
	line.ValueVariance = line.Variance.Mul(line.UnitCost)
}

func sumCount(count *domain.InventoryCount) {
	count.TotalExpected = decimal.Zero
	count.TotalActual = decimal.Zero
	count.TotalVariance = decimal.Zero
	count.TotalValueVariance = decimal.Zero
	for _, line := range count.Lines {
		count.TotalExpected = count.TotalExpected.Add(line.ExpectedQuantity)
		count.TotalActual = count.TotalActual.Add(line.ActualQuantity)
		count.TotalVariance = count.TotalVariance.Add(line.Variance)
		count.TotalValueVariance = count.TotalValueVariance.Add(line.ValueVariance)
	}
}

func parseCountDate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return parsed, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: count_date must be YYYY-MM-DD or RFC3339", store.ErrValidation)
	}
	return parsed.UTC(), nil
}

// CreateCount snapshots the expected stock of every counted item and stores
// the reconciliation as a DRAFT.
func (s *Service) CreateCount(ctx context.Context, req domain.CountCreateRequest) (domain.InventoryCount, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.InventoryCount{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.InventoryCount{}, fmt.Errorf("%w: count needs at least one line", store.ErrValidation)
	}
	now := s.now()
	countDate, err := parseCountDate(req.CountDate, now)
	if err != nil {
		return domain.InventoryCount{}, err
	}

	seen := make(map[string]struct{}, len(req.Lines))
	for i, line := range req.Lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" {
			return domain.InventoryCount{}, fmt.Errorf("%w: line %d has no item_id", store.ErrValidation, i+1)
		}
		if line.ActualQuantity.IsNegative() {
			return domain.InventoryCount{}, fmt.Errorf("%w: line %d actual_quantity must not be negative", store.ErrValidation, i+1)
		}
		if err := checkScale(fmt.Sprintf("line %d actual_quantity", i+1), line.ActualQuantity); err != nil {
			return domain.InventoryCount{}, err
		}
		if _, dup := seen[itemID]; dup {
			return domain.InventoryCount{}, fmt.Errorf("%w: item %s counted twice", store.ErrValidation, itemID)
		}
		seen[itemID] = struct{}{}
	}

	count := domain.InventoryCount{
		ID:        xid.New("count"),
		Name:      req.Name,
		CountDate: countDate,
		Notes:     strings.TrimSpace(req.Notes),
		Status:    domain.CountStatusDraft,
		Lines:     make([]domain.CountLine, len(req.Lines)),
		CreatedBy: actorName(ctx, ""),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		for _, i := range linesByItem(req.Lines) {
			itemID := strings.TrimSpace(req.Lines[i].ItemID)
			item, err := tx.GetItemForUpdate(ctx, itemID)
			if err != nil {
				return err
			}
			if !item.Active {
				return fmt.Errorf("%w: item %s is inactive", store.ErrValidation, item.ID)
			}
			line := domain.CountLine{
				ItemID:           item.ID,
				ItemName:         item.Name,
				ExpectedQuantity: item.CurrentStock,
				ActualQuantity:   req.Lines[i].ActualQuantity,
				UnitCost:         item.CostPerUnit,
			}
			reconcileLine(&line)
			count.Lines[i] = line
		}
		sumCount(&count)
		return tx.CreateCount(ctx, count)
	})
	if err != nil {
		return domain.InventoryCount{}, err
	}

	s.logAudit(ctx, "count.create", "inventory_count", count.ID,
		fmt.Sprintf("lines=%d variance=%s value_variance=%s", len(count.Lines), count.TotalVariance, count.TotalValueVariance))
	return count, nil
}

// linesByItem returns line indexes in item-id order, the order item locks
// are taken in.
func linesByItem(lines []domain.CountLineRequest) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return strings.TrimSpace(lines[order[a]].ItemID) < strings.TrimSpace(lines[order[b]].ItemID)
	})
	return order
}

func (s *Service) GetCount(ctx context.Context, id string) (domain.InventoryCount, error) {
	count, err := s.repo.GetCount(ctx, id)
	if err != nil {
		return domain.InventoryCount{}, err
	}
	return *count, nil
}

func (s *Service) ListCounts(ctx context.Context, filter domain.CountFilter) ([]domain.InventoryCount, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown count status %q", store.ErrValidation, filter.Status)
	}
	filter.Limit = normalizeLimit(filter.Limit)
	return s.repo.ListCounts(ctx, filter)
}

// transitionCount moves a count between statuses under its row lock. mutate
// runs after the status check and before the write.
func (s *Service) transitionCount(ctx context.Context, id string, from domain.CountStatus, to domain.CountStatus, mutate func(tx store.Tx, count *domain.InventoryCount) error) (domain.InventoryCount, error) {
	var result domain.InventoryCount
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		count, err := tx.GetCountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if count.Status != from {
			return fmt.Errorf("%w: count %s is %s, expected %s", store.ErrInvalidState, count.ID, count.Status, from)
		}
		if mutate != nil {
			if err := mutate(tx, count); err != nil {
				return err
			}
		}
		count.Status = to
		count.UpdatedAt = s.now()
		if err := tx.UpdateCount(ctx, *count); err != nil {
			return err
		}
		result = *count
		return nil
	})
	return result, err
}

// SubmitCount hands a DRAFT count over for review.
func (s *Service) SubmitCount(ctx context.Context, id string) (domain.InventoryCount, error) {
	submitter := actorName(ctx, "")
	count, err := s.transitionCount(ctx, id, domain.CountStatusDraft, domain.CountStatusSubmitted, func(_ store.Tx, count *domain.InventoryCount) error {
		submittedAt := s.now()
		count.SubmittedBy = submitter
		count.SubmittedAt = &submittedAt
		return nil
	})
	if err != nil {
		return domain.InventoryCount{}, err
	}

	s.logAudit(ctx, "count.submit", "inventory_count", count.ID, "")
	return count, nil
}

// ApproveCount books one ADJUSTMENT per line with a variance. The
// adjustments, their application and the status change commit together or
// not at all.
func (s *Service) ApproveCount(ctx context.Context, id string, approver string) (domain.InventoryCount, error) {
	ctx, span := s.tracer.Start(ctx, "count.approve",
		trace.WithAttributes(attribute.String("inventory.count_id", id)))
	var err error
	defer func() { endSpan(span, err) }()

	reviewer := actorName(ctx, approver)
	now := s.now()
	var (
		alerts []domain.ReorderAlert
		entry  *domain.FinancialEntry
	)

	count, err := s.transitionCount(ctx, id, domain.CountStatusSubmitted, domain.CountStatusApproved, func(tx store.Tx, count *domain.InventoryCount) error {
		alerts = alerts[:0]
		for _, i := range countLinesByItem(count.Lines) {
			line := &count.Lines[i]
			if line.Variance.IsZero() {
				continue
			}
			item, err := tx.GetItemForUpdate(ctx, line.ItemID)
			if err != nil {
				return err
			}
			unitCost := line.UnitCost
			txn, err := s.newTransactionForCount(*item, count, *line, &unitCost, reviewer, now)
			if err != nil {
				return err
			}
			alert, err := s.applyTransaction(ctx, tx, &txn, item, reviewer, now)
			if err != nil {
				return fmt.Errorf("count line %s: %w", line.ItemID, err)
			}
			if err := tx.CreateTransaction(ctx, txn); err != nil {
				return err
			}
			line.TransactionID = txn.ID
			if alert != nil {
				alerts = append(alerts, *alert)
			}
		}

		entry = nil
		if !count.TotalValueVariance.IsZero() {
			recorded, err := recordFinancialEntry(ctx, tx, domain.FinancialPostRequest{
				EntryType:     domain.EntryInventoryAdjustment,
				ReferenceID:   count.ID,
				ReferenceType: domain.RefCount,
				Amount:        count.TotalValueVariance,
				Description:   fmt.Sprintf("Inventory count %s (%s): %d lines reconciled", count.ID, count.Name, len(count.Lines)),
			}, now)
			if err != nil {
				return err
			}
			entry = &recorded
			count.FinancialEntryID = recorded.ID
		}

		reviewedAt := now
		count.ReviewedBy = reviewer
		count.ReviewedAt = &reviewedAt
		return nil
	})
	if err != nil {
		return domain.InventoryCount{}, err
	}
	span.SetAttributes(attribute.String("inventory.value_variance", count.TotalValueVariance.String()))

	if entry != nil {
		delivered := s.deliverFinancial(ctx, *entry)
		span.SetAttributes(attribute.String("finance.entry_id", delivered.ID), attribute.Bool("finance.posted", delivered.IsPosted))
	}

	s.notifyReorder(ctx, alerts)
	s.logAudit(ctx, "count.approve", "inventory_count", count.ID,
		fmt.Sprintf("variance=%s value_variance=%s entry=%s", count.TotalVariance, count.TotalValueVariance, count.FinancialEntryID))
	return count, nil
}

func (s *Service) newTransactionForCount(item domain.InventoryItem, count *domain.InventoryCount, line domain.CountLine, unitCost *decimal.Decimal, createdBy string, now time.Time) (domain.InventoryTransaction, error) {
	// an approved count may move stock of an item deactivated since counting
	item.Active = true
	return s.newTransaction(item, domain.TransactionCreateRequest{
		ItemID:        line.ItemID,
		Type:          domain.TxAdjustment,
		Quantity:      line.Variance,
		UnitCost:      unitCost,
		Notes:         "count " + count.Name,
		ReferenceID:   count.ID,
		ReferenceType: domain.RefCount,
	}, createdBy, now)
}

func countLinesByItem(lines []domain.CountLine) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].ItemID < lines[order[b]].ItemID
	})
	return order
}

// RejectCount closes a SUBMITTED count; nothing is booked.
func (s *Service) RejectCount(ctx context.Context, id string, approver string) (domain.InventoryCount, error) {
	reviewer := actorName(ctx, approver)
	count, err := s.transitionCount(ctx, id, domain.CountStatusSubmitted, domain.CountStatusRejected, func(_ store.Tx, count *domain.InventoryCount) error {
		reviewedAt := s.now()
		count.ReviewedBy = reviewer
		count.ReviewedAt = &reviewedAt
		return nil
	})
	if err != nil {
		return domain.InventoryCount{}, err
	}

	s.logAudit(ctx, "count.reject", "inventory_count", count.ID, "")
	return count, nil
}
