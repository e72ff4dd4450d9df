package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetItemForUpdate(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getItem(ctx, t.tx, id, true)
}

func (t *pgTx) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, item.ID, item.Name, item.SKU, item.Barcode, item.Description, item.CategoryID, item.UnitID,
		item.MinimumStock, item.ReorderPoint, item.MaximumStock, item.CurrentStock, item.CostPerUnit, item.Value,
		item.Active, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item %s sku %q", store.ErrDuplicate, item.ID, item.SKU)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, sku = $3, barcode = $4, description = $5, category_id = $6, unit_id = $7,
			minimum_stock = $8, reorder_point = $9, maximum_stock = $10,
			current_stock = $11, cost_per_unit = $12, value = $13,
			active = $14, updated_at = $15
		WHERE id = $1
	`, item.ID, item.Name, item.SKU, item.Barcode, item.Description, item.CategoryID, item.UnitID,
		item.MinimumStock, item.ReorderPoint, item.MaximumStock,
		item.CurrentStock, item.CostPerUnit, item.Value,
		item.Active, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %q", store.ErrDuplicate, item.SKU)
		}
		return err
	}
	return expectRow(res)
}

func (t *pgTx) CreateTransaction(ctx context.Context, txn domain.InventoryTransaction) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, txn.ID, txn.ItemID, txn.Type, txn.Direction, txn.Quantity, txn.ReferenceID, txn.ReferenceType,
		txn.PreviousStock, txn.NewStock, txn.UnitCost, txn.ValueChange, txn.CostSupplied, txn.Status, txn.Notes,
		txn.CreatedBy, txn.ReviewedBy, nullTime(txn.ReviewedAt), txn.CreatedAt, txn.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction %s", store.ErrDuplicate, txn.ID)
	}
	return err
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id string) (*domain.InventoryTransaction, error) {
	return scanTransaction(t.tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) UpdateTransaction(ctx context.Context, txn domain.InventoryTransaction) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_transactions
		SET previous_stock = $2, new_stock = $3, unit_cost = $4, value_change = $5,
			status = $6, notes = $7, reviewed_by = $8, reviewed_at = $9, updated_at = $10
		WHERE id = $1
	`, txn.ID, txn.PreviousStock, txn.NewStock, txn.UnitCost, txn.ValueChange,
		txn.Status, txn.Notes, txn.ReviewedBy, nullTime(txn.ReviewedAt), txn.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) CreateLoss(ctx context.Context, loss domain.InventoryLoss) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_losses (`+lossColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, loss.ID, loss.ItemID, loss.TransactionID, loss.Quantity, loss.Reason, loss.Notes, loss.Value, loss.Status,
		loss.ReportedBy, loss.ReviewedBy, nullTime(loss.ReviewedAt), loss.FinancialEntryID, loss.CreatedAt, loss.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: loss %s", store.ErrDuplicate, loss.ID)
	}
	return err
}

func (t *pgTx) GetLossForUpdate(ctx context.Context, id string) (*domain.InventoryLoss, error) {
	return scanLoss(t.tx.QueryRowContext(ctx, `
		SELECT `+lossColumns+`
		FROM inventory_losses
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) UpdateLoss(ctx context.Context, loss domain.InventoryLoss) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_losses
		SET value = $2, status = $3, reviewed_by = $4, reviewed_at = $5,
			financial_entry_id = $6, updated_at = $7
		WHERE id = $1
	`, loss.ID, loss.Value, loss.Status, loss.ReviewedBy, nullTime(loss.ReviewedAt),
		loss.FinancialEntryID, loss.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) CreateCount(ctx context.Context, count domain.InventoryCount) error {
	lines, err := json.Marshal(count.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO inventory_counts (`+countColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, count.ID, count.Name, count.CountDate, count.Notes, count.Status, string(lines),
		count.TotalExpected, count.TotalActual, count.TotalVariance, count.TotalValueVariance,
		count.CreatedBy, count.SubmittedBy, nullTime(count.SubmittedAt), count.ReviewedBy, nullTime(count.ReviewedAt),
		count.FinancialEntryID, count.CreatedAt, count.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: count %s", store.ErrDuplicate, count.ID)
	}
	return err
}

func (t *pgTx) GetCountForUpdate(ctx context.Context, id string) (*domain.InventoryCount, error) {
	return scanCount(t.tx.QueryRowContext(ctx, `
		SELECT `+countColumns+`
		FROM inventory_counts
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *pgTx) UpdateCount(ctx context.Context, count domain.InventoryCount) error {
	lines, err := json.Marshal(count.Lines)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_counts
		SET status = $2, lines = $3,
			submitted_by = $4, submitted_at = $5, reviewed_by = $6, reviewed_at = $7,
			financial_entry_id = $8, updated_at = $9
		WHERE id = $1
	`, count.ID, count.Status, string(lines),
		count.SubmittedBy, nullTime(count.SubmittedAt), count.ReviewedBy, nullTime(count.ReviewedAt),
		count.FinancialEntryID, count.UpdatedAt)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (t *pgTx) CreateFinancialEntry(ctx context.Context, entry domain.FinancialEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO financial_entries (`+entryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.EntryType, entry.ReferenceID, entry.ReferenceType, entry.Amount, entry.Description,
		entry.IsPosted, nullTime(entry.PostedAt), entry.Attempts, entry.LastError, entry.CreatedAt, entry.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: financial entry for %s %s", store.ErrDuplicate, entry.ReferenceType, entry.ReferenceID)
	}
	return err
}
