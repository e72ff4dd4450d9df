package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes. It is safe to run on
// every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InTx runs fn inside one READ COMMITTED transaction. Row locks taken by the
// ForUpdate getters serialize concurrent writers per row.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const itemColumns = `id, name, sku, barcode, description, category_id, unit_id,
	minimum_stock, reorder_point, maximum_stock, current_stock, cost_per_unit, value,
	active, created_at, updated_at`

func scanItem(row rowScanner) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID, &item.Name, &item.SKU, &item.Barcode, &item.Description, &item.CategoryID, &item.UnitID,
		&item.MinimumStock, &item.ReorderPoint, &item.MaximumStock, &item.CurrentStock, &item.CostPerUnit, &item.Value,
		&item.Active, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

const transactionColumns = `id, item_id, type, direction, quantity, reference_id, reference_type,
	previous_stock, new_stock, unit_cost, value_change, cost_supplied, status, notes,
	created_by, reviewed_by, reviewed_at, created_at, updated_at`

func scanTransaction(row rowScanner) (*domain.InventoryTransaction, error) {
	var txn domain.InventoryTransaction
	var reviewedAt sql.NullTime
	err := row.Scan(
		&txn.ID, &txn.ItemID, &txn.Type, &txn.Direction, &txn.Quantity, &txn.ReferenceID, &txn.ReferenceType,
		&txn.PreviousStock, &txn.NewStock, &txn.UnitCost, &txn.ValueChange, &txn.CostSupplied, &txn.Status, &txn.Notes,
		&txn.CreatedBy, &txn.ReviewedBy, &reviewedAt, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	txn.ReviewedAt = timePtr(reviewedAt)
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	return &txn, nil
}

const lossColumns = `id, item_id, transaction_id, quantity, reason, notes, value, status,
	reported_by, reviewed_by, reviewed_at, financial_entry_id, created_at, updated_at`

func scanLoss(row rowScanner) (*domain.InventoryLoss, error) {
	var loss domain.InventoryLoss
	var reviewedAt sql.NullTime
	err := row.Scan(
		&loss.ID, &loss.ItemID, &loss.TransactionID, &loss.Quantity, &loss.Reason, &loss.Notes, &loss.Value, &loss.Status,
		&loss.ReportedBy, &loss.ReviewedBy, &reviewedAt, &loss.FinancialEntryID, &loss.CreatedAt, &loss.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	loss.ReviewedAt = timePtr(reviewedAt)
	loss.CreatedAt = loss.CreatedAt.UTC()
	loss.UpdatedAt = loss.UpdatedAt.UTC()
	return &loss, nil
}

const countColumns = `id, name, count_date, notes, status, lines,
	total_expected, total_actual, total_variance, total_value_variance,
	created_by, submitted_by, submitted_at, reviewed_by, reviewed_at,
	financial_entry_id, created_at, updated_at`

func scanCount(row rowScanner) (*domain.InventoryCount, error) {
	var count domain.InventoryCount
	var lines []byte
	var submittedAt, reviewedAt sql.NullTime
	err := row.Scan(
		&count.ID, &count.Name, &count.CountDate, &count.Notes, &count.Status, &lines,
		&count.TotalExpected, &count.TotalActual, &count.TotalVariance, &count.TotalValueVariance,
		&count.CreatedBy, &count.SubmittedBy, &submittedAt, &count.ReviewedBy, &reviewedAt,
		&count.FinancialEntryID, &count.CreatedAt, &count.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(lines, &count.Lines); err != nil {
		return nil, fmt.Errorf("decode count %s lines: %w", count.ID, err)
	}
	count.SubmittedAt = timePtr(submittedAt)
	count.ReviewedAt = timePtr(reviewedAt)
	count.CountDate = count.CountDate.UTC()
	count.CreatedAt = count.CreatedAt.UTC()
	count.UpdatedAt = count.UpdatedAt.UTC()
	return &count, nil
}

const entryColumns = `id, entry_type, reference_id, reference_type, amount, description,
	is_posted, posted_at, attempts, last_error, created_at, updated_at`

func scanEntry(row rowScanner) (*domain.FinancialEntry, error) {
	var entry domain.FinancialEntry
	var postedAt sql.NullTime
	err := row.Scan(
		&entry.ID, &entry.EntryType, &entry.ReferenceID, &entry.ReferenceType, &entry.Amount, &entry.Description,
		&entry.IsPosted, &postedAt, &entry.Attempts, &entry.LastError, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	entry.PostedAt = timePtr(postedAt)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func collect[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]T, error) {
	defer rows.Close()

	result := make([]T, 0, 32)
	for rows.Next() {
		value, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getItem(ctx, s.db, id, false)
}

func getItem(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanItem(q.QueryRowContext(ctx, query, id))
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	where, args := []string{"true"}, []any{}
	if !filter.IncludeInactive {
		where = append(where, "active = true")
	}
	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if filter.LowStock {
		where = append(where, "current_stock <= reorder_point")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(sku) LIKE $%d OR lower(barcode) LIKE $%d OR lower(description) LIKE $%d)", n, n, n, n))
	}
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY lower(name), id
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanItem)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.InventoryTransaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM inventory_transactions WHERE id = $1`, id))
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	where, args := []string{"true"}, []any{}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransaction)
}

func (s *Store) GetLoss(ctx context.Context, id string) (*domain.InventoryLoss, error) {
	return scanLoss(s.db.QueryRowContext(ctx, `SELECT `+lossColumns+` FROM inventory_losses WHERE id = $1`, id))
}

func (s *Store) ListLosses(ctx context.Context, filter domain.LossFilter) ([]domain.InventoryLoss, error) {
	where, args := []string{"true"}, []any{}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Reason != "" {
		args = append(args, filter.Reason)
		where = append(where, fmt.Sprintf("reason = $%d", len(args)))
	}
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lossColumns+`
		FROM inventory_losses
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLoss)
}

func (s *Store) GetCount(ctx context.Context, id string) (*domain.InventoryCount, error) {
	return scanCount(s.db.QueryRowContext(ctx, `SELECT `+countColumns+` FROM inventory_counts WHERE id = $1`, id))
}

func (s *Store) ListCounts(ctx context.Context, filter domain.CountFilter) ([]domain.InventoryCount, error) {
	where, args := []string{"true"}, []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+countColumns+`
		FROM inventory_counts
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCount)
}

func (s *Store) MarkFinancialEntryPosted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE financial_entries
		SET is_posted = true, posted_at = $2, attempts = attempts + 1, last_error = '', updated_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	return expectRow(res)
}

// RecordFinancialEntryFailure leaves an already posted entry untouched.
func (s *Store) RecordFinancialEntryFailure(ctx context.Context, id string, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE financial_entries
		SET attempts = CASE WHEN is_posted THEN attempts ELSE attempts + 1 END,
			last_error = CASE WHEN is_posted THEN last_error ELSE $2 END,
			updated_at = CASE WHEN is_posted THEN updated_at ELSE $3 END
		WHERE id = $1
	`, id, reason, at.UTC())
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (s *Store) ListFinancialEntries(ctx context.Context, filter domain.FinancialEntryFilter) ([]domain.FinancialEntry, error) {
	where, args := []string{"true"}, []any{}
	if filter.UnpostedOnly {
		where = append(where, "NOT is_posted")
	}
	if filter.ReferenceType != "" {
		args = append(args, filter.ReferenceType)
		where = append(where, fmt.Sprintf("reference_type = $%d", len(args)))
	}
	args = append(args, limitOrAll(filter.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM financial_entries
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at ASC, id ASC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEntry)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,true,$4,now())
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT reads as no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	at := val.Time.UTC()
	return &at
}
