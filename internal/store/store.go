package store

import (
	"context"
	"errors"
	"time"

	"restopos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrUnsupported       = errors.New("not yet supported")
	ErrDuplicate         = errors.New("duplicate")
)

// Repository is the durable storage behind the inventory ledger. Mutations of
// stock, transactions, losses, counts and new financial entries go through
// InTx so that a failed step leaves nothing behind.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetItem(ctx context.Context, id string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error)
	GetTransaction(ctx context.Context, id string) (*domain.InventoryTransaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error)
	GetLoss(ctx context.Context, id string) (*domain.InventoryLoss, error)
	ListLosses(ctx context.Context, filter domain.LossFilter) ([]domain.InventoryLoss, error)
	GetCount(ctx context.Context, id string) (*domain.InventoryCount, error)
	ListCounts(ctx context.Context, filter domain.CountFilter) ([]domain.InventoryCount, error)

	MarkFinancialEntryPosted(ctx context.Context, id string, at time.Time) error
	RecordFinancialEntryFailure(ctx context.Context, id string, reason string, at time.Time) error
	ListFinancialEntries(ctx context.Context, filter domain.FinancialEntryFilter) ([]domain.FinancialEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is the write side of a single storage transaction. The ForUpdate
// getters hold the row until the transaction ends.
type Tx interface {
	GetItemForUpdate(ctx context.Context, id string) (*domain.InventoryItem, error)
	CreateItem(ctx context.Context, item domain.InventoryItem) error
	UpdateItem(ctx context.Context, item domain.InventoryItem) error

	CreateTransaction(ctx context.Context, txn domain.InventoryTransaction) error
	GetTransactionForUpdate(ctx context.Context, id string) (*domain.InventoryTransaction, error)
	UpdateTransaction(ctx context.Context, txn domain.InventoryTransaction) error

	CreateLoss(ctx context.Context, loss domain.InventoryLoss) error
	GetLossForUpdate(ctx context.Context, id string) (*domain.InventoryLoss, error)
	UpdateLoss(ctx context.Context, loss domain.InventoryLoss) error

	CreateCount(ctx context.Context, count domain.InventoryCount) error
	GetCountForUpdate(ctx context.Context, id string) (*domain.InventoryCount, error)
	UpdateCount(ctx context.Context, count domain.InventoryCount) error

	// CreateFinancialEntry returns ErrDuplicate when an entry already exists
	// for the same reference.
	CreateFinancialEntry(ctx context.Context, entry domain.FinancialEntry) error
}
