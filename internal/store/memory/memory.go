package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

// Store keeps the ledger in process memory. Writers are serialized by
// writeMu; readers only take mu.RLock and never observe a half-applied
// transaction because InTx stages its changes and publishes them under one
// mu.Lock.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	items           map[string]domain.InventoryItem
	transactions    map[string]domain.InventoryTransaction
	losses          map[string]domain.InventoryLoss
	counts          map[string]domain.InventoryCount
	entries         map[string]domain.FinancialEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	persistMu    sync.Mutex
	snapshotPath string
	logger       *zap.Logger
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		items:           make(map[string]domain.InventoryItem),
		transactions:    make(map[string]domain.InventoryTransaction),
		losses:          make(map[string]domain.InventoryLoss),
		counts:          make(map[string]domain.InventoryCount),
		entries:         make(map[string]domain.FinancialEntry),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		logger:          logger,
	}
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_STAFF_PASSWORD; dev defaults are used with a warning when unset.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("using default dev credentials, set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small kitchen catalog, each
// item opened by an approved INITIAL transaction.
func NewSeeded(logger *zap.Logger) *Store {
	s := New(logger)
	s.usersByUsername = seedUsers(s.logger)

	now := time.Now().UTC()
	seed := []struct {
		name, sku, category, unit string
		stock, cost, reorder     string
	}{
		{"Tomatoes", "VEG-TOM-01", "produce", "kg", "40", "2.10", "10"},
		{"Mozzarella", "DAI-MOZ-01", "dairy", "kg", "25", "8.50", "8"},
		{"Flour 00", "DRY-FLR-01", "dry-goods", "kg", "100", "0.95", "25"},
		{"Olive Oil", "DRY-OIL-01", "dry-goods", "l", "30", "6.40", "6"},
		{"Basil", "VEG-BAS-01", "produce", "bunch", "20", "1.20", "5"},
		{"Chicken Breast", "MEA-CHK-01", "meat", "kg", "18", "7.80", "6"},
	}
	for _, row := range seed {
		stock := decimal.RequireFromString(row.stock)
		cost := decimal.RequireFromString(row.cost)
		item := domain.InventoryItem{
			ID:           xid.New("item"),
			Name:         row.name,
			SKU:          row.sku,
			CategoryID:   row.category,
			UnitID:       row.unit,
			ReorderPoint: decimal.RequireFromString(row.reorder),
			CurrentStock: stock,
			CostPerUnit:  cost,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		item.Revalue()
		s.items[item.ID] = item

		reviewedAt := now
		txn := domain.InventoryTransaction{
			ID:            xid.New("txn"),
			ItemID:        item.ID,
			Type:          domain.TxInitial,
			Direction:     domain.DirectionIn,
			Quantity:      stock,
			PreviousStock: decimal.Zero,
			NewStock:      stock,
			UnitCost:      cost,
			ValueChange:   item.Value,
			Status:        domain.TxStatusApproved,
			Notes:         "seed",
			CreatedBy:     domain.SystemActor,
			ReviewedBy:    domain.SystemActor,
			ReviewedAt:    &reviewedAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.transactions[txn.ID] = txn
	}
	return s
}

// InTx runs fn against a staged view of the store. Nothing fn writes is
// visible to readers until fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, item := range tx.items {
		s.items[id] = item
	}
	for id, txn := range tx.transactions {
		s.transactions[id] = txn
	}
	for id, loss := range tx.losses {
		s.losses[id] = loss
	}
	for id, count := range tx.counts {
		s.counts[id] = cloneCount(count)
	}
	for id, entry := range tx.entries {
		s.entries[id] = entry
	}
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(_ context.Context, filter domain.ItemFilter) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if !item.Active && !filter.IncludeInactive {
			continue
		}
		if filter.CategoryID != "" && item.CategoryID != filter.CategoryID {
			continue
		}
		if filter.LowStock && !item.LowStock() {
			continue
		}
		if search != "" && !itemMatches(item, search) {
			continue
		}
		result = append(result, item)
	}

	slices.SortFunc(result, func(a, b domain.InventoryItem) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return limitSlice(result, filter.Limit), nil
}

func itemMatches(item domain.InventoryItem, search string) bool {
	for _, field := range []string{item.Name, item.SKU, item.Barcode, item.Description} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &txn, nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.InventoryTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryTransaction, 0, 64)
	for _, txn := range s.transactions {
		if filter.ItemID != "" && txn.ItemID != filter.ItemID {
			continue
		}
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		result = append(result, txn)
	}
	slices.SortFunc(result, func(a, b domain.InventoryTransaction) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return limitSlice(result, filter.Limit), nil
}

func (s *Store) GetLoss(_ context.Context, id string) (*domain.InventoryLoss, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loss, ok := s.losses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loss, nil
}

func (s *Store) ListLosses(_ context.Context, filter domain.LossFilter) ([]domain.InventoryLoss, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryLoss, 0, 32)
	for _, loss := range s.losses {
		if filter.ItemID != "" && loss.ItemID != filter.ItemID {
			continue
		}
		if filter.Status != "" && loss.Status != filter.Status {
			continue
		}
		if filter.Reason != "" && loss.Reason != filter.Reason {
			continue
		}
		result = append(result, loss)
	}
	slices.SortFunc(result, func(a, b domain.InventoryLoss) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return limitSlice(result, filter.Limit), nil
}

func (s *Store) GetCount(_ context.Context, id string) (*domain.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count, ok := s.counts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneCount(count)
	return &dup, nil
}

func (s *Store) ListCounts(_ context.Context, filter domain.CountFilter) ([]domain.InventoryCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryCount, 0, 16)
	for _, count := range s.counts {
		if filter.Status != "" && count.Status != filter.Status {
			continue
		}
		result = append(result, cloneCount(count))
	}
	slices.SortFunc(result, func(a, b domain.InventoryCount) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return limitSlice(result, filter.Limit), nil
}

func (s *Store) MarkFinancialEntryPosted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	postedAt := at.UTC()
	entry.IsPosted = true
	entry.PostedAt = &postedAt
	entry.Attempts++
	entry.LastError = ""
	entry.UpdatedAt = postedAt
	s.entries[id] = entry
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) RecordFinancialEntryFailure(_ context.Context, id string, reason string, at time.Time) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	if entry.IsPosted {
		s.mu.Unlock()
		return nil
	}
	entry.Attempts++
	entry.LastError = reason
	entry.UpdatedAt = at.UTC()
	s.entries[id] = entry
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) ListFinancialEntries(_ context.Context, filter domain.FinancialEntryFilter) ([]domain.FinancialEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.FinancialEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.UnpostedOnly && entry.IsPosted {
			continue
		}
		if filter.ReferenceType != "" && entry.ReferenceType != filter.ReferenceType {
			continue
		}
		result = append(result, entry)
	}
	// oldest first so the sweeper retries in creation order
	slices.SortFunc(result, func(a, b domain.FinancialEntry) int {
		return newestFirst(b.CreatedAt, b.ID, a.CreatedAt, a.ID)
	})
	return limitSlice(result, filter.Limit), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return limitSlice(result, limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.Role == "" {
		s.mu.Unlock()
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: username already exists", store.ErrDuplicate)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	s.mu.Unlock()

	s.persist()
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		s.mu.Unlock()
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	s.mu.Unlock()

	s.persist()
	return nil
}

func newestFirst(aAt time.Time, aID string, bAt time.Time, bID string) int {
	if aAt.Equal(bAt) {
		return strings.Compare(bID, aID)
	}
	if aAt.After(bAt) {
		return -1
	}
	return 1
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneCount(src domain.InventoryCount) domain.InventoryCount {
	dup := src
	dup.Lines = make([]domain.CountLine, len(src.Lines))
	copy(dup.Lines, src.Lines)
	return dup
}
