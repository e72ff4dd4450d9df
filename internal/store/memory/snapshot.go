package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"restopos/backend/internal/domain"
)

// snapshot is written to disk after each committed mutation so the store
// survives restarts.
type snapshot struct {
	SavedAt      time.Time                     `json:"saved_at"`
	Items        []domain.InventoryItem        `json:"items"`
	Transactions []domain.InventoryTransaction `json:"transactions"`
	Losses       []domain.InventoryLoss        `json:"losses"`
	Counts       []domain.InventoryCount       `json:"counts"`
	Entries      []domain.FinancialEntry       `json:"financial_entries"`
	AuditLogs    []domain.AuditLog             `json:"audit_logs"`
	Users        []snapshotUser                `json:"users"`
}

// UserAccount hides its hash from JSON, so users get their own record.
type snapshotUser struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Open loads the snapshot at path, or seeds a fresh store when no snapshot
// exists yet. Every later commit rewrites the file.
func Open(path string, logger *zap.Logger) (*Store, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var s *Store
	if snap == nil {
		s = NewSeeded(logger)
	} else {
		s = New(logger)
		s.restore(*snap)
	}
	s.snapshotPath = path

	if snap == nil {
		if err := s.writeCurrent(); err != nil {
			return nil, fmt.Errorf("write snapshot %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range snap.Items {
		s.items[item.ID] = item
	}
	for _, txn := range snap.Transactions {
		s.transactions[txn.ID] = txn
	}
	for _, loss := range snap.Losses {
		s.losses[loss.ID] = loss
	}
	for _, count := range snap.Counts {
		s.counts[count.ID] = cloneCount(count)
	}
	for _, entry := range snap.Entries {
		s.entries[entry.ID] = entry
	}
	s.auditLogs = append(s.auditLogs, snap.AuditLogs...)
	for _, user := range snap.Users {
		s.usersByUsername[user.Username] = domain.UserAccount{
			Username:  user.Username,
			Password:  user.PasswordHash,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		}
	}
}

func (s *Store) capture() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		SavedAt:      time.Now().UTC(),
		Items:        make([]domain.InventoryItem, 0, len(s.items)),
		Transactions: make([]domain.InventoryTransaction, 0, len(s.transactions)),
		Losses:       make([]domain.InventoryLoss, 0, len(s.losses)),
		Counts:       make([]domain.InventoryCount, 0, len(s.counts)),
		Entries:      make([]domain.FinancialEntry, 0, len(s.entries)),
		AuditLogs:    make([]domain.AuditLog, len(s.auditLogs)),
		Users:        make([]snapshotUser, 0, len(s.usersByUsername)),
	}
	for _, item := range s.items {
		snap.Items = append(snap.Items, item)
	}
	for _, txn := range s.transactions {
		snap.Transactions = append(snap.Transactions, txn)
	}
	for _, loss := range s.losses {
		snap.Losses = append(snap.Losses, loss)
	}
	for _, count := range s.counts {
		snap.Counts = append(snap.Counts, cloneCount(count))
	}
	for _, entry := range s.entries {
		snap.Entries = append(snap.Entries, entry)
	}
	copy(snap.AuditLogs, s.auditLogs)
	for _, user := range s.usersByUsername {
		snap.Users = append(snap.Users, snapshotUser{
			Username:     user.Username,
			PasswordHash: user.Password,
			Role:         user.Role,
			Active:       user.Active,
			CreatedAt:    user.CreatedAt,
		})
	}
	return snap
}

func (s *Store) writeCurrent() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return writeSnapshot(s.snapshotPath, s.capture())
}

// persist is a no-op without a snapshot path. A failed write is logged; the
// in-memory state stays committed and the next successful write catches up.
func (s *Store) persist() {
	if s.snapshotPath == "" {
		return
	}
	if err := s.writeCurrent(); err != nil {
		s.logger.Warn("snapshot write failed", zap.String("path", s.snapshotPath), zap.Error(err))
	}
}

// readSnapshot loads the persisted JSON file if it exists.
func readSnapshot(path string) (*snapshot, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(temp, path)
}
