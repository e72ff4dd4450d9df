package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/finance"
	"restopos/backend/internal/store/memory"
)

type stubPoster struct {
	mu      sync.Mutex
	err     error
	entries []domain.FinancialEntry
}

func (p *stubPoster) PostEntry(_ context.Context, entry domain.FinancialEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return p.err
}

func (p *stubPoster) posted() []domain.FinancialEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.FinancialEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []domain.ReorderAlert
}

func (n *stubNotifier) NotifyReorder(_ context.Context, alert domain.ReorderAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

type testEnv struct {
	svc      *Service
	repo     *memory.Store
	poster   *stubPoster
	notifier *stubNotifier
	ctx      context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.New(zap.NewNop())
	poster := &stubPoster{}
	notifier := &stubNotifier{}
	bridge := finance.NewBridge(repo, poster, time.Second, zap.NewNop())

	return &testEnv{
		svc:      New(repo, bridge, notifier, zap.NewNop()),
		repo:     repo,
		poster:   poster,
		notifier: notifier,
		ctx:      WithActor(context.Background(), domain.Actor{Username: "chef", Role: domain.RoleStaff}),
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

// newItem creates an item holding stock units at cost each.
func (e *testEnv) newItem(t *testing.T, name string, stock string, cost string) domain.InventoryItem {
	t.Helper()
	item, err := e.svc.CreateItem(e.ctx, domain.ItemCreateRequest{
		Name:         name,
		SKU:          "SKU-" + name,
		CostPerUnit:  dec(cost),
		ReorderPoint: dec("5"),
		InitialStock: decPtr(stock),
	})
	require.NoError(t, err)
	return item
}

func (e *testEnv) item(t *testing.T, id string) domain.InventoryItem {
	t.Helper()
	item, err := e.svc.GetItem(e.ctx, id)
	require.NoError(t, err)
	return item
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got)
}

// requireLedgerConsistent checks the value invariant of every item and the
// stock delta of every applied transaction.
func (e *testEnv) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	items, err := e.repo.ListItems(e.ctx, domain.ItemFilter{IncludeInactive: true})
	require.NoError(t, err)
	for _, item := range items {
		require.Truef(t, item.Value.Equal(item.CurrentStock.Mul(item.CostPerUnit)),
			"item %s value %s != %s * %s", item.ID, item.Value, item.CurrentStock, item.CostPerUnit)
		require.False(t, item.CurrentStock.IsNegative())
	}

	txns, err := e.repo.ListTransactions(e.ctx, domain.TransactionFilter{Status: domain.TxStatusApproved})
	require.NoError(t, err)
	for _, txn := range txns {
		require.Truef(t, txn.NewStock.Sub(txn.PreviousStock).Equal(txn.SignedQuantity()),
			"transaction %s moved %s -> %s for %s %s", txn.ID, txn.PreviousStock, txn.NewStock, txn.Direction, txn.Quantity)
	}
}
