package finance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/store/memory"
)

type recordingPoster struct {
	mu      sync.Mutex
	err     error
	entries []domain.FinancialEntry
}

func (p *recordingPoster) PostEntry(_ context.Context, entry domain.FinancialEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return p.err
}

func (p *recordingPoster) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *recordingPoster) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func lossPost(id string, amount string) domain.FinancialPostRequest {
	return domain.FinancialPostRequest{
		EntryType:     domain.EntryInventoryLoss,
		ReferenceID:   id,
		ReferenceType: domain.RefLoss,
		Amount:        decimal.RequireFromString(amount),
		Description:   "loss " + id,
	}
}

// record stores the entry for req the way an approval does.
func record(t *testing.T, repo *memory.Store, req domain.FinancialPostRequest) domain.FinancialEntry {
	t.Helper()
	entry, err := NewEntry(req, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateFinancialEntry(context.Background(), entry)
	}))
	return entry
}

func storedEntry(t *testing.T, repo *memory.Store, id string) domain.FinancialEntry {
	t.Helper()
	entries, err := repo.ListFinancialEntries(context.Background(), domain.FinancialEntryFilter{})
	require.NoError(t, err)
	for _, entry := range entries {
		if entry.ID == id {
			return entry
		}
	}
	t.Fatalf("financial entry %s not stored", id)
	return domain.FinancialEntry{}
}

func TestDeliverMarksEntryPostedOnSuccess(t *testing.T) {
	repo := memory.New(zap.NewNop())
	poster := &recordingPoster{}
	bridge := NewBridge(repo, poster, time.Second, zap.NewNop())

	entry := bridge.Deliver(context.Background(), record(t, repo, lossPost("loss-1", "200")))
	require.True(t, entry.IsPosted)
	require.NotNil(t, entry.PostedAt)
	require.Equal(t, 1, entry.Attempts)
	require.Equal(t, 1, poster.calls())

	stored := storedEntry(t, repo, entry.ID)
	require.True(t, stored.IsPosted)
	require.True(t, stored.Amount.Equal(decimal.NewFromInt(200)))
}

func TestDeliverFailureLeavesEntryUnpostedAndSweepRecovers(t *testing.T) {
	repo := memory.New(zap.NewNop())
	poster := &recordingPoster{err: errors.New("ledger down")}
	bridge := NewBridge(repo, poster, time.Second, zap.NewNop())
	ctx := context.Background()

	entry := bridge.Deliver(ctx, record(t, repo, lossPost("loss-2", "35.50")))
	require.False(t, entry.IsPosted)
	require.Equal(t, 1, entry.Attempts)
	require.Contains(t, entry.LastError, "ledger down")

	unposted, err := repo.ListFinancialEntries(ctx, domain.FinancialEntryFilter{UnpostedOnly: true})
	require.NoError(t, err)
	require.Len(t, unposted, 1)

	poster.setErr(nil)
	resp, err := bridge.RetryUnposted(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, domain.FinancialRetryResponse{Attempted: 1, Posted: 1}, resp)

	stored := storedEntry(t, repo, entry.ID)
	require.True(t, stored.IsPosted)
	require.Equal(t, 2, stored.Attempts)
	require.Empty(t, stored.LastError)

	resp, err = bridge.RetryUnposted(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, resp.Attempted)
}

func TestSweepPostsEntryThatWasNeverDelivered(t *testing.T) {
	repo := memory.New(zap.NewNop())
	poster := &recordingPoster{}
	bridge := NewBridge(repo, poster, time.Second, zap.NewNop())

	// the process stopped between commit and delivery
	entry := record(t, repo, lossPost("loss-6", "12.5"))
	require.Zero(t, poster.calls())

	resp, err := bridge.RetryUnposted(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, domain.FinancialRetryResponse{Attempted: 1, Posted: 1}, resp)
	require.True(t, storedEntry(t, repo, entry.ID).IsPosted)
}

func TestDeliverSkipsPostedEntry(t *testing.T) {
	repo := memory.New(zap.NewNop())
	poster := &recordingPoster{}
	bridge := NewBridge(repo, poster, time.Second, zap.NewNop())
	ctx := context.Background()

	first := bridge.Deliver(ctx, record(t, repo, lossPost("loss-3", "10")))
	require.True(t, first.IsPosted)
	second := bridge.Deliver(ctx, first)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, poster.calls())
	require.Equal(t, 1, storedEntry(t, repo, first.ID).Attempts)
}

func TestEntryIsUniquePerReference(t *testing.T) {
	repo := memory.New(zap.NewNop())
	record(t, repo, lossPost("loss-7", "10"))

	again, err := NewEntry(lossPost("loss-7", "10"), time.Now().UTC())
	require.NoError(t, err)
	err = repo.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateFinancialEntry(context.Background(), again)
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	entries, err := repo.ListFinancialEntries(context.Background(), domain.FinancialEntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

type blockingPoster struct{}

func (blockingPoster) PostEntry(ctx context.Context, _ domain.FinancialEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDeliverTimesOutWithoutMarkingPosted(t *testing.T) {
	repo := memory.New(zap.NewNop())
	bridge := NewBridge(repo, blockingPoster{}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	entry := bridge.Deliver(context.Background(), record(t, repo, lossPost("loss-4", "1")))
	require.Less(t, time.Since(start), 2*time.Second)
	require.False(t, entry.IsPosted)
	require.Contains(t, entry.LastError, context.DeadlineExceeded.Error())
}

func TestUnavailablePosterKeepsEntryForLater(t *testing.T) {
	repo := memory.New(zap.NewNop())
	bridge := NewBridge(repo, nil, time.Second, zap.NewNop())

	entry := bridge.Deliver(context.Background(), record(t, repo, domain.FinancialPostRequest{
		EntryType:     domain.EntryInventoryAdjustment,
		ReferenceID:   "count-1",
		ReferenceType: domain.RefCount,
		Amount:        decimal.NewFromInt(-45),
	}))
	require.False(t, entry.IsPosted)
	require.Equal(t, ErrPosterUnavailable.Error(), entry.LastError)
	require.Equal(t, ErrPosterUnavailable.Error(), storedEntry(t, repo, entry.ID).LastError)
}

func TestNewEntryRejectsUnknownReference(t *testing.T) {
	_, err := NewEntry(domain.FinancialPostRequest{
		EntryType:     domain.EntryInventoryLoss,
		ReferenceID:   "x",
		ReferenceType: domain.ReferenceType("ORDER"),
	}, time.Now())
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = NewEntry(domain.FinancialPostRequest{
		EntryType:     domain.EntryInventoryLoss,
		ReferenceType: domain.RefLoss,
	}, time.Now())
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	repo := memory.New(zap.NewNop())
	poster := &recordingPoster{err: errors.New("offline")}
	bridge := NewBridge(repo, poster, time.Second, zap.NewNop())

	entry := bridge.Deliver(context.Background(), record(t, repo, lossPost("loss-5", "3")))
	require.False(t, entry.IsPosted)
	poster.setErr(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx, 10*time.Millisecond, 10)
		close(done)
	}()

	require.Eventually(t, func() bool {
		entries, err := repo.ListFinancialEntries(context.Background(), domain.FinancialEntryFilter{})
		return err == nil && len(entries) == 1 && entries[0].IsPosted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}
