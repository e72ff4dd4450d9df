package finance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

const defaultPostTimeout = 5 * time.Second

// EntryStore is the part of the repository the bridge needs. Entries are
// created inside the storage transaction that approves their source record.
type EntryStore interface {
	MarkFinancialEntryPosted(ctx context.Context, id string, at time.Time) error
	RecordFinancialEntryFailure(ctx context.Context, id string, reason string, at time.Time) error
	ListFinancialEntries(ctx context.Context, filter domain.FinancialEntryFilter) ([]domain.FinancialEntry, error)
}

// Bridge delivers recorded financial entries to the external ledger. An
// entry is marked posted only after the poster accepted it.
type Bridge struct {
	repo    EntryStore
	poster  Poster
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewBridge(repo EntryStore, poster Poster, timeout time.Duration, logger *zap.Logger) *Bridge {
	if poster == nil {
		poster = UnavailablePoster{}
	}
	if timeout <= 0 {
		timeout = defaultPostTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		repo:     repo,
		poster:   poster,
		timeout:  timeout,
		logger:   logger,
		tracer:   otel.Tracer("restopos/backend/internal/finance"),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
}

func validatePost(req domain.FinancialPostRequest) error {
	if strings.TrimSpace(req.ReferenceID) == "" {
		return fmt.Errorf("%w: reference_id is required", store.ErrValidation)
	}
	switch req.ReferenceType {
	case domain.RefLoss, domain.RefCount:
	default:
		return fmt.Errorf("%w: unknown reference type %q", store.ErrValidation, req.ReferenceType)
	}
	switch req.EntryType {
	case domain.EntryInventoryLoss, domain.EntryInventoryAdjustment:
	default:
		return fmt.Errorf("%w: unknown entry type %q", store.ErrValidation, req.EntryType)
	}
	return nil
}

// NewEntry builds the unposted entry for req. The caller stores it in the
// same storage transaction as the approval it belongs to.
func NewEntry(req domain.FinancialPostRequest, now time.Time) (domain.FinancialEntry, error) {
	if err := validatePost(req); err != nil {
		return domain.FinancialEntry{}, err
	}
	return domain.FinancialEntry{
		ID:            xid.New("fin"),
		EntryType:     req.EntryType,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Amount:        req.Amount,
		Description:   strings.TrimSpace(req.Description),
		IsPosted:      false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Deliver attempts delivery of a stored entry once and returns it with the
// outcome applied. Failures stay on the entry for the sweep to pick up.
func (b *Bridge) Deliver(ctx context.Context, entry domain.FinancialEntry) domain.FinancialEntry {
	b.deliver(ctx, &entry)
	return entry
}

func (b *Bridge) claim(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, busy := b.inflight[id]; busy {
		return false
	}
	b.inflight[id] = struct{}{}
	return true
}

func (b *Bridge) release(id string) {
	b.mu.Lock()
	delete(b.inflight, id)
	b.mu.Unlock()
}

// deliver makes one bounded attempt and records the outcome on entry.
func (b *Bridge) deliver(ctx context.Context, entry *domain.FinancialEntry) bool {
	if entry.IsPosted || !b.claim(entry.ID) {
		return false
	}
	defer b.release(entry.ID)

	ctx, span := b.tracer.Start(ctx, "finance.post_entry", trace.WithAttributes(
		attribute.String("finance.entry_id", entry.ID),
		attribute.String("finance.reference_type", string(entry.ReferenceType)),
		attribute.String("finance.reference_id", entry.ReferenceID),
		attribute.String("finance.amount", entry.Amount.String()),
	))
	defer span.End()

	postCtx, cancel := context.WithTimeout(ctx, b.timeout)
	postErr := b.poster.PostEntry(postCtx, *entry)
	cancel()

	now := b.now()
	if postErr != nil {
		span.RecordError(postErr)
		span.SetStatus(codes.Error, postErr.Error())
		entry.Attempts++
		entry.LastError = postErr.Error()
		entry.UpdatedAt = now
		if err := b.repo.RecordFinancialEntryFailure(ctx, entry.ID, postErr.Error(), now); err != nil {
			b.logger.Error("failed to record posting failure", zap.String("entry_id", entry.ID), zap.Error(err))
		}
		b.logger.Warn("financial entry not posted",
			zap.String("entry_id", entry.ID),
			zap.String("reference_type", string(entry.ReferenceType)),
			zap.String("reference_id", entry.ReferenceID),
			zap.Int("attempts", entry.Attempts),
			zap.Error(postErr),
		)
		return false
	}

	if err := b.repo.MarkFinancialEntryPosted(ctx, entry.ID, now); err != nil {
		// the ledger has it; the next sweep re-sends under the same key
		span.RecordError(err)
		b.logger.Error("failed to mark financial entry posted", zap.String("entry_id", entry.ID), zap.Error(err))
		return false
	}
	span.SetStatus(codes.Ok, "")
	postedAt := now
	entry.IsPosted = true
	entry.PostedAt = &postedAt
	entry.Attempts++
	entry.LastError = ""
	entry.UpdatedAt = now
	b.logger.Info("financial entry posted",
		zap.String("entry_id", entry.ID),
		zap.String("reference_type", string(entry.ReferenceType)),
		zap.String("reference_id", entry.ReferenceID),
	)
	return true
}

// RetryUnposted re-attempts delivery of up to limit unposted entries, oldest
// first.
func (b *Bridge) RetryUnposted(ctx context.Context, limit int) (domain.FinancialRetryResponse, error) {
	entries, err := b.repo.ListFinancialEntries(ctx, domain.FinancialEntryFilter{UnpostedOnly: true, Limit: limit})
	if err != nil {
		return domain.FinancialRetryResponse{}, err
	}

	var resp domain.FinancialRetryResponse
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		resp.Attempted++
		if b.deliver(ctx, &entries[i]) {
			resp.Posted++
		}
	}
	return resp, nil
}

// Run sweeps unposted entries every interval until ctx is done.
func (b *Bridge) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := b.RetryUnposted(ctx, batch)
			if err != nil {
				b.logger.Warn("financial sweep failed", zap.Error(err))
				continue
			}
			if resp.Attempted > 0 {
				b.logger.Info("financial sweep finished",
					zap.Int("attempted", resp.Attempted),
					zap.Int("posted", resp.Posted),
				)
			}
		}
	}
}
