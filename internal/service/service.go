package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/finance"
	"restopos/backend/internal/store"
	"restopos/backend/internal/xid"
)

const tracerName = "restopos/backend/internal/service"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// FinancialBridge delivers entries recorded by approvals to the external
// ledger. Deliver never fails the caller; an undelivered entry stays unposted
// until RetryUnposted gets it through.
type FinancialBridge interface {
	Deliver(ctx context.Context, entry domain.FinancialEntry) domain.FinancialEntry
	RetryUnposted(ctx context.Context, limit int) (domain.FinancialRetryResponse, error)
}

// ReorderNotifier receives an alert whenever an applied transaction leaves an
// item at or below its reorder point.
type ReorderNotifier interface {
	NotifyReorder(ctx context.Context, alert domain.ReorderAlert) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyReorder(context.Context, domain.ReorderAlert) error { return nil }

type Service struct {
	repo     store.Repository
	bridge   FinancialBridge
	notifier ReorderNotifier
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func New(repo store.Repository, bridge FinancialBridge, notifier ReorderNotifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		bridge:   bridge,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// actorName resolves who performs an operation: an explicit name wins, then
// the authenticated actor, then the system actor.
func actorName(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return domain.SystemActor
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if to.IsZero() {
		to = s.now().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.Add(-7 * 24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, normalizeLimit(limit))
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: domain.SystemActor, Role: domain.SystemActor}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// notifyReorder runs after commit; a failed notification never undoes stock.
func (s *Service) notifyReorder(ctx context.Context, alerts []domain.ReorderAlert) {
	for _, alert := range alerts {
		if err := s.notifier.NotifyReorder(ctx, alert); err != nil {
			s.logger.Warn("reorder notification failed",
				zap.String("item_id", alert.ItemID),
				zap.String("transaction_id", alert.TransactionID),
				zap.Error(err),
			)
		}
	}
}

// recordFinancialEntry stores the entry for req inside the approving
// transaction, so an approval never commits without its entry.
func recordFinancialEntry(ctx context.Context, tx store.Tx, req domain.FinancialPostRequest, now time.Time) (domain.FinancialEntry, error) {
	entry, err := finance.NewEntry(req, now)
	if err != nil {
		return domain.FinancialEntry{}, err
	}
	if err := tx.CreateFinancialEntry(ctx, entry); err != nil {
		return domain.FinancialEntry{}, err
	}
	return entry, nil
}

// deliverFinancial hands a committed entry to the bridge. The request context
// may already be gone by then.
func (s *Service) deliverFinancial(ctx context.Context, entry domain.FinancialEntry) domain.FinancialEntry {
	if s.bridge == nil {
		s.logger.Warn("no financial bridge configured, entry left for a later sweep",
			zap.String("entry_id", entry.ID),
			zap.String("reference_type", string(entry.ReferenceType)),
			zap.String("reference_id", entry.ReferenceID),
		)
		return entry
	}
	return s.bridge.Deliver(context.WithoutCancel(ctx), entry)
}

func (s *Service) ListFinancialEntries(ctx context.Context, filter domain.FinancialEntryFilter) ([]domain.FinancialEntry, error) {
	filter.Limit = normalizeLimit(filter.Limit)
	return s.repo.ListFinancialEntries(ctx, filter)
}

// RetryFinancialPosting pushes unposted entries through the bridge again.
func (s *Service) RetryFinancialPosting(ctx context.Context, limit int) (domain.FinancialRetryResponse, error) {
	if s.bridge == nil {
		return domain.FinancialRetryResponse{}, nil
	}
	resp, err := s.bridge.RetryUnposted(ctx, normalizeLimit(limit))
	if err != nil {
		return domain.FinancialRetryResponse{}, err
	}
	s.logAudit(ctx, "financial.retry", "financial_entry", "", fmt.Sprintf("attempted=%d posted=%d", resp.Attempted, resp.Posted))
	return resp, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
