package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"restopos/backend/internal/domain"
	"restopos/backend/internal/service"
	"restopos/backend/internal/store"
)

var (
	anyRole      = []string{domain.RoleStaff, domain.RoleManager, domain.RoleAdmin}
	reviewerRole = []string{domain.RoleManager, domain.RoleAdmin}
	adminRole    = []string{domain.RoleAdmin}
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		logger.Warn("crypto/rand unavailable, csrf tokens use a fixed secret", zap.Error(err))
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        logger,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, anyRole...))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions, anyRole...))
	mux.HandleFunc("/api/v1/transactions", a.requireAuth(a.handleTransactions, anyRole...))
	mux.HandleFunc("/api/v1/transactions/", a.requireAuth(a.handleTransactionActions, anyRole...))
	mux.HandleFunc("/api/v1/losses", a.requireAuth(a.handleLosses, anyRole...))
	mux.HandleFunc("/api/v1/losses/", a.requireAuth(a.handleLossActions, anyRole...))
	mux.HandleFunc("/api/v1/loss-reasons", a.requireAuth(a.handleLossReasons, anyRole...))
	mux.HandleFunc("/api/v1/counts", a.requireAuth(a.handleCounts, anyRole...))
	mux.HandleFunc("/api/v1/counts/", a.requireAuth(a.handleCountActions, anyRole...))

	mux.HandleFunc("/api/v1/financial-entries", a.requireAuth(a.handleFinancialEntries, reviewerRole...))
	mux.HandleFunc("/api/v1/financial-entries/retry", a.requireAuth(a.handleFinancialRetry, reviewerRole...))
	mux.HandleFunc("/api/v1/reports/valuation", a.requireAuth(a.handleValuation, reviewerRole...))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, adminRole...))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, adminRole...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// allowRoles narrows a route that is open to every role down to roles for
// one method.
func (a *API) allowRoles(w http.ResponseWriter, r *http.Request, roles ...string) bool {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || !isRoleAllowed(actor.Role, roles) {
		a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
		return false
	}
	return true
}

// allowReviewOf rejects an approval by the actor who recorded the record.
func (a *API) allowReviewOf(w http.ResponseWriter, r *http.Request, author string) bool {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok || strings.EqualFold(actor.Username, author) {
		a.writeError(w, http.StatusForbidden, errors.New("a record cannot be approved by its author"))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token for the current hour bucket.
// Mutating requests carry it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		items, err := a.service.ListItems(r.Context(), domain.ItemFilter{
			CategoryID:      strings.TrimSpace(q.Get("category_id")),
			Search:          q.Get("search"),
			LowStock:        parseBool(q.Get("low_stock")),
			IncludeInactive: parseBool(q.Get("include_inactive")),
			Limit:           parsePositiveLimit(q.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := a.splitActionPath(w, r, "/api/v1/items/")
	if !ok {
		return
	}

	switch action {
	case "":
	case "transactions":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		card, err := a.service.ListItemTransactions(r.Context(), id, limit)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": card})
		return
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown item action"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.service.GetItem(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodPatch:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		var req domain.ItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateItem(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodDelete:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		item, err := a.service.DeleteItem(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		txns, err := a.service.ListTransactions(r.Context(), domain.TransactionFilter{
			ItemID: strings.TrimSpace(q.Get("item_id")),
			Type:   domain.TransactionType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
			Status: domain.TransactionStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
			Limit:  parsePositiveLimit(q.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
	case http.MethodPost:
		var req domain.TransactionCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		txn, err := a.service.CreateTransaction(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": txn})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := a.splitActionPath(w, r, "/api/v1/transactions/")
	if !ok {
		return
	}

	var (
		txn domain.InventoryTransaction
		err error
	)
	switch {
	case action == "" && r.Method == http.MethodGet:
		txn, err = a.service.GetTransaction(r.Context(), id)
	case action == "approve" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		if txn, err = a.service.GetTransaction(r.Context(), id); err != nil {
			break
		}
		if !a.allowReviewOf(w, r, txn.CreatedBy) {
			return
		}
		txn, err = a.service.ApproveTransaction(r.Context(), id, "")
	case action == "reject" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		txn, err = a.service.RejectTransaction(r.Context(), id, "")
	case action == "" || action == "approve" || action == "reject":
		a.writeMethodNotAllowed(w)
		return
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown transaction action"))
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": txn})
}

func (a *API) handleLosses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		losses, err := a.service.ListLosses(r.Context(), domain.LossFilter{
			ItemID: strings.TrimSpace(q.Get("item_id")),
			Status: domain.TransactionStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
			Reason: domain.LossReason(strings.ToUpper(strings.TrimSpace(q.Get("reason")))),
			Limit:  parsePositiveLimit(q.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"losses": losses})
	case http.MethodPost:
		var req domain.LossReportRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		loss, err := a.service.ReportLoss(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"loss": loss})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleLossActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := a.splitActionPath(w, r, "/api/v1/losses/")
	if !ok {
		return
	}

	var (
		loss domain.InventoryLoss
		err  error
	)
	switch {
	case action == "" && r.Method == http.MethodGet:
		loss, err = a.service.GetLoss(r.Context(), id)
	case action == "approve" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		if loss, err = a.service.GetLoss(r.Context(), id); err != nil {
			break
		}
		if !a.allowReviewOf(w, r, loss.ReportedBy) {
			return
		}
		loss, err = a.service.ApproveLoss(r.Context(), id, "")
	case action == "reject" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		loss, err = a.service.RejectLoss(r.Context(), id, "")
	case action == "" || action == "approve" || action == "reject":
		a.writeMethodNotAllowed(w)
		return
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown loss action"))
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loss": loss})
}

func (a *API) handleLossReasons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reasons": domain.LossReasons()})
}

func (a *API) handleCounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		counts, err := a.service.ListCounts(r.Context(), domain.CountFilter{
			Status: domain.CountStatus(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
			Limit:  parsePositiveLimit(q.Get("limit"), 50, 200),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
	case http.MethodPost:
		var req domain.CountCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		count, err := a.service.CreateCount(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"count": count})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleCountActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := a.splitActionPath(w, r, "/api/v1/counts/")
	if !ok {
		return
	}

	var (
		count domain.InventoryCount
		err   error
	)
	switch {
	case action == "" && r.Method == http.MethodGet:
		count, err = a.service.GetCount(r.Context(), id)
	case action == "submit" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		count, err = a.service.SubmitCount(r.Context(), id)
	case action == "approve" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		if count, err = a.service.GetCount(r.Context(), id); err != nil {
			break
		}
		if !a.allowReviewOf(w, r, count.CreatedBy) {
			return
		}
		count, err = a.service.ApproveCount(r.Context(), id, "")
	case action == "reject" && r.Method == http.MethodPost:
		if !a.allowRoles(w, r, reviewerRole...) {
			return
		}
		count, err = a.service.RejectCount(r.Context(), id, "")
	case action == "" || action == "submit" || action == "approve" || action == "reject":
		a.writeMethodNotAllowed(w)
		return
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown count action"))
		return
	}
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (a *API) handleFinancialEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	entries, err := a.service.ListFinancialEntries(r.Context(), domain.FinancialEntryFilter{
		UnpostedOnly:  parseBool(q.Get("unposted")),
		ReferenceType: domain.ReferenceType(strings.ToUpper(strings.TrimSpace(q.Get("reference_type")))),
		Limit:         parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleFinancialRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	resp, err := a.service.RetryFinancialPosting(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleValuation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	valuation, err := a.service.InventoryValuation(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valuation)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff(r.Context())})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		a.writeMethodNotAllowed(w)
	}
}

// splitActionPath turns "/prefix/{id}/{action}" into its id and action.
func (a *API) splitActionPath(w http.ResponseWriter, r *http.Request, prefix string) (string, string, bool) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("id required"))
		return "", "", false
	}
	id, action, _ := strings.Cut(tail, "/")
	if strings.Contains(action, "/") {
		a.writeError(w, http.StatusNotFound, errors.New("unknown path"))
		return "", "", false
	}
	return strings.TrimSpace(id), action, true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

// parseTimeParam accepts RFC3339 or a bare YYYY-MM-DD date. Empty means unset.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return day, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 timestamp or YYYY-MM-DD")
	}
	return at.UTC(), nil
}

// statusFor maps store sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnsupported):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the detail of 5xx errors from clients; 4xx messages are
// meant for the caller.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
