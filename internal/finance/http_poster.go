package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"restopos/backend/internal/domain"
)

// HTTPPoster posts entries as JSON to a ledger endpoint. Any 2xx response is
// an acceptance; the entry id travels as Idempotency-Key.
type HTTPPoster struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPPoster(url string, token string, timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = defaultPostTimeout
	}
	return &HTTPPoster{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPPoster) PostEntry(ctx context.Context, entry domain.FinancialEntry) error {
	if p.url == "" {
		return ErrPosterUnavailable
	}
	body, err := json.Marshal(payloadFor(entry))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.ID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPosterUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger rejected entry %s: status %d: %s", entry.ID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
