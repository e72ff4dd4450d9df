package finance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"restopos/backend/internal/domain"
)

func sampleEntry() domain.FinancialEntry {
	return domain.FinancialEntry{
		ID:            "fin-abc",
		EntryType:     domain.EntryInventoryLoss,
		ReferenceID:   "loss-9",
		ReferenceType: domain.RefLoss,
		Amount:        decimal.RequireFromString("200.00"),
		Description:   "Spoiled tomatoes",
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHTTPPosterSendsIdempotentJSON(t *testing.T) {
	var (
		gotKey  string
		gotAuth string
		body    entryPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	poster := NewHTTPPoster(srv.URL, "ledger-token", time.Second)
	require.NoError(t, poster.PostEntry(context.Background(), sampleEntry()))

	require.Equal(t, "fin-abc", gotKey)
	require.Equal(t, "Bearer ledger-token", gotAuth)
	require.Equal(t, "loss-9", body.ReferenceID)
	require.Equal(t, "INVENTORY_LOSS", body.EntryType)
	require.Equal(t, "200", body.Amount)
}

func TestHTTPPosterTreatsNon2xxAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "ledger closed for period", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewHTTPPoster(srv.URL, "", time.Second).PostEntry(context.Background(), sampleEntry())
	require.Error(t, err)
	require.Contains(t, err.Error(), "422")
}

func TestHTTPPosterWithoutURLIsUnavailable(t *testing.T) {
	err := NewHTTPPoster("", "", time.Second).PostEntry(context.Background(), sampleEntry())
	require.ErrorIs(t, err, ErrPosterUnavailable)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPosterKeysByReference(t *testing.T) {
	writer := &fakeWriter{}
	poster := &KafkaPoster{writer: writer, topic: "ledger.entries"}

	require.NoError(t, poster.PostEntry(context.Background(), sampleEntry()))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	require.Equal(t, "LOSS:loss-9", string(msg.Key))
	carrier := headerCarrier(msg.Headers)
	require.Equal(t, "fin-abc", carrier.Get("idempotency-key"))

	var payload entryPayload
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	require.Equal(t, "fin-abc", payload.ID)
}

func TestKafkaPosterWrapsWriteErrors(t *testing.T) {
	writer := &fakeWriter{err: errors.New("no leader")}
	poster := &KafkaPoster{writer: writer, topic: "ledger.entries"}

	err := poster.PostEntry(context.Background(), sampleEntry())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ledger.entries")
	require.ErrorContains(t, err, "no leader")
}
