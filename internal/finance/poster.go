package finance

import (
	"context"
	"errors"
	"time"

	"restopos/backend/internal/domain"
)

// ErrPosterUnavailable is returned when no financial ledger is configured or
// it cannot be reached.
var ErrPosterUnavailable = errors.New("financial ledger unavailable")

// Poster delivers one entry to the external financial ledger. A nil error
// means the ledger accepted the entry. Implementations must treat entry.ID as
// an idempotency key since the bridge retries.
type Poster interface {
	PostEntry(ctx context.Context, entry domain.FinancialEntry) error
}

// UnavailablePoster is used when no ledger is configured. Entries stay
// unposted until one is.
type UnavailablePoster struct{}

func (UnavailablePoster) PostEntry(context.Context, domain.FinancialEntry) error {
	return ErrPosterUnavailable
}

// entryPayload is the wire shape shared by the HTTP and Kafka posters.
type entryPayload struct {
	ID            string    `json:"id"`
	EntryType     string    `json:"entry_type"`
	ReferenceID   string    `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func payloadFor(entry domain.FinancialEntry) entryPayload {
	return entryPayload{
		ID:            entry.ID,
		EntryType:     string(entry.EntryType),
		ReferenceID:   entry.ReferenceID,
		ReferenceType: string(entry.ReferenceType),
		Amount:        entry.Amount.String(),
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt,
	}
}
