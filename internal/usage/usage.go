package usage

import "context"

// Record is one provider's counters for one calendar day. Counters only ever
// increase within a day; there is no decrement operation.
type Record struct {
	ProviderID    string `json:"provider_id"`
	Day           string `json:"day"` // YYYY-MM-DD
	RequestsCount int64  `json:"requests_count"`
	TokensCount   int64  `json:"tokens_count"`
	ErrorsCount   int64  `json:"errors_count"`
}

type Store interface {
	// Increment adds 1 request, tokens tokens, and 1 error if isError to
	// today's record for the provider, creating the row on first use.
	Increment(ctx context.Context, providerID string, tokens int, isError bool) error
	GetForProvider(ctx context.Context, providerID string) ([]*Record, error)
	GetAll(ctx context.Context) ([]*Record, error)
	// PruneOlderThan deletes records strictly before day (YYYY-MM-DD) and
	// returns the number of rows removed.
	PruneOlderThan(ctx context.Context, day string) (int64, error)
}
