package eventlog

import (
	"context"
	"time"
	"unicode/utf8"
)

// Attempt outcome tags. A fallback is a successful attempt that was not the
// first provider tried for that call.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusFallback = "fallback"
)

// PreviewLimit bounds stored request/response previews so log rows stay small
// and full prompts (which may embed credentials) are never persisted.
const PreviewLimit = 200

// DefaultQueryLimit caps query results when the caller does not set a limit.
const DefaultQueryLimit = 100

// ExportLimit caps the number of newest rows included in an export snapshot.
const ExportLimit = 1000

// Entry is one immutable dispatch-attempt record.
type Entry struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	ProviderID      string    `json:"provider_id,omitempty"` // empty if no backend was attempted
	OperationName   string    `json:"operation_name"`
	Status          string    `json:"status"`
	DurationMs      int64     `json:"duration_ms"`
	TokensUsed      int       `json:"tokens_used"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RequestPreview  string    `json:"request_preview"`
	ResponsePreview string    `json:"response_preview"`
}

type Filter struct {
	Status        string
	ProviderID    string
	OperationName string
	Limit         int
}

type Store interface {
	// Append inserts one row, truncating previews to PreviewLimit.
	Append(ctx context.Context, entry *Entry) error
	// Query returns matching rows newest-first, capped at the filter limit
	// (DefaultQueryLimit when unset).
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
	// ClearAll deletes every row and returns the number removed.
	ClearAll(ctx context.Context) (int64, error)
}

// Truncate bounds s to PreviewLimit bytes without splitting a UTF-8 rune, so
// a truncated preview is always valid for a TEXT column.
func Truncate(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	cut := PreviewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
