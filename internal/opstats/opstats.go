package opstats

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("operation stat not found")

// Stat is the rolling aggregate for one logical operation name. The average
// latency is a true moving average over every recorded call.
type Stat struct {
	OperationName string    `json:"operation_name"`
	LastProvider  string    `json:"last_provider"`
	LastCalledAt  time.Time `json:"last_called_at"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	CallCount     int64     `json:"call_count"`
	SuccessCount  int64     `json:"success_count"`
	ErrorCount    int64     `json:"error_count"`
}

type Store interface {
	// Update creates the stat on first call with count=1 and the given
	// duration as the initial average; afterwards it folds the duration into
	// the moving average as (avg*count + d) / (count+1) and bumps exactly one
	// of success/error count.
	Update(ctx context.Context, operationName, providerName string, durationMs int64, success bool) error
	Get(ctx context.Context, operationName string) (*Stat, error)
	// GetAll returns stats ordered by most recently called first.
	GetAll(ctx context.Context) ([]*Stat, error)
}
