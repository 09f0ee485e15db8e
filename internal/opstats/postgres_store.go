package opstats

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// Update folds the new duration into the moving average inside the upsert so
// concurrent updates to the same operation never lose increments.
func (s *PostgresStore) Update(ctx context.Context, operationName, providerName string, durationMs int64, success bool) error {
	succInc, errInc := 1, 0
	if !success {
		succInc, errInc = 0, 1
	}
	query := `
		INSERT INTO operation_stats (operation_name, last_provider, last_called_at,
			avg_duration_ms, call_count, success_count, error_count)
		VALUES ($1, $2, NOW(), $3, 1, $4, $5)
		ON CONFLICT (operation_name) DO UPDATE SET
			last_provider = EXCLUDED.last_provider,
			last_called_at = NOW(),
			avg_duration_ms = (operation_stats.avg_duration_ms * operation_stats.call_count + EXCLUDED.avg_duration_ms)
				/ (operation_stats.call_count + 1),
			call_count = operation_stats.call_count + 1,
			success_count = operation_stats.success_count + EXCLUDED.success_count,
			error_count = operation_stats.error_count + EXCLUDED.error_count
	`
	if _, err := s.db.Exec(ctx, query, operationName, providerName, durationMs, succInc, errInc); err != nil {
		return fmt.Errorf("failed to update operation stat: %w", err)
	}
	return nil
}

const statColumns = `operation_name, last_provider, last_called_at, avg_duration_ms, call_count, success_count, error_count`

func (s *PostgresStore) Get(ctx context.Context, operationName string) (*Stat, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+statColumns+` FROM operation_stats WHERE operation_name = $1`, operationName)

	var st Stat
	err := row.Scan(&st.OperationName, &st.LastProvider, &st.LastCalledAt,
		&st.AvgDurationMs, &st.CallCount, &st.SuccessCount, &st.ErrorCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation stat: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]*Stat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+statColumns+` FROM operation_stats ORDER BY last_called_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation stats: %w", err)
	}
	defer rows.Close()

	var stats []*Stat
	for rows.Next() {
		var st Stat
		err := rows.Scan(&st.OperationName, &st.LastProvider, &st.LastCalledAt,
			&st.AvgDurationMs, &st.CallCount, &st.SuccessCount, &st.ErrorCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation stat: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operation stats: %w", err)
	}
	return stats, nil
}
