package eventlog

import (
	"context"
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

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO event_logs (provider_id, operation_name, status, duration_ms,
			tokens_used, error_message, request_preview, response_preview)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		entry.ProviderID, entry.OperationName, entry.Status, entry.DurationMs,
		entry.TokensUsed, entry.ErrorMessage,
		Truncate(entry.RequestPreview), Truncate(entry.ResponsePreview),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `
		SELECT id, created_at, COALESCE(provider_id::text, ''), operation_name, status,
			duration_ms, tokens_used, COALESCE(error_message, ''),
			request_preview, response_preview
		FROM event_logs
		WHERE 1=1
	`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		query += fmt.Sprintf(" AND provider_id = $%d::uuid", len(args))
	}
	if filter.OperationName != "" {
		args = append(args, filter.OperationName)
		query += fmt.Sprintf(" AND operation_name = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.ID, &e.CreatedAt, &e.ProviderID, &e.OperationName, &e.Status,
			&e.DurationMs, &e.TokensUsed, &e.ErrorMessage,
			&e.RequestPreview, &e.ResponsePreview,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) ClearAll(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM event_logs`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear log entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
