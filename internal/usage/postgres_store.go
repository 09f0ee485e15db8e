package usage

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

// Increment is a single upsert so concurrent calls against the same provider
// never lose updates.
func (s *PostgresStore) Increment(ctx context.Context, providerID string, tokens int, isError bool) error {
	errInc := 0
	if isError {
		errInc = 1
	}
	query := `
		INSERT INTO usage_records (provider_id, usage_date, requests_count, tokens_count, errors_count)
		VALUES ($1, CURRENT_DATE, 1, $2, $3)
		ON CONFLICT (provider_id, usage_date) DO UPDATE SET
			requests_count = usage_records.requests_count + 1,
			tokens_count = usage_records.tokens_count + EXCLUDED.tokens_count,
			errors_count = usage_records.errors_count + EXCLUDED.errors_count
	`
	if _, err := s.db.Exec(ctx, query, providerID, tokens, errInc); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

const recordColumns = `provider_id, to_char(usage_date, 'YYYY-MM-DD'), requests_count, tokens_count, errors_count`

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ProviderID, &rec.Day, &rec.RequestsCount, &rec.TokensCount, &rec.ErrorsCount); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) GetForProvider(ctx context.Context, providerID string) ([]*Record, error) {
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM usage_records WHERE provider_id = $1 ORDER BY usage_date DESC`,
		providerID)
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]*Record, error) {
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM usage_records ORDER BY usage_date DESC, provider_id ASC`)
}

func (s *PostgresStore) PruneOlderThan(ctx context.Context, day string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM usage_records WHERE usage_date < $1::date`, day)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return tag.RowsAffected(), nil
}
