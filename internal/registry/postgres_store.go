package registry

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

const providerColumns = `id, name, display_name, kind, enabled, priority, endpoint, model,
	api_key_env, api_key, requests_per_minute, requests_per_day, tokens_per_minute,
	created_at, updated_at`

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(
		&p.ID, &p.Name, &p.DisplayName, &p.Kind, &p.Enabled, &p.Priority,
		&p.Endpoint, &p.Model, &p.APIKeyEnv, &p.APIKey,
		&p.RequestsPerMinute, &p.RequestsPerDay, &p.TokensPerMinute,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]*Provider, error) {
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}
	return providers, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Provider, error) {
	return s.list(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY priority ASC, id ASC`)
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*Provider, error) {
	return s.list(ctx, `SELECT `+providerColumns+` FROM providers WHERE enabled = true ORDER BY priority ASC, id ASC`)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id)
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, spec *Spec) (*Provider, error) {
	if err := ValidateCreate(spec); err != nil {
		return nil, err
	}

	p := &Provider{Enabled: true, Priority: 100}
	spec.Apply(p)

	query := `
		INSERT INTO providers (name, display_name, kind, enabled, priority, endpoint, model,
			api_key_env, api_key, requests_per_minute, requests_per_day, tokens_per_minute)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		p.Name, p.DisplayName, p.Kind, p.Enabled, p.Priority, p.Endpoint, p.Model,
		p.APIKeyEnv, p.APIKey, p.RequestsPerMinute, p.RequestsPerDay, p.TokensPerMinute,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, spec *Spec) (*Provider, error) {
	if err := ValidateUpdate(spec); err != nil {
		return nil, err
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	spec.Apply(p)

	query := `
		UPDATE providers
		SET name = $2, display_name = $3, kind = $4, enabled = $5, priority = $6,
			endpoint = $7, model = $8, api_key_env = $9, api_key = $10,
			requests_per_minute = $11, requests_per_day = $12, tokens_per_minute = $13,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = s.db.QueryRow(ctx, query,
		id, p.Name, p.DisplayName, p.Kind, p.Enabled, p.Priority,
		p.Endpoint, p.Model, p.APIKeyEnv, p.APIKey,
		p.RequestsPerMinute, p.RequestsPerDay, p.TokensPerMinute,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update provider: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reorder rewrites priorities as 1..N following orderedIDs in one statement,
// so concurrent readers never observe a half-applied order.
func (s *PostgresStore) Reorder(ctx context.Context, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return &ValidationError{Field: "order", Reason: "must not be empty"}
	}
	query := `
		UPDATE providers
		SET priority = u.ord, updated_at = NOW()
		FROM (
			SELECT unnest($1::uuid[]) AS id,
			       generate_subscripts($1::uuid[], 1) AS ord
		) AS u
		WHERE providers.id = u.id
	`
	if _, err := s.db.Exec(ctx, query, orderedIDs); err != nil {
		return fmt.Errorf("failed to reorder providers: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM providers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count providers: %w", err)
	}
	return n, nil
}
