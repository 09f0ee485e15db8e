package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*AdminKey, error) {
	query := `
		SELECT id, name, key_hash, active, created_at
		FROM admin_keys
		WHERE key_hash = $1 AND active = true
	`

	var k AdminKey
	err := s.db.QueryRow(ctx, query, HashKey(key)).Scan(
		&k.ID, &k.Name, &k.KeyHash, &k.Active, &k.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get admin key: %w", err)
	}

	return &k, nil
}

func (s *PostgresStore) Create(ctx context.Context, key *AdminKey) error {
	if key.KeyHash == "" {
		return fmt.Errorf("key_hash is required")
	}

	query := `
		INSERT INTO admin_keys (name, key_hash, active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, key.Name, key.KeyHash, key.Active).
		Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin key: %w", err)
	}

	return nil
}

func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE admin_keys SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke admin key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
