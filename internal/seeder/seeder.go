package seeder

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/auth"
)

const (
	TestAdminKey  = "test-admin-key-12345"
	TestAdminName = "bootstrap"
)

// SeedTestAdminKey creates a well-known admin key for local development.
// Gated behind RUN_SEED=true; creation failure usually means the key exists.
func SeedTestAdminKey(ctx context.Context, store auth.Store, log zerolog.Logger) {
	key := &auth.AdminKey{
		Name:    TestAdminName,
		KeyHash: auth.HashKey(TestAdminKey),
		Active:  true,
	}

	if err := store.Create(ctx, key); err != nil {
		log.Info().Err(err).Msg("admin key may already exist, skipping seed")
		return
	}
	log.Info().Str("key", TestAdminKey).Msg("test admin key created")
}
