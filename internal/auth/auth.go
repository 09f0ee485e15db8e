package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrKeyNotFound = errors.New("admin key not found")

const cacheTTL = 5 * time.Minute

// AdminKey authorizes access to the gateway and administrative surfaces.
type AdminKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyHash   string    `json:"key_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (k *AdminKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(k)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (k *AdminKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, k)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*AdminKey, error)
	Create(ctx context.Context, key *AdminKey) error
	Revoke(ctx context.Context, id string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	keyIDKey     contextKey = "admin_key_id"
	keyNameKey   contextKey = "admin_key_name"
	requestIDKey contextKey = "request_id"
)

func HashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// NewMiddleware checks the Bearer token against the key store with a redis
// read-through cache, and stamps a request id on every request.
func NewMiddleware(store Store, cache *redis.Client, log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			var cachedKey AdminKey
			err := cache.Get(ctx, redisKey).Scan(&cachedKey)
			if err == nil {
				ctx = context.WithValue(ctx, keyIDKey, cachedKey.ID)
				ctx = context.WithValue(ctx, keyNameKey, cachedKey.Name)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			} else if err != redis.Nil {
				log.Warn().Err(err).Msg("auth cache lookup failed")
			}

			adminKey, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if err := cache.Set(ctx, redisKey, adminKey, cacheTTL).Err(); err != nil {
				log.Warn().Err(err).Msg("auth cache store failed")
			}

			ctx = context.WithValue(ctx, keyIDKey, adminKey.ID)
			ctx = context.WithValue(ctx, keyNameKey, adminKey.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helpers to extract from context
func GetKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetKeyName(ctx context.Context) string {
	if name, ok := ctx.Value(keyNameKey).(string); ok {
		return name
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
