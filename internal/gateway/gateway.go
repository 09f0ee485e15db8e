package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/smartwaste/ai-gateway/internal/eventlog"
	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
	"github.com/smartwaste/ai-gateway/internal/usage"
	"github.com/smartwaste/ai-gateway/pkg/ratewindow"
)

const defaultCacheTTL = 60 * time.Second

// FallbackProviderID identifies the hard-coded provider served when the
// registry is unreachable. It is a fixed id so its usage rows stay separable
// from configured providers.
const FallbackProviderID = "00000000-0000-0000-0000-000000000001"

// Options is one logical generation request from a portal page.
type Options struct {
	OperationName     string `json:"operation_name"`
	Prompt            string `json:"prompt"`
	SystemInstruction string `json:"system_instruction,omitempty"`
	SchemaHint        string `json:"schema_hint,omitempty"`
	UseWebSearch      bool   `json:"use_web_search,omitempty"`
	ImageData         string `json:"image_data,omitempty"`
	ImageMIME         string `json:"image_mime,omitempty"`
}

// Reply is the first successful provider's result.
type Reply struct {
	Text         string `json:"text"`
	ProviderUsed string `json:"provider_used"`
}

type Config struct {
	Registry registry.Store
	Usage    usage.Store
	Events   eventlog.Store
	Stats    opstats.Store
	Adapters map[string]provider.Adapter
	Window   *ratewindow.Window // optional
	Tracer   trace.Tracer       // optional
	Logger   zerolog.Logger
	CacheTTL time.Duration // default 60s
}

// Gateway dispatches logical calls to the enabled providers in priority
// order, failing over until one succeeds, and journals every attempt.
type Gateway struct {
	registry registry.Store
	adapters map[string]provider.Adapter
	journal  *journal
	tracer   trace.Tracer
	log      zerolog.Logger
	ttl      time.Duration
	breaker  *gobreaker.CircuitBreaker

	flight    singleflight.Group
	mu        sync.Mutex
	cached    []*registry.Provider
	fetchedAt time.Time
}

func New(cfg Config) *Gateway {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gateway")
	}

	// Breaker guards registry reads only: when the database flaps, serve the
	// fallback provider instead of hammering it on every cache refresh.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "registry",
		MaxRequests: 1,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Gateway{
		registry: cfg.Registry,
		adapters: cfg.Adapters,
		journal:  newJournal(cfg.Usage, cfg.Events, cfg.Stats, cfg.Window, cfg.Logger),
		tracer:   tracer,
		log:      cfg.Logger,
		ttl:      ttl,
		breaker:  breaker,
	}
}

// Close drains pending telemetry writes. Call on shutdown.
func (g *Gateway) Close() {
	g.journal.close()
}

// fallbackProviders keeps the system minimally functional when the registry
// cannot be read at all.
func fallbackProviders() []*registry.Provider {
	return []*registry.Provider{{
		ID:        FallbackProviderID,
		Name:      "gemini",
		Kind:      registry.KindGemini,
		Enabled:   true,
		Priority:  1,
		Model:     "gemini-2.0-flash",
		APIKeyEnv: "GEMINI_API_KEY",
	}}
}

// providers returns the enabled, priority-ordered list from the cache,
// refreshing from the registry after the TTL. The mutex guards only the
// cached snapshot; the registry read happens outside it, and concurrent
// refreshes collapse into a single flight so a slow registry never
// serializes dispatch. A refresh failure serves the stale snapshot if one
// exists, otherwise the hard-coded fallback.
func (g *Gateway) providers(ctx context.Context) []*registry.Provider {
	g.mu.Lock()
	cached, fetchedAt := g.cached, g.fetchedAt
	g.mu.Unlock()

	if cached != nil && time.Since(fetchedAt) < g.ttl {
		return cached
	}

	result, err, _ := g.flight.Do("providers", func() (interface{}, error) {
		fresh, err := g.breaker.Execute(func() (interface{}, error) {
			return g.registry.ListEnabled(ctx)
		})
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.cached = fresh.([]*registry.Provider)
		g.fetchedAt = time.Now()
		g.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if cached != nil {
			g.log.Warn().Err(err).Msg("provider refresh failed, serving stale cache")
			return cached
		}
		g.log.Error().Err(err).Msg("provider registry unreachable, using fallback provider")
		return fallbackProviders()
	}
	return result.([]*registry.Provider)
}

// InvalidateCache forces the next call to re-read the registry.
func (g *Gateway) InvalidateCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = nil
}

// Call resolves the ordered provider list and tries each provider's adapter
// until one succeeds. Every attempt is journaled; telemetry never blocks or
// fails the caller. Returns the first success or, when every provider fails,
// an *AllFailedError wrapping the last error.
func (g *Gateway) Call(ctx context.Context, opts *Options) (*Reply, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call")
	defer span.End()
	span.SetAttributes(attribute.String("operation", opts.OperationName))

	providers := g.providers(ctx)
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	req := &provider.Request{
		Prompt:            opts.Prompt,
		SystemInstruction: opts.SystemInstruction,
		SchemaHint:        opts.SchemaHint,
		UseWebSearch:      opts.UseWebSearch,
		ImageData:         opts.ImageData,
		ImageMIME:         opts.ImageMIME,
	}

	var lastErr error
	attempts := 0
	for _, prov := range providers {
		if err := ctx.Err(); err != nil {
			// Caller gave up; do not start another attempt.
			if lastErr == nil {
				return nil, err
			}
			break
		}

		adapter, ok := g.adapters[prov.Kind]
		if !ok {
			lastErr = &provider.AdapterError{Provider: prov.Name, Message: "no adapter registered for kind " + prov.Kind}
			g.log.Error().Str("provider", prov.Name).Str("kind", prov.Kind).Msg("no adapter for provider kind")
			continue
		}

		attempts++
		start := time.Now()
		result, err := adapter.Generate(ctx, prov, req)
		durationMs := time.Since(start).Milliseconds()

		if err != nil {
			g.log.Warn().Err(err).
				Str("provider", prov.Name).
				Str("operation", opts.OperationName).
				Int64("duration_ms", durationMs).
				Msg("provider attempt failed")
			g.journal.record(&attempt{
				provider:       prov,
				operation:      opts.OperationName,
				status:         eventlog.StatusError,
				durationMs:     durationMs,
				errMessage:     err.Error(),
				requestPreview: opts.Prompt,
			})
			lastErr = err
			continue
		}

		status := eventlog.StatusSuccess
		if attempts > 1 {
			// Rescued by a lower-priority provider; telemetry keeps the
			// distinction visible.
			status = eventlog.StatusFallback
		}
		g.journal.record(&attempt{
			provider:        prov,
			operation:       opts.OperationName,
			status:          status,
			durationMs:      durationMs,
			tokens:          result.TokensUsed,
			requestPreview:  opts.Prompt,
			responsePreview: result.Text,
		})

		span.SetAttributes(
			attribute.String("provider", prov.Name),
			attribute.String("outcome", status),
		)
		return &Reply{Text: result.Text, ProviderUsed: prov.Name}, nil
	}

	span.SetAttributes(attribute.String("outcome", "all_failed"))
	return nil, &AllFailedError{Attempts: attempts, Last: lastErr}
}
