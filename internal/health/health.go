package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
)

const (
	probePrompt      = "Reply with OK."
	probeTimeout     = 10 * time.Second
	probeConcurrency = 4
)

// ProbeResult is one provider's health-check outcome. Probes are diagnostic
// traffic: they never touch the event log or the usage ledger, so dashboards
// stay free of synthetic calls.
type ProbeResult struct {
	ProviderID     string `json:"provider_id"`
	Provider       string `json:"provider"`
	Success        bool   `json:"success"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Message        string `json:"message"`
}

// Checker probes providers through the same adapters the dispatcher uses.
type Checker struct {
	registry registry.Store
	adapters map[string]provider.Adapter
	log      zerolog.Logger
}

func NewChecker(store registry.Store, adapters map[string]provider.Adapter, log zerolog.Logger) *Checker {
	return &Checker{registry: store, adapters: adapters, log: log}
}

// CheckAll probes every enabled provider with bounded concurrency and
// returns one result per provider, in priority order.
func (c *Checker) CheckAll(ctx context.Context) ([]*ProbeResult, error) {
	providers, err := c.registry.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*ProbeResult, len(providers))
	sem := make(chan struct{}, probeConcurrency)
	var wg sync.WaitGroup

	for i, prov := range providers {
		wg.Add(1)
		go func(i int, prov *registry.Provider) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = c.probe(ctx, prov)
		}(i, prov)
	}
	wg.Wait()

	return results, nil
}

// CheckOne probes a single provider by id, enabled or not.
func (c *Checker) CheckOne(ctx context.Context, id string) (*ProbeResult, error) {
	prov, err := c.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.probe(ctx, prov), nil
}

func (c *Checker) probe(ctx context.Context, prov *registry.Provider) *ProbeResult {
	adapter, ok := c.adapters[prov.Kind]
	if !ok {
		return &ProbeResult{
			ProviderID: prov.ID,
			Provider:   prov.Name,
			Message:    "no adapter registered for kind " + prov.Kind,
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	result, err := adapter.Generate(probeCtx, prov, &provider.Request{Prompt: probePrompt})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		c.log.Warn().Err(err).Str("provider", prov.Name).Msg("health probe failed")
		return &ProbeResult{
			ProviderID:     prov.ID,
			Provider:       prov.Name,
			ResponseTimeMs: elapsed,
			Message:        err.Error(),
		}
	}

	return &ProbeResult{
		ProviderID:     prov.ID,
		Provider:       prov.Name,
		Success:        true,
		ResponseTimeMs: elapsed,
		Message:        result.Text,
	}
}
