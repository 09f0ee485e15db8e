package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
)

type fakeRegistry struct {
	providers []*registry.Provider
	err       error
}

func (f *fakeRegistry) ListEnabled(ctx context.Context) ([]*registry.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	var enabled []*registry.Provider
	for _, p := range f.providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}
func (f *fakeRegistry) List(ctx context.Context) ([]*registry.Provider, error) {
	return f.providers, nil
}
func (f *fakeRegistry) Get(ctx context.Context, id string) (*registry.Provider, error) {
	for _, p := range f.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, registry.ErrNotFound
}
func (f *fakeRegistry) Create(ctx context.Context, spec *registry.Spec) (*registry.Provider, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeRegistry) Update(ctx context.Context, id string, spec *registry.Spec) (*registry.Provider, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeRegistry) Delete(ctx context.Context, id string) error     { return nil }
func (f *fakeRegistry) Reorder(ctx context.Context, ids []string) error { return nil }
func (f *fakeRegistry) Count(ctx context.Context) (int, error)          { return len(f.providers), nil }

type probeAdapter struct {
	kind string
	text string
	err  error

	mu      sync.Mutex
	prompts []string
}

func (p *probeAdapter) Kind() string { return p.kind }
func (p *probeAdapter) Generate(ctx context.Context, prov *registry.Provider, req *provider.Request) (*provider.Result, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return &provider.Result{Text: p.text, TokensUsed: 5}, nil
}

func TestCheckAll_MixedOutcomes(t *testing.T) {
	healthy := &probeAdapter{kind: "gemini", text: "OK"}
	broken := &probeAdapter{kind: "openai", err: &provider.AdapterError{Provider: "openai", Status: 401, Message: "invalid key"}}
	reg := &fakeRegistry{providers: []*registry.Provider{
		{ID: "a", Name: "gemini", Kind: "gemini", Enabled: true, Priority: 1},
		{ID: "b", Name: "openai", Kind: "openai", Enabled: true, Priority: 2},
		{ID: "c", Name: "claude", Kind: "anthropic", Enabled: false, Priority: 3},
	}}

	checker := NewChecker(reg, map[string]provider.Adapter{"gemini": healthy, "openai": broken}, zerolog.Nop())
	results, err := checker.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("CheckAll failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results (disabled provider skipped), got %d", len(results))
	}
	if results[0].Provider != "gemini" || !results[0].Success || results[0].Message != "OK" {
		t.Errorf("Unexpected first result: %+v", results[0])
	}
	if results[1].Provider != "openai" || results[1].Success {
		t.Errorf("Unexpected second result: %+v", results[1])
	}
	if results[1].Message == "" {
		t.Error("Failure message must carry the adapter error")
	}

	healthy.mu.Lock()
	defer healthy.mu.Unlock()
	if len(healthy.prompts) != 1 || healthy.prompts[0] != "Reply with OK." {
		t.Errorf("Unexpected probe prompts: %v", healthy.prompts)
	}
}

func TestCheckAll_MissingAdapter(t *testing.T) {
	reg := &fakeRegistry{providers: []*registry.Provider{
		{ID: "a", Name: "gemini", Kind: "gemini", Enabled: true},
	}}
	checker := NewChecker(reg, map[string]provider.Adapter{}, zerolog.Nop())

	results, err := checker.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("CheckAll failed: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("Expected one failed result, got %+v", results)
	}
}

func TestCheckOne(t *testing.T) {
	adapter := &probeAdapter{kind: "gemini", text: "OK"}
	reg := &fakeRegistry{providers: []*registry.Provider{
		{ID: "a", Name: "gemini", Kind: "gemini", Enabled: false},
	}}
	checker := NewChecker(reg, map[string]provider.Adapter{"gemini": adapter}, zerolog.Nop())

	// Disabled providers are still probeable individually.
	result, err := checker.CheckOne(context.Background(), "a")
	if err != nil {
		t.Fatalf("CheckOne failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}

	if _, err := checker.CheckOne(context.Background(), "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
