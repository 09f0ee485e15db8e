package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/eventlog"
	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
	"github.com/smartwaste/ai-gateway/internal/usage"
)

type fakeRegistry struct {
	mu        sync.Mutex
	providers []*registry.Provider
	err       error
	listCalls int
}

func (f *fakeRegistry) ListEnabled(ctx context.Context) ([]*registry.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
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
func (f *fakeRegistry) Delete(ctx context.Context, id string) error  { return nil }
func (f *fakeRegistry) Reorder(ctx context.Context, ids []string) error { return nil }
func (f *fakeRegistry) Count(ctx context.Context) (int, error)       { return len(f.providers), nil }

type usageIncr struct {
	providerID string
	tokens     int
	isError    bool
}

type fakeUsage struct {
	mu    sync.Mutex
	incrs []usageIncr
}

func (f *fakeUsage) Increment(ctx context.Context, providerID string, tokens int, isError bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incrs = append(f.incrs, usageIncr{providerID, tokens, isError})
	return nil
}
func (f *fakeUsage) GetForProvider(ctx context.Context, providerID string) ([]*usage.Record, error) {
	return nil, nil
}
func (f *fakeUsage) GetAll(ctx context.Context) ([]*usage.Record, error)        { return nil, nil }
func (f *fakeUsage) PruneOlderThan(ctx context.Context, day string) (int64, error) { return 0, nil }

type fakeEvents struct {
	mu      sync.Mutex
	entries []*eventlog.Entry
	err     error
}

func (f *fakeEvents) Append(ctx context.Context, entry *eventlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeEvents) Query(ctx context.Context, filter eventlog.Filter) ([]*eventlog.Entry, error) {
	return f.entries, nil
}
func (f *fakeEvents) ClearAll(ctx context.Context) (int64, error) { return 0, nil }

type statUpdate struct {
	operation string
	provider  string
	duration  int64
	success   bool
}

type fakeStats struct {
	mu      sync.Mutex
	updates []statUpdate
}

func (f *fakeStats) Update(ctx context.Context, op, prov string, durationMs int64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statUpdate{op, prov, durationMs, success})
	return nil
}
func (f *fakeStats) Get(ctx context.Context, op string) (*opstats.Stat, error) {
	return nil, opstats.ErrNotFound
}
func (f *fakeStats) GetAll(ctx context.Context) ([]*opstats.Stat, error) { return nil, nil }

type fakeAdapter struct {
	kind string
	text string
	err  error

	mu    sync.Mutex
	calls []string // provider names in call order
}

func (f *fakeAdapter) Kind() string { return f.kind }
func (f *fakeAdapter) Generate(ctx context.Context, prov *registry.Provider, req *provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prov.Name)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Result{Text: f.text, TokensUsed: 30}, nil
}

func testProvider(id, name, kind string, priority int) *registry.Provider {
	return &registry.Provider{
		ID:       id,
		Name:     name,
		Kind:     kind,
		Enabled:  true,
		Priority: priority,
	}
}

type testEnv struct {
	gateway  *Gateway
	registry *fakeRegistry
	usage    *fakeUsage
	events   *fakeEvents
	stats    *fakeStats
}

func newTestEnv(providers []*registry.Provider, adapters map[string]provider.Adapter) *testEnv {
	reg := &fakeRegistry{providers: providers}
	u := &fakeUsage{}
	e := &fakeEvents{}
	s := &fakeStats{}
	g := New(Config{
		Registry: reg,
		Usage:    u,
		Events:   e,
		Stats:    s,
		Adapters: adapters,
		Logger:   zerolog.Nop(),
	})
	return &testEnv{gateway: g, registry: reg, usage: u, events: e, stats: s}
}

func TestCall_FirstProviderSucceeds(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "hello"}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})

	reply, err := env.gateway.Call(context.Background(), &Options{OperationName: "summarize", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.Text != "hello" {
		t.Errorf("Expected text 'hello', got %q", reply.Text)
	}
	if reply.ProviderUsed != "gemini" {
		t.Errorf("Expected provider 'gemini', got %q", reply.ProviderUsed)
	}

	env.gateway.Close()

	if len(env.events.entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(env.events.entries))
	}
	if env.events.entries[0].Status != eventlog.StatusSuccess {
		t.Errorf("Expected success status, got %q", env.events.entries[0].Status)
	}
	if len(env.usage.incrs) != 1 {
		t.Fatalf("Expected 1 usage increment, got %d", len(env.usage.incrs))
	}
	if env.usage.incrs[0].tokens != 30 || env.usage.incrs[0].isError {
		t.Errorf("Unexpected usage increment: %+v", env.usage.incrs[0])
	}
	if len(env.stats.updates) != 1 || !env.stats.updates[0].success {
		t.Errorf("Expected one successful stat update, got %+v", env.stats.updates)
	}
}

func TestCall_FallbackToSecondProvider(t *testing.T) {
	failing := &fakeAdapter{kind: "gemini", err: &provider.AdapterError{Provider: "gemini", Status: 429, Message: "RATE_LIMIT"}}
	working := &fakeAdapter{kind: "openai", text: "ok"}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
		testProvider("00000000-0000-0000-0000-00000000000b", "openai", "openai", 2),
	}, map[string]provider.Adapter{"gemini": failing, "openai": working})

	reply, err := env.gateway.Call(context.Background(), &Options{OperationName: "analyze", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.Text != "ok" || reply.ProviderUsed != "openai" {
		t.Errorf("Expected ok/openai, got %q/%q", reply.Text, reply.ProviderUsed)
	}

	env.gateway.Close()

	if len(env.events.entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(env.events.entries))
	}
	if env.events.entries[0].Status != eventlog.StatusError {
		t.Errorf("Expected first entry error, got %q", env.events.entries[0].Status)
	}
	if env.events.entries[1].Status != eventlog.StatusFallback {
		t.Errorf("Expected second entry fallback, got %q", env.events.entries[1].Status)
	}

	// Usage: one error for gemini, one clean request for openai.
	if len(env.usage.incrs) != 2 {
		t.Fatalf("Expected 2 usage increments, got %d", len(env.usage.incrs))
	}
	if !env.usage.incrs[0].isError {
		t.Errorf("Expected first increment to be an error")
	}
	if env.usage.incrs[1].isError || env.usage.incrs[1].tokens != 30 {
		t.Errorf("Unexpected second increment: %+v", env.usage.incrs[1])
	}
}

func TestCall_AllProvidersFail(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", err: &provider.AdapterError{Provider: "gemini", Message: "boom"}}
	b := &fakeAdapter{kind: "openai", err: &provider.AdapterError{Provider: "openai", Message: "quota exceeded"}}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
		testProvider("00000000-0000-0000-0000-00000000000b", "openai", "openai", 2),
	}, map[string]provider.Adapter{"gemini": a, "openai": b})

	_, err := env.gateway.Call(context.Background(), &Options{OperationName: "analyze", Prompt: "hi"})
	if err == nil {
		t.Fatal("Expected error when all providers fail")
	}

	var allFailed *AllFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("Expected AllFailedError, got %T: %v", err, err)
	}
	if allFailed.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", allFailed.Attempts)
	}

	// The last provider's message must survive for quota detection upstream.
	var adapterErr *provider.AdapterError
	if !errors.As(err, &adapterErr) || adapterErr.Message != "quota exceeded" {
		t.Errorf("Expected wrapped last adapter error, got %v", err)
	}

	env.gateway.Close()

	if len(env.events.entries) != 2 {
		t.Fatalf("Expected one error entry per attempted provider, got %d", len(env.events.entries))
	}
	for _, e := range env.events.entries {
		if e.Status != eventlog.StatusError {
			t.Errorf("Expected error status, got %q", e.Status)
		}
	}
}

func TestCall_NoProvidersAvailable(t *testing.T) {
	env := newTestEnv(nil, map[string]provider.Adapter{})

	_, err := env.gateway.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("Expected ErrNoProviders, got %v", err)
	}
}

func TestCall_DisabledProviderExcludedAfterRefresh(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "a"}
	b := &fakeAdapter{kind: "openai", text: "b"}
	p1 := testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1)
	p2 := testProvider("00000000-0000-0000-0000-00000000000b", "openai", "openai", 2)
	env := newTestEnv([]*registry.Provider{p1, p2}, map[string]provider.Adapter{"gemini": a, "openai": b})

	reply, err := env.gateway.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
	if err != nil || reply.ProviderUsed != "gemini" {
		t.Fatalf("Expected gemini first, got %v / %v", reply, err)
	}

	env.registry.mu.Lock()
	p1.Enabled = false
	env.registry.mu.Unlock()
	env.gateway.InvalidateCache()

	reply, err = env.gateway.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.ProviderUsed != "openai" {
		t.Errorf("Expected openai after disabling gemini, got %q", reply.ProviderUsed)
	}
	env.gateway.Close()
}

func TestCall_CacheAvoidsRegistryReads(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "a"}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})

	for i := 0; i < 3; i++ {
		if _, err := env.gateway.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"}); err != nil {
			t.Fatalf("Call %d failed: %v", i, err)
		}
	}
	env.gateway.Close()

	env.registry.mu.Lock()
	calls := env.registry.listCalls
	env.registry.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 registry read within the TTL, got %d", calls)
	}
}

func TestCall_RegistryUnreachableUsesFallback(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "rescued"}
	reg := &fakeRegistry{err: errors.New("connection refused")}
	g := New(Config{
		Registry: reg,
		Usage:    &fakeUsage{},
		Events:   &fakeEvents{},
		Stats:    &fakeStats{},
		Adapters: map[string]provider.Adapter{"gemini": a},
		Logger:   zerolog.Nop(),
	})
	defer g.Close()

	reply, err := g.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if reply.ProviderUsed != "gemini" {
		t.Errorf("Expected fallback gemini provider, got %q", reply.ProviderUsed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) != 1 {
		t.Errorf("Expected exactly one adapter call, got %d", len(a.calls))
	}
}

// blockingRegistry parks every ListEnabled call until release closes, so
// tests can hold a refresh in flight.
type blockingRegistry struct {
	*fakeRegistry
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	reads   atomic.Int32
}

func (b *blockingRegistry) ListEnabled(ctx context.Context) ([]*registry.Provider, error) {
	b.reads.Add(1)
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.fakeRegistry.ListEnabled(ctx)
}

func newBlockingEnv(providers []*registry.Provider, adapters map[string]provider.Adapter) (*Gateway, *blockingRegistry) {
	reg := &blockingRegistry{
		fakeRegistry: &fakeRegistry{providers: providers},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	g := New(Config{
		Registry: reg,
		Usage:    &fakeUsage{},
		Events:   &fakeEvents{},
		Stats:    &fakeStats{},
		Adapters: adapters,
		Logger:   zerolog.Nop(),
	})
	return g, reg
}

func TestCall_SlowRefreshDoesNotBlockCacheAccess(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "a"}
	g, reg := newBlockingEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})

	callDone := make(chan struct{})
	go func() {
		g.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
		close(callDone)
	}()
	<-reg.entered

	// While the registry read is in flight, cache state must stay reachable.
	invalidated := make(chan struct{})
	go func() {
		g.InvalidateCache()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("cache invalidation blocked behind a registry refresh")
	}

	close(reg.release)
	<-callDone
	g.Close()
}

func TestCall_ConcurrentRefreshCollapses(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "a"}
	g, reg := newBlockingEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"}); err != nil {
				t.Errorf("Call failed: %v", err)
			}
		}()
	}

	<-reg.entered
	// Give the remaining callers time to join the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(reg.release)
	wg.Wait()
	g.Close()

	if n := reg.reads.Load(); n != 1 {
		t.Errorf("Expected concurrent refreshes to share one registry read, got %d", n)
	}
}

func TestCall_ContextCancelledStopsAttempts(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "a"}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})
	defer env.gateway.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.gateway.Call(ctx, &Options{OperationName: "x", Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) != 0 {
		t.Errorf("Expected no adapter calls after cancellation, got %d", len(a.calls))
	}
}

func TestCall_TelemetryFailureDoesNotSurface(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "fine"}
	reg := &fakeRegistry{providers: []*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}}
	g := New(Config{
		Registry: reg,
		Usage:    &fakeUsage{},
		Events:   &fakeEvents{err: errors.New("disk full")},
		Stats:    &fakeStats{},
		Adapters: map[string]provider.Adapter{"gemini": a},
		Logger:   zerolog.Nop(),
	})
	defer g.Close()

	reply, err := g.Call(context.Background(), &Options{OperationName: "x", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Telemetry failure must not fail the call: %v", err)
	}
	if reply.Text != "fine" {
		t.Errorf("Expected text 'fine', got %q", reply.Text)
	}
}

func TestJournal_PreservesAttemptOrder(t *testing.T) {
	events := &fakeEvents{}
	j := newJournal(&fakeUsage{}, events, &fakeStats{}, nil, zerolog.Nop())

	for i := 0; i < 10; i++ {
		status := eventlog.StatusError
		if i%2 == 1 {
			status = eventlog.StatusFallback
		}
		j.record(&attempt{
			provider:  testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
			operation: "op",
			status:    status,
		})
	}
	j.close()

	if len(events.entries) != 10 {
		t.Fatalf("Expected 10 entries, got %d", len(events.entries))
	}
	for i, e := range events.entries {
		want := eventlog.StatusError
		if i%2 == 1 {
			want = eventlog.StatusFallback
		}
		if e.Status != want {
			t.Errorf("Entry %d: expected %q, got %q", i, want, e.Status)
		}
	}
}

func TestJournal_CloseIsIdempotent(t *testing.T) {
	j := newJournal(&fakeUsage{}, &fakeEvents{}, &fakeStats{}, nil, zerolog.Nop())
	j.close()

	done := make(chan struct{})
	go func() {
		j.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second close did not return")
	}

	// Recording after close must not panic.
	j.record(&attempt{provider: testProvider("id", "gemini", "gemini", 1), operation: "op", status: eventlog.StatusSuccess})
}
