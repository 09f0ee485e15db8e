package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrNotFound = errors.New("provider not found")

// Adapter families the gateway knows how to talk to.
const (
	KindGemini    = "gemini"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Provider is one configured generative-AI backend. Priority orders failover
// attempts (lower first); ties are broken by ID so the order is a strict total
// order. The declared per-minute/per-day limits are advisory and never
// enforced before dispatch.
type Provider struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	DisplayName       string    `json:"display_name"`
	Kind              string    `json:"kind"`
	Enabled           bool      `json:"enabled"`
	Priority          int       `json:"priority"`
	Endpoint          string    `json:"endpoint"`
	Model             string    `json:"model"`
	APIKeyEnv         string    `json:"api_key_env"`
	APIKey            string    `json:"-"` // inline secret, never serialized
	RequestsPerMinute int       `json:"requests_per_minute"`
	RequestsPerDay    int       `json:"requests_per_day"`
	TokensPerMinute   int       `json:"tokens_per_minute"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ResolveKey returns the credential for this provider: the inline secret if
// one was configured, otherwise the value of the referenced env var.
func (p *Provider) ResolveKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// Spec is a partial provider shape used for create and update. Nil fields are
// left untouched on update and defaulted on create.
type Spec struct {
	Name              *string `json:"name,omitempty"`
	DisplayName       *string `json:"display_name,omitempty"`
	Kind              *string `json:"kind,omitempty"`
	Enabled           *bool   `json:"enabled,omitempty"`
	Priority          *int    `json:"priority,omitempty"`
	Endpoint          *string `json:"endpoint,omitempty"`
	Model             *string `json:"model,omitempty"`
	APIKeyEnv         *string `json:"api_key_env,omitempty"`
	APIKey            *string `json:"api_key,omitempty"`
	RequestsPerMinute *int    `json:"requests_per_minute,omitempty"`
	RequestsPerDay    *int    `json:"requests_per_day,omitempty"`
	TokensPerMinute   *int    `json:"tokens_per_minute,omitempty"`
}

// ValidationError rejects a malformed registry mutation before persistence.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid provider %s: %s", e.Field, e.Reason)
}

func knownKind(kind string) bool {
	switch kind {
	case KindGemini, KindOpenAI, KindAnthropic:
		return true
	}
	return false
}

// ValidateCreate checks a spec for Create: name and kind are required,
// priority (if set) must be non-negative.
func ValidateCreate(spec *Spec) error {
	if spec.Name == nil || *spec.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if spec.Kind == nil || *spec.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "must not be empty"}
	}
	return ValidateUpdate(spec)
}

// ValidateUpdate checks the fields present in a partial spec.
func ValidateUpdate(spec *Spec) error {
	if spec.Kind != nil && !knownKind(*spec.Kind) {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown adapter kind %q", *spec.Kind)}
	}
	if spec.Priority != nil && *spec.Priority < 0 {
		return &ValidationError{Field: "priority", Reason: "must be a non-negative integer"}
	}
	if spec.RequestsPerMinute != nil && *spec.RequestsPerMinute < 0 {
		return &ValidationError{Field: "requests_per_minute", Reason: "must be a non-negative integer"}
	}
	if spec.RequestsPerDay != nil && *spec.RequestsPerDay < 0 {
		return &ValidationError{Field: "requests_per_day", Reason: "must be a non-negative integer"}
	}
	if spec.TokensPerMinute != nil && *spec.TokensPerMinute < 0 {
		return &ValidationError{Field: "tokens_per_minute", Reason: "must be a non-negative integer"}
	}
	return nil
}

// Apply merges the non-nil fields of spec into p.
func (spec *Spec) Apply(p *Provider) {
	if spec.Name != nil {
		p.Name = *spec.Name
	}
	if spec.DisplayName != nil {
		p.DisplayName = *spec.DisplayName
	}
	if spec.Kind != nil {
		p.Kind = *spec.Kind
	}
	if spec.Enabled != nil {
		p.Enabled = *spec.Enabled
	}
	if spec.Priority != nil {
		p.Priority = *spec.Priority
	}
	if spec.Endpoint != nil {
		p.Endpoint = *spec.Endpoint
	}
	if spec.Model != nil {
		p.Model = *spec.Model
	}
	if spec.APIKeyEnv != nil {
		p.APIKeyEnv = *spec.APIKeyEnv
	}
	if spec.APIKey != nil {
		p.APIKey = *spec.APIKey
	}
	if spec.RequestsPerMinute != nil {
		p.RequestsPerMinute = *spec.RequestsPerMinute
	}
	if spec.RequestsPerDay != nil {
		p.RequestsPerDay = *spec.RequestsPerDay
	}
	if spec.TokensPerMinute != nil {
		p.TokensPerMinute = *spec.TokensPerMinute
	}
}

type Store interface {
	// List returns every provider ordered by priority ascending, id ascending.
	List(ctx context.Context) ([]*Provider, error)
	// ListEnabled returns enabled providers in the same order.
	ListEnabled(ctx context.Context) ([]*Provider, error)
	Get(ctx context.Context, id string) (*Provider, error)
	Create(ctx context.Context, spec *Spec) (*Provider, error)
	// Update merges the non-nil fields of spec and refreshes updated_at.
	Update(ctx context.Context, id string, spec *Spec) (*Provider, error)
	Delete(ctx context.Context, id string) error
	// Reorder rewrites priorities as 1..N following the given id sequence.
	Reorder(ctx context.Context, orderedIDs []string) error
	Count(ctx context.Context) (int, error)
}

// Defaults is the starter provider set inserted at first boot.
func Defaults() []*Spec {
	return []*Spec{
		specOf("gemini", "Google Gemini", KindGemini, 1, "https://generativelanguage.googleapis.com", "gemini-2.0-flash", "GEMINI_API_KEY"),
		specOf("openai", "OpenAI", KindOpenAI, 2, "https://api.openai.com/v1", "gpt-4o-mini", "OPENAI_API_KEY"),
		specOf("claude", "Anthropic Claude", KindAnthropic, 3, "https://api.anthropic.com/v1", "claude-3-5-haiku-20241022", "ANTHROPIC_API_KEY"),
	}
}

func specOf(name, display, kind string, priority int, endpoint, model, keyEnv string) *Spec {
	enabled := true
	return &Spec{
		Name:        &name,
		DisplayName: &display,
		Kind:        &kind,
		Enabled:     &enabled,
		Priority:    &priority,
		Endpoint:    &endpoint,
		Model:       &model,
		APIKeyEnv:   &keyEnv,
	}
}

// SeedDefaults inserts the starter set only when the registry is empty.
// Idempotent, safe to call on every process start.
func SeedDefaults(ctx context.Context, store Store) error {
	n, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count providers: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, spec := range Defaults() {
		if _, err := store.Create(ctx, spec); err != nil {
			return fmt.Errorf("seed provider %s: %w", *spec.Name, err)
		}
	}
	return nil
}
