package provider

import (
	"context"
	"fmt"

	"github.com/smartwaste/ai-gateway/internal/registry"
)

// Request is the generic generation request every adapter understands. Each
// adapter maps it onto its backend's transport format.
type Request struct {
	Prompt            string
	SystemInstruction string
	// SchemaHint asks the backend for structured JSON output shaped like the
	// hint. Interpretation of the returned text is the caller's job.
	SchemaHint string
	// UseWebSearch requests backend-side web grounding where supported;
	// adapters without the capability ignore it.
	UseWebSearch bool
	// ImageData is a base64-encoded inline image with its MIME type.
	ImageData string
	ImageMIME string
}

// Result is the normalized outcome of one backend call.
type Result struct {
	Text       string
	TokensUsed int // input + output
	Model      string
}

// Adapter translates the generic request into one backend family's wire
// protocol. Implementations must propagate every failure as *AdapterError;
// nothing is swallowed.
type Adapter interface {
	Kind() string
	Generate(ctx context.Context, prov *registry.Provider, req *Request) (*Result, error)
}

// AdapterError is a single backend attempt failure. Message preserves the
// backend's own wording so quota-exhaustion phrasing survives to the caller.
type AdapterError struct {
	Provider string
	Status   int // 0 for transport failures
	Message  string
	Err      error
}

func (e *AdapterError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s call failed: %s", e.Provider, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// SystemWithSchema folds the schema hint into the system instruction so every
// backend receives the structured-output contract in-band, on top of whatever
// native JSON mode the adapter enables.
func SystemWithSchema(req *Request) string {
	if req.SchemaHint == "" {
		return req.SystemInstruction
	}
	if req.SystemInstruction == "" {
		return "Respond with JSON matching this schema: " + req.SchemaHint
	}
	return req.SystemInstruction + "\nRespond with JSON matching this schema: " + req.SchemaHint
}
