package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
)

const defaultEndpoint = "https://generativelanguage.googleapis.com"

type GeminiAdapter struct {
	client *http.Client
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"system_instruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate   `json:"candidates"`
	UsageMetadata geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New() provider.Adapter {
	return &GeminiAdapter{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *GeminiAdapter) Kind() string {
	return registry.KindGemini
}

func (a *GeminiAdapter) Generate(ctx context.Context, prov *registry.Provider, req *provider.Request) (*provider.Result, error) {
	body, err := json.Marshal(a.mapRequest(req))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	endpoint := prov.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", endpoint, prov.Model, prov.ResolveKey())
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.AdapterError{Provider: prov.Name, Status: resp.StatusCode, Message: string(respBody)}
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: "gemini api returned no candidates"}
	}

	return &provider.Result{
		Text:       geminiResp.Candidates[0].Content.Parts[0].Text,
		TokensUsed: geminiResp.UsageMetadata.PromptTokenCount + geminiResp.UsageMetadata.CandidatesTokenCount,
		Model:      prov.Model,
	}, nil
}

func (a *GeminiAdapter) mapRequest(req *provider.Request) geminiRequest {
	parts := []geminiPart{{Text: req.Prompt}}
	if req.ImageData != "" {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, geminiPart{
			InlineData: &geminiInlineData{MimeType: mime, Data: req.ImageData},
		})
	}

	out := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}

	if system := provider.SystemWithSchema(req); system != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if req.SchemaHint != "" {
		out.GenerationConfig = &generationConfig{ResponseMimeType: "application/json"}
	}
	if req.UseWebSearch {
		out.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}
	return out
}
