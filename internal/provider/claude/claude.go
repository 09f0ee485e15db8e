package claude

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

const (
	defaultEndpoint  = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
)

type ClaudeAdapter struct {
	client *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	ID      string        `json:"id"`
	Content []claudeBlock `json:"content"`
	Model   string        `json:"model"`
	Usage   claudeUsage   `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New() provider.Adapter {
	return &ClaudeAdapter{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *ClaudeAdapter) Kind() string {
	return registry.KindAnthropic
}

func (a *ClaudeAdapter) Generate(ctx context.Context, prov *registry.Provider, req *provider.Request) (*provider.Result, error) {
	body, err := json.Marshal(a.mapRequest(prov, req))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	endpoint := prov.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	url := fmt.Sprintf("%s/messages", endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", prov.ResolveKey())
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.AdapterError{Provider: prov.Name, Status: resp.StatusCode, Message: string(respBody)}
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	if len(claudeResp.Content) == 0 {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: "claude api returned no content"}
	}

	return &provider.Result{
		Text:       claudeResp.Content[0].Text,
		TokensUsed: claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		Model:      claudeResp.Model,
	}, nil
}

func (a *ClaudeAdapter) mapRequest(prov *registry.Provider, req *provider.Request) claudeRequest {
	blocks := []claudeBlock{{Type: "text", Text: req.Prompt}}
	if req.ImageData != "" {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		blocks = append(blocks, claudeBlock{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: mime,
				Data:      req.ImageData,
			},
		})
	}

	return claudeRequest{
		Model:     prov.Model,
		MaxTokens: defaultMaxTokens,
		System:    provider.SystemWithSchema(req),
		Messages:  []claudeMessage{{Role: "user", Content: blocks}},
	}
}
