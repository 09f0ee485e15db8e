package openai

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

const defaultEndpoint = "https://api.openai.com/v1"

type OpenAIAdapter struct {
	client *http.Client
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// Content is a string for plain text or []openAIContentPart when an image
// rides along.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Model   string         `json:"model"`
}

type openAIChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New() provider.Adapter {
	return &OpenAIAdapter{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *OpenAIAdapter) Kind() string {
	return registry.KindOpenAI
}

func (a *OpenAIAdapter) Generate(ctx context.Context, prov *registry.Provider, req *provider.Request) (*provider.Result, error) {
	body, err := json.Marshal(a.mapRequest(prov, req))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	endpoint := prov.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	url := fmt.Sprintf("%s/chat/completions", endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+prov.ResolveKey())

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.AdapterError{Provider: prov.Name, Status: resp.StatusCode, Message: string(respBody)}
	}

	var openAIResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&openAIResp); err != nil {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: err.Error(), Err: err}
	}

	if len(openAIResp.Choices) == 0 {
		return nil, &provider.AdapterError{Provider: prov.Name, Message: "openai api returned no choices"}
	}

	return &provider.Result{
		Text:       openAIResp.Choices[0].Message.Content,
		TokensUsed: openAIResp.Usage.PromptTokens + openAIResp.Usage.CompletionTokens,
		Model:      openAIResp.Model,
	}, nil
}

func (a *OpenAIAdapter) mapRequest(prov *registry.Provider, req *provider.Request) openAIRequest {
	var messages []openAIMessage
	if system := provider.SystemWithSchema(req); system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}

	if req.ImageData != "" {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		messages = append(messages, openAIMessage{
			Role: "user",
			Content: []openAIContentPart{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &openAIImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", mime, req.ImageData),
				}},
			},
		})
	} else {
		messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})
	}

	out := openAIRequest{
		Model:    prov.Model,
		Messages: messages,
	}
	if req.SchemaHint != "" {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	// UseWebSearch is ignored: chat completions has no search grounding.
	return out
}
