package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartwaste/ai-gateway/internal/provider"
	"github.com/smartwaste/ai-gateway/internal/registry"
)

func postGenerate(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/generate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleGenerate(rec, req)
	return rec
}

func TestHandleGenerate_Success(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", text: "sorted"}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})
	defer env.gateway.Close()
	h := NewHandler(env.gateway)

	rec := postGenerate(t, h, `{"operation_name":"classify_waste","prompt":"a battery"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var reply Reply
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("Invalid response body: %v", err)
	}
	if reply.Text != "sorted" || reply.ProviderUsed != "gemini" {
		t.Errorf("Unexpected reply: %+v", reply)
	}
}

func TestHandleGenerate_BadRequests(t *testing.T) {
	env := newTestEnv(nil, nil)
	defer env.gateway.Close()
	h := NewHandler(env.gateway)

	cases := []string{
		`not json`,
		`{"prompt":"hi"}`,
		`{"operation_name":"x"}`,
	}
	for _, body := range cases {
		rec := postGenerate(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleGenerate_NoProviders(t *testing.T) {
	env := newTestEnv(nil, map[string]provider.Adapter{})
	defer env.gateway.Close()
	h := NewHandler(env.gateway)

	rec := postGenerate(t, h, `{"operation_name":"x","prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestHandleGenerate_AllFailed(t *testing.T) {
	a := &fakeAdapter{kind: "gemini", err: &provider.AdapterError{Provider: "gemini", Status: 429, Message: "RATE_LIMIT"}}
	env := newTestEnv([]*registry.Provider{
		testProvider("00000000-0000-0000-0000-00000000000a", "gemini", "gemini", 1),
	}, map[string]provider.Adapter{"gemini": a})
	defer env.gateway.Close()
	h := NewHandler(env.gateway)

	rec := postGenerate(t, h, `{"operation_name":"x","prompt":"hi"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if !strings.Contains(body["error"], "RATE_LIMIT") {
		t.Errorf("Backend wording must reach the caller, got %q", body["error"])
	}
}
