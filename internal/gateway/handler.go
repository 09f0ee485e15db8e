package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Handler exposes the dispatcher to the portal pages.
type Handler struct {
	gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

// HandleGenerate serves POST /v1/generate. The page receives either
// {text, provider_used} or an error body carrying the human-readable message;
// mapping quota-exhaustion phrasing to user-facing states is the page's job.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var opts Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if opts.OperationName == "" || opts.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation_name and prompt are required"})
		return
	}

	reply, err := h.gateway.Call(r.Context(), &opts)
	if err != nil {
		var allFailed *AllFailedError
		switch {
		case errors.Is(err, ErrNoProviders):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		case errors.As(err, &allFailed):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
