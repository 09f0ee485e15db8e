package admin

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/usage"
)

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	providerID := r.URL.Query().Get("providerId")

	var records []*usage.Record
	var err error
	if providerID != "" {
		records, err = h.usage.GetForProvider(r.Context(), providerID)
	} else {
		records, err = h.usage.GetAll(r.Context())
	}
	if err != nil {
		h.storeError(w, err)
		return
	}
	if records == nil {
		records = []*usage.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) incrementUsage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID string `json:"provider_id"`
		Tokens     int    `json:"tokens"`
		IsError    bool   `json:"is_error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	if err := h.usage.Increment(r.Context(), body.ProviderID, body.Tokens, body.IsError); err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var dayPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func (h *Handler) pruneUsage(w http.ResponseWriter, r *http.Request) {
	before := r.URL.Query().Get("before")
	if !dayPattern.MatchString(before) {
		writeError(w, http.StatusBadRequest, "before must be a YYYY-MM-DD date")
		return
	}

	deleted, err := h.usage.PruneOlderThan(r.Context(), before)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) getFunctionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetAll(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if stats == nil {
		stats = []*opstats.Stat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) updateFunctionStat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OperationName string `json:"operation_name"`
		Provider      string `json:"provider"`
		DurationMs    int64  `json:"duration_ms"`
		Success       bool   `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.OperationName == "" {
		writeError(w, http.StatusBadRequest, "operation_name is required")
		return
	}

	if err := h.stats.Update(r.Context(), body.OperationName, body.Provider, body.DurationMs, body.Success); err != nil {
		h.storeError(w, err)
		return
	}

	stat, err := h.stats.Get(r.Context(), body.OperationName)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

// getQuota reports the advisory rate window for a provider next to its
// declared limits. Nothing here gates dispatch.
func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	if h.window == nil {
		writeError(w, http.StatusNotFound, "rate window tracking is not configured")
		return
	}

	providerID := r.URL.Query().Get("providerId")
	if providerID == "" {
		writeError(w, http.StatusBadRequest, "providerId is required")
		return
	}

	prov, err := h.registry.Get(r.Context(), providerID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	status, err := h.window.Status(r.Context(), providerID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id":               prov.ID,
		"provider":                  prov.Name,
		"declared_tokens_per_min":   prov.TokensPerMinute,
		"declared_requests_per_min": prov.RequestsPerMinute,
		"declared_requests_per_day": prov.RequestsPerDay,
		"window":                    status,
	})
}
