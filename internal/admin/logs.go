package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smartwaste/ai-gateway/internal/eventlog"
)

func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := eventlog.Filter{
		Status:        q.Get("status"),
		OperationName: q.Get("functionName"),
	}
	if pid := q.Get("providerId"); pid != "" {
		if _, err := uuid.Parse(pid); err != nil {
			writeError(w, http.StatusBadRequest, "providerId must be a valid UUID")
			return
		}
		filter.ProviderID = pid
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.events.Query(r.Context(), filter)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if entries == nil {
		entries = []*eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) appendLog(w http.ResponseWriter, r *http.Request) {
	var entry eventlog.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if entry.OperationName == "" {
		writeError(w, http.StatusBadRequest, "operation_name is required")
		return
	}
	switch entry.Status {
	case eventlog.StatusSuccess, eventlog.StatusError, eventlog.StatusFallback:
	default:
		writeError(w, http.StatusBadRequest, "status must be success, error, or fallback")
		return
	}

	if err := h.events.Append(r.Context(), &entry); err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &entry)
}

// clearLogs is irreversible; the dashboard confirms before calling.
func (h *Handler) clearLogs(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.events.ClearAll(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) exportLogs(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = eventlog.FormatJSON
	}

	entries, err := h.events.Query(r.Context(), eventlog.Filter{Limit: eventlog.ExportLimit})
	if err != nil {
		h.storeError(w, err)
		return
	}

	data, contentType, err := eventlog.Export(entries, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filename := fmt.Sprintf("gateway-logs-%s.%s", time.Now().UTC().Format("2006-01-02"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
