package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/smartwaste/ai-gateway/internal/registry"
)

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.registry.List(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if providers == nil {
		providers = []*registry.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *Handler) createProvider(w http.ResponseWriter, r *http.Request) {
	var spec registry.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prov, err := h.registry.Create(r.Context(), &spec)
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.invalidateProviderCache()
	writeJSON(w, http.StatusCreated, prov)
}

func (h *Handler) updateProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var spec registry.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prov, err := h.registry.Update(r.Context(), id, &spec)
	if err != nil {
		h.storeError(w, err)
		return
	}

	h.invalidateProviderCache()
	writeJSON(w, http.StatusOK, prov)
}

func (h *Handler) deleteProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}

	h.invalidateProviderCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) reorderProviders(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.registry.Reorder(r.Context(), body.Order); err != nil {
		h.storeError(w, err)
		return
	}

	h.invalidateProviderCache()

	providers, err := h.registry.List(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (h *Handler) testProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.checker.CheckOne(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	results, err := h.checker.CheckAll(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
