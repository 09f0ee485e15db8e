package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/eventlog"
	"github.com/smartwaste/ai-gateway/internal/gateway"
	"github.com/smartwaste/ai-gateway/internal/health"
	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/registry"
	"github.com/smartwaste/ai-gateway/internal/usage"
	"github.com/smartwaste/ai-gateway/pkg/ratewindow"
)

// Handler is the administrative surface over the registry, ledger, log, and
// stats, plus on-demand health probes. It is the sole writer of providers and
// the read side for every dashboard view.
type Handler struct {
	registry registry.Store
	usage    usage.Store
	events   eventlog.Store
	stats    opstats.Store
	checker  *health.Checker
	window   *ratewindow.Window // optional
	gateway  *gateway.Gateway   // optional, for cache invalidation on mutation
	log      zerolog.Logger
}

type Config struct {
	Registry registry.Store
	Usage    usage.Store
	Events   eventlog.Store
	Stats    opstats.Store
	Checker  *health.Checker
	Window   *ratewindow.Window
	Gateway  *gateway.Gateway
	Logger   zerolog.Logger
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		registry: cfg.Registry,
		usage:    cfg.Usage,
		events:   cfg.Events,
		stats:    cfg.Stats,
		checker:  cfg.Checker,
		window:   cfg.Window,
		gateway:  cfg.Gateway,
		log:      cfg.Logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/providers", h.listProviders)
	r.Post("/providers", h.createProvider)
	r.Put("/providers/reorder", h.reorderProviders)
	r.Put("/providers/{id}", h.updateProvider)
	r.Delete("/providers/{id}", h.deleteProvider)
	r.Post("/providers/{id}/test", h.testProvider)
	r.Post("/health-check", h.healthCheck)

	r.Get("/usage", h.getUsage)
	r.Post("/usage/increment", h.incrementUsage)
	r.Delete("/usage", h.pruneUsage)

	r.Get("/logs", h.queryLogs)
	r.Post("/logs", h.appendLog)
	r.Delete("/logs", h.clearLogs)
	r.Get("/logs/export", h.exportLogs)

	r.Get("/function-stats", h.getFunctionStats)
	r.Post("/function-stats/update", h.updateFunctionStat)

	r.Get("/quota", h.getQuota)

	return r
}

func (h *Handler) invalidateProviderCache() {
	if h.gateway != nil {
		h.gateway.InvalidateCache()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// storeError maps store failures onto HTTP statuses: validation errors are
// the caller's fault, missing rows are 404, everything else is a 500 that
// also gets logged.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	var validation *registry.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, opstats.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error().Err(err).Msg("admin store operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
