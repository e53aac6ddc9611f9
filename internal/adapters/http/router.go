package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

const (
	serviceName  = "api"
	maxBodyBytes = 64 << 10
)

// AdminDeps are the optional read/write views behind /v1/admin. A nil field
// leaves its routes unregistered.
type AdminDeps struct {
	Rollout ports.RolloutAdmin
	Tiers   ports.TierInspector
	Cache   ports.CacheInspector
}

type Router struct {
	cfg     config.Config
	queryUC ports.QueryService
	admin   AdminDeps
	metrics *metrics.HTTPServerMetrics
}

func NewRouter(cfg config.Config, queryUC ports.QueryService, admin AdminDeps, httpMetrics *metrics.HTTPServerMetrics) *Router {
	return &Router{
		cfg:     cfg,
		queryUC: queryUC,
		admin:   admin,
		metrics: httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/query", rt.query)
	rt.registerAdmin(api)

	var limited http.Handler = api
	limited = backpressureMiddleware(limited, rt.cfg.APIBackpressureMaxInFlight,
		time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond, rt.onReject("backpressure"))
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onReject("rate_limited"))

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.Handle("/v1/", limited)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) registerAdmin(mux *http.ServeMux) {
	auth := func(h http.HandlerFunc) http.Handler {
		return adminAuthMiddleware(h, rt.cfg.AdminToken)
	}
	if rt.admin.Rollout != nil {
		mux.Handle("GET /v1/admin/rollout", auth(rt.rolloutStatus))
		mux.Handle("POST /v1/admin/rollout/{variant}/disable", auth(rt.disableVariant))
		mux.Handle("PUT /v1/admin/rollout/traffic", auth(rt.setTraffic))
	}
	if rt.admin.Tiers != nil {
		mux.Handle("GET /v1/admin/tiers", auth(rt.tierStates))
	}
	if rt.admin.Cache != nil {
		mux.Handle("GET /v1/admin/cache", auth(rt.cacheStats))
	}
}

func (rt *Router) onReject(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordRejected(serviceName, reason)
		}
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.RequestID = requestIDFromContext(r.Context())

	resp, err := rt.queryUC.Ask(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) rolloutStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"variants": rt.admin.Rollout.Snapshot()})
}

func (rt *Router) disableVariant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "manual"
	}

	if err := rt.admin.Rollout.Disable(r.Context(), r.PathValue("variant"), reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": rt.admin.Rollout.Snapshot()})
}

func (rt *Router) setTraffic(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Percent *int `json:"percent"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.Percent == nil {
		writeError(w, r, domain.NewError(domain.ErrInvalidInput, "set traffic", "percent is required"))
		return
	}
	if err := rt.admin.Rollout.SetTraffic(r.Context(), *body.Percent); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": rt.admin.Rollout.Snapshot()})
}

func (rt *Router) tierStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": rt.admin.Tiers.TierStates()})
}

func (rt *Router) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.admin.Cache.Stats())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewError(domain.ErrInvalidInput, "decode request", "request body too large")
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
