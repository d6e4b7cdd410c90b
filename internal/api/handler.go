// Package api exposes the search engine over HTTP for UI collaborators.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bosai-one/shelter-search/internal/search"
)

// Searcher is the engine surface the handlers need.
type Searcher interface {
	NearbySearch(ctx context.Context, q search.NearbyQuery) (*search.SearchResponse, error)
	AreaSearch(ctx context.Context, q search.AreaQuery) (*search.SearchResponse, error)
	SchemaStatus(ctx context.Context) *search.SchemaStatus
}

// Handler holds the HTTP handlers for the search API.
type Handler struct {
	engine Searcher
}

// NewHandler creates the API handler around an engine.
func NewHandler(engine Searcher) *Handler {
	return &Handler{engine: engine}
}

// Router assembles the chi router. metricsHandler (e.g. promhttp) is mounted
// at /metrics when non-nil.
func (h *Handler) Router(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/healthz", h.health)
	r.Get("/api/shelters/nearby", h.nearby)
	r.Get("/api/shelters/search", h.area)
	r.Get("/api/schema/status", h.schemaStatus)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		badRequest(w, "lat and lon are required numbers")
		return
	}
	radius := 5.0
	if s := q.Get("radius_km"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			badRequest(w, "radius_km must be a positive number")
			return
		}
		radius = v
	}

	resp, err := h.engine.NearbySearch(r.Context(), search.NearbyQuery{
		Lat:            lat,
		Lon:            lon,
		RadiusKm:       radius,
		Limit:          parseInt(q.Get("limit")),
		Hazards:        parseList(q.Get("hazards")),
		HideIneligible: q.Get("hide_ineligible") == "true",
		Diagnostics:    q.Get("diagnostics") == "true",
	})
	if err != nil {
		transientFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) area(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pref := q.Get("pref")
	keyword := q.Get("q")
	if pref == "" && keyword == "" {
		badRequest(w, "pref or q is required")
		return
	}

	resp, err := h.engine.AreaSearch(r.Context(), search.AreaQuery{
		PrefCode: pref,
		MuniCode: q.Get("muni"),
		Keyword:  keyword,
		Hazards:  parseList(q.Get("hazards")),
		Limit:    parseInt(q.Get("limit")),
	})
	if err != nil {
		transientFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) schemaStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.SchemaStatus(r.Context()))
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": msg})
}

// transientFailure maps a query-execution error to 503. The body keeps the
// degraded shape so UI collaborators handle it the same way as a schema
// outage, and the message is redacted before leaving the process.
func transientFailure(w http.ResponseWriter, err error) {
	zap.L().Error("api: search failed", zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"ok":           false,
		"fetch_status": search.StatusDown,
		"last_error":   search.Redact(err.Error()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
