package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/report"
)

// analysisTTL bounds how long a rendered envelope stays servable.
// Reports are deterministic, so a cached envelope is only stale once
// the underlying corpus changes.
const analysisTTL = 15 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	engine  *engine.Engine
	config  *domain.Config
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, eng *engine.Engine, cfg *domain.Config, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		engine:  eng,
		config:  cfg,
		version: version,
	}
}

// RunAnalysis handles POST /v1/analyses requests. The body is an
// optional filter; an empty body analyzes the whole corpus. Repeat
// requests with the same filter and configuration are served from
// cache, so they return the same envelope, ID included.
func (h *Handler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse filter (empty body means no filter)
	var filter domain.Filter
	if err := json.NewDecoder(r.Body).Decode(&filter); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	key := h.analysisKey(filter)

	// Serve from cache on repeat
	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil && data != nil {
			writeRawJSON(w, http.StatusOK, data)
			return
		}
	}

	rep, err := h.engine.Run(ctx, filter)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	env := report.NewEnvelope(rep, filter, engine.Version)

	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal analysis envelope", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to render analysis",
		})
		return
	}

	// Cache under the fingerprint and under the envelope ID so
	// GET /v1/analyses/{id} can find it later.
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, data, analysisTTL); err != nil {
			slog.Warn("failed to cache analysis", "error", err)
		}
		if err := h.cache.Set(ctx, "analysis:id:"+env.ID, data, analysisTTL); err != nil {
			slog.Warn("failed to cache analysis by id", "error", err)
		}
	}

	writeRawJSON(w, http.StatusOK, data)
}

// GetAnalysis retrieves a previously rendered envelope by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	analysisID := chi.URLParam(r, "id")

	if analysisID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analysis id is required",
		})
		return
	}

	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "cache not available",
		})
		return
	}

	data, err := h.cache.Get(ctx, "analysis:id:"+analysisID)
	if err != nil {
		slog.Error("failed to get analysis", "id", analysisID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get analysis",
		})
		return
	}
	if data == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}

	writeRawJSON(w, http.StatusOK, data)
}

// GetConfig returns the effective analysis configuration.
// Connection settings and credentials stay out of the response.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engineVersion": engine.Version,
		"analysis":      h.config.Analysis,
		"report":        h.config.Report,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeAnalysisError maps engine failures to HTTP statuses. Corpus
// problems are the client's to fix (wrong filter, bad data), so they
// come back as 422 with the precise record named.
func (h *Handler) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *domain.InsufficientDataError
	var malformed *domain.MalformedRecordError

	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": insufficient.Error(),
		})
	case errors.As(err, &malformed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": malformed.Error(),
		})
	default:
		slog.Error("analysis failed",
			"error", err,
			"trace_id", GetTraceID(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
	}
}

// analysisKey fingerprints the filter together with everything that
// shapes the report. Two requests share a cache entry only when they
// would produce identical output.
func (h *Handler) analysisKey(filter domain.Filter) string {
	payload, _ := json.Marshal(struct {
		Filter   domain.Filter         `json:"filter"`
		Analysis domain.AnalysisConfig `json:"analysis"`
		Report   domain.ReportConfig   `json:"report"`
		Version  string                `json:"version"`
	}{filter, h.config.Analysis, h.config.Report, engine.Version})

	sum := sha256.Sum256(payload)
	return "analysis:" + hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
