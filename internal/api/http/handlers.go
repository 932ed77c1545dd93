package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/domain"
	"pairstats/internal/pair"
	"pairstats/internal/service"
	"pairstats/pkg/httputil"
)

type API struct {
	log logger.Logger
	svc *service.Service
}

func NewAPI(log logger.Logger, svc *service.Service) *API {
	return &API{log: log, svc: svc}
}

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readiness fans in health checks of every wired backend.
func (a *API) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.CheckDependency(r.Context()); err != nil {
		_ = httputil.Error(w, r, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// GET /api/pairs/{chain}/{pair}/stats
func (a *API) PairStats(w http.ResponseWriter, r *http.Request) {
	chainID, pairID, ok := a.pairParams(w, r)
	if !ok {
		return
	}

	agg, err := a.svc.Pairs().Get(r.Context(), chainID, pairID)
	if err != nil {
		if errors.Is(err, pair.ErrNotFound) {
			_ = httputil.NotFound(w, r, "pair not found")
			return
		}
		a.log.Errorf("pair stats read failed for %d:%s: %v", chainID, pairID, err)
		_ = httputil.Internal(w, r, "failed to read pair stats")
		return
	}

	_ = httputil.JSON(w, http.StatusOK, agg, nil)
}

// GET /api/pairs/{chain}/{pair}/snapshots?limit=N
func (a *API) PairSnapshots(w http.ResponseWriter, r *http.Request) {
	chainID, pairID, ok := a.pairParams(w, r)
	if !ok {
		return
	}

	agg, err := a.svc.Pairs().Get(r.Context(), chainID, pairID)
	if err != nil {
		if errors.Is(err, pair.ErrNotFound) {
			_ = httputil.NotFound(w, r, "pair not found")
			return
		}
		a.log.Errorf("pair window read failed for %d:%s: %v", chainID, pairID, err)
		_ = httputil.Internal(w, r, "failed to read pair window")
		return
	}

	limit := len(agg.Window)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			_ = httputil.BadRequest(w, r, "limit must be a positive integer")
			return
		}
		if n < limit {
			limit = n
		}
	}

	// window is kept newest-first
	out := make([]domain.HourlySnapshot, 0, limit)
	for _, bucket := range agg.Window[:limit] {
		snap, found, err := a.svc.Snapshots().Get(r.Context(), chainID, pairID, bucket)
		if err != nil {
			a.log.Errorf("snapshot read failed for %d:%s@%d: %v", chainID, pairID, bucket, err)
			_ = httputil.Internal(w, r, "failed to read snapshots")
			return
		}
		if found {
			out = append(out, *snap)
		}
	}

	_ = httputil.JSON(w, http.StatusOK, out, nil)
}

func (a *API) pairParams(w http.ResponseWriter, r *http.Request) (uint32, string, bool) {
	chainRaw := chi.URLParam(r, "chain")
	pairID := chi.URLParam(r, "pair")

	chainID, err := strconv.ParseUint(chainRaw, 10, 32)
	if err != nil {
		_ = httputil.BadRequest(w, r, "chain must be a numeric chain id")
		return 0, "", false
	}
	if pairID == "" {
		_ = httputil.BadRequest(w, r, "pair id is required")
		return 0, "", false
	}
	return uint32(chainID), pairID, true
}
