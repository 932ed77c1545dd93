package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pairstats/internal/api/http/mw"
	"pairstats/internal/metrics"
)

func BuildRouter(
	api *API,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", api.Healthz)
	r.Get("/readiness", api.Readiness)
	r.Mount("/metrics", metrics.Handler())

	r.Route("/api", func(apiR chi.Router) {
		if jwtMW != nil {
			apiR.Use(jwtMW.Handler)
		}
		if rateLimitMW != nil {
			apiR.Use(rateLimitMW.Handler)
		}

		apiR.Route("/pairs/{chain}/{pair}", func(pr chi.Router) {
			pr.Get("/stats", api.PairStats)
			pr.Get("/snapshots", api.PairSnapshots)
		})
	})

	return r
}
