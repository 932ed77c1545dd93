package mw

import (
	"net/http"
	"strings"

	"pairstats/internal/config"
)

type CORSMiddleware struct {
	origins string
	methods string
	headers string
}

func NewCORS(cfg *config.CORSConfig) *CORSMiddleware {
	return &CORSMiddleware{
		origins: joinOrDefault(cfg.Origins, "*"),
		methods: joinOrDefault(cfg.Methods, "GET, OPTIONS"),
		headers: joinOrDefault(cfg.Headers, "Authorization, Content-Type"),
	}
}

func (c *CORSMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", c.origins)
			w.Header().Set("Access-Control-Allow-Methods", c.methods)
			w.Header().Set("Access-Control-Allow-Headers", c.headers)
			w.Header().Set("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func joinOrDefault(v []string, def string) string {
	if len(v) == 0 {
		return def
	}
	return strings.Join(v, ",")
}
