package mw

import (
	"net/http"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type LoggingMiddleware struct {
	log logger.Logger
}

func NewLogging(log logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingRW{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		remoteIP := r.Header.Get("X-Forwarded-For")
		if remoteIP == "" {
			remoteIP = r.RemoteAddr
		}

		m.log.WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": lrw.status,
			"size":   lrw.size,
			"dur_ms": time.Since(start).Milliseconds(),
			"ip":     remoteIP,
			"ua":     r.UserAgent(),
		}).Info("http_request")
	})
}

type loggingRW struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *loggingRW) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingRW) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}
