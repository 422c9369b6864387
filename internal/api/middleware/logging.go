package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseMeter) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseMeter) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger emits one structured line per request. Job runners do their own
// logging keyed by job_id; this covers the synchronous HTTP surface.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m := &responseMeter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(m, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.status,
			"bytes", m.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
