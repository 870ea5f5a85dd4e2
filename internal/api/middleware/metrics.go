package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jmin1219/voku/internal/metrics"
)

// Metrics records request counts by status class and request latency.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, statusClass(rw.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// statusClass folds a status code into 2xx, 4xx, and so on to keep label
// cardinality fixed.
func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
