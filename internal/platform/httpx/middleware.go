// Package httpx holds the small HTTP middleware shared by every service's
// REST surface: CORS, Prometheus request metrics, and JSON error rendering.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/timour/order-microservices/internal/platform/apperr"
	"github.com/timour/order-microservices/internal/platform/metrics"
)

var allowedOrigins = map[string]bool{
	"http://localhost:3000": true,
	"http://localhost:3001": true,
}

// CORS allows the local web client origins and handles preflight requests.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

// Metrics wraps next so every request is recorded in m, labeled by the
// route pattern net/http matched (r.Pattern, populated by ServeMux on 1.22+).
func Metrics(m *metrics.HTTPMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)
		m.RecordRequest(r.Method, r.Pattern, strconv.Itoa(rr.status), time.Since(start))
	})
}

// WriteError renders err as the {code, message} JSON body spec §7 mandates,
// using apperr.Kind to pick the status code when err carries one.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.Internal
	message := "internal error"
	if appErr, ok := apperr.As(err); ok {
		kind = appErr.Kind
		message = appErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(kind),
		"message": message,
	})
}

// WriteJSON writes v as a JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
