package handlers

import (
	"net/http"

	"github.com/ukydev/fleet-deliveries/internal/middleware"
)

// NewRouter wires the endpoints behind request logging and, when limit is
// positive, a per-client rate limit in requests per second.
func NewRouter(h *EventHandler, limit float64) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/deliveries/changes", h.DeliveryChange)
	mux.HandleFunc("/api/rollover", h.RunRollover)
	mux.HandleFunc("/api/reconcile", h.RunReconcile)
	mux.HandleFunc("/healthz", h.Health)

	var handler http.Handler = mux
	if limit > 0 {
		handler = middleware.NewRateLimitMiddleware(limit, int(limit)+1).RateLimit(handler)
	}
	return middleware.Logging(handler)
}
