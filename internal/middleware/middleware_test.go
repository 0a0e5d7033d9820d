package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	middleware := NewRateLimitMiddleware(0.001, 1)
	handlerCalled := false
	handler := middleware.RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	t.Run("first request passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/deliveries/changes", nil)
		req.RemoteAddr = "192.168.1.2:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("second request is limited", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest("POST", "/api/deliveries/changes", nil)
		req.RemoteAddr = "192.168.1.2:23456"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.False(t, handlerCalled)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("other client has its own budget", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest("POST", "/api/deliveries/changes", nil)
		req.RemoteAddr = "192.168.1.3:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.True(t, handlerCalled)
	})
}

func TestRateLimitMiddleware_EvictsIdleClients(t *testing.T) {
	m := NewRateLimitMiddleware(0.001, 1)
	now := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	first := m.limiter("10.0.0.1")
	m.limiter("10.0.0.2")
	assert.Len(t, m.limiters, 2)

	now = now.Add(m.IdleTTL / 2)
	assert.Same(t, first, m.limiter("10.0.0.1"))

	now = now.Add(m.IdleTTL)
	m.limiter("10.0.0.3")
	assert.Len(t, m.limiters, 1)
	assert.Contains(t, m.limiters, "10.0.0.3")

	assert.NotSame(t, first, m.limiter("10.0.0.1"), "an evicted client starts with a fresh bucket")
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}

func TestLogging(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
