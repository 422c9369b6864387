package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/cklxx/tunehub/internal/api/middleware"
)

// --- Mock Cache ---

type mockCache struct {
	counter int64
	err     error
	keys    []string
}

func (m *mockCache) Ping(_ context.Context) error { return nil }
func (m *mockCache) SetJobStatus(_ context.Context, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (m *mockCache) GetJobStatus(_ context.Context, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (m *mockCache) DeleteJobStatus(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.keys = append(m.keys, key)
	m.counter++
	return m.counter, nil
}
func (m *mockCache) Close() error { return nil }

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_KeyedByClientHost(t *testing.T) {
	mc := &mockCache{}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Len(t, mc.keys, 1)
	assert.Equal(t, "ratelimit:203.0.113.7", mc.keys[0])
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry will return 61
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_FailsOpenOnCacheError(t *testing.T) {
	mc := &mockCache{err: errors.New("redis down")}
	rl := mw.NewRateLimit(mc, 60)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_ZeroLimitUsesDefault(t *testing.T) {
	mc := &mockCache{}
	rl := mw.NewRateLimit(mc, 0)

	handler := rl.Limit(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogger_PassesBodyThrough(t *testing.T) {
	handler := mw.Logger(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "ok", w.Body.String())
}
