package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festion/homelab-gitops-auditor/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New("middleware-test", logging.Config{Level: "error", Format: "text", Output: "stdout"})
}

func TestRecoveryConvertsPanicToInternalError(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Recovery(testLogger()))
	r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggingAssignsTraceIDHeader(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logging(testLogger()))
	r.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestBodyLimitRejectsOversizedContentLength(t *testing.T) {
	bl := NewBodyLimit(10)
	handler := bl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = 100
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Handler(func(r *http.Request) string { return "fixed-key" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimiterCleanupResetsOversizedMap(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	for i := 0; i < 10001; i++ {
		rl.limiterFor(string(rune(i)))
	}
	rl.Cleanup()
	assert.Empty(t, rl.limiters)
}
