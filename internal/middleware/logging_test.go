package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithRequestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := chiMiddleware.RequestID(WithRequestLogging(zap.New(core))(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/boom" {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte("ok"))
		})))

	req := withCert(httptest.NewRequest(http.MethodGet, "/api/status", nil), "firefox")
	req.Header.Set(chiMiddleware.RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)

	served := entries[0].ContextMap()
	assert.Equal(t, "request served", entries[0].Message)
	assert.Equal(t, "GET", served["method"])
	assert.Equal(t, "/api/status", served["path"])
	assert.EqualValues(t, http.StatusOK, served["status"])
	assert.EqualValues(t, 2, served["size"])
	assert.Equal(t, "req-1", served["request_id"])
	assert.Equal(t, "firefox", served["host"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.EqualValues(t, http.StatusInternalServerError, entries[1].ContextMap()["status"])
}
