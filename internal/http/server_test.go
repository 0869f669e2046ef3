package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockConsumer implements ConsumerStatus for testing.
type mockConsumer struct {
	joined bool
}

func (m *mockConsumer) IsJoined() bool { return m.joined }

// mockDBChecker implements DBChecker for testing.
type mockDBChecker struct {
	err error
}

func (m *mockDBChecker) Ping(_ context.Context) error { return m.err }

func newProvider(t *testing.T) *extension.Provider {
	t.Helper()
	p, err := extension.NewDefault(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func serve(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return w, out
}

func TestHealthz_AlwaysOK(t *testing.T) {
	s := NewServer(":0", nil, nil, nil, zap.NewNop())
	w, body := serve(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	require.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	p := newProvider(t)
	tests := []struct {
		name     string
		db       DBChecker
		consumer ConsumerStatus
		provider *extension.Provider
		code     int
		checks   map[string]any
	}{
		{
			name:     "all ok",
			db:       &mockDBChecker{},
			consumer: &mockConsumer{joined: true},
			provider: p,
			code:     http.StatusOK,
			checks:   map[string]any{"postgres": "ok", "kafka": "ok", "registry": "ok"},
		},
		{
			name:     "consumer not joined",
			db:       &mockDBChecker{},
			consumer: &mockConsumer{},
			provider: p,
			code:     http.StatusServiceUnavailable,
			checks:   map[string]any{"postgres": "ok", "kafka": "not_joined", "registry": "ok"},
		},
		{
			name:     "db down",
			db:       &mockDBChecker{err: errors.New("connection refused")},
			consumer: &mockConsumer{joined: true},
			provider: p,
			code:     http.StatusServiceUnavailable,
			checks:   map[string]any{"postgres": "error", "kafka": "ok", "registry": "ok"},
		},
		{
			name:     "decode only",
			provider: p,
			code:     http.StatusOK,
			checks:   map[string]any{"registry": "ok"},
		},
		{
			name:   "no provider",
			code:   http.StatusServiceUnavailable,
			checks: map[string]any{"registry": "empty"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", tt.db, tt.consumer, tt.provider, zap.NewNop())
			w, body := serve(t, s, http.MethodGet, "/readyz", "")
			require.Equal(t, tt.code, w.Code)
			require.Equal(t, tt.checks, body["checks"])
		})
	}
}

func TestReadyz_ClosedProviderIsNotReady(t *testing.T) {
	p, err := extension.NewDefault(zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	s := NewServer(":0", nil, nil, p, zap.NewNop())
	w, _ := serve(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegistry(t *testing.T) {
	s := NewServer(":0", nil, nil, newProvider(t), zap.NewNop())
	w, body := serve(t, s, http.MethodGet, "/registry", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, body["activators"], 4)
	require.NotEmpty(t, body["registries"])
}

func TestDecode(t *testing.T) {
	s := NewServer(":0", nil, nil, newProvider(t), zap.NewNop())

	w, body := serve(t, s, http.MethodPost, "/decode/rsvp-rro", "01 08 0a 00 00 00 18 01")
	require.Equal(t, http.StatusOK, w.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "rsvp.IPPrefix", items[0].(map[string]any)["type"])

	w, _ = serve(t, s, http.MethodPost, "/decode/ospf", "00")
	require.Equal(t, http.StatusNotFound, w.Code)

	w, _ = serve(t, s, http.MethodPost, "/decode/bmp", "zz")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, body = serve(t, s, http.MethodPost, "/decode/rsvp-rro", "01 08 0a")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NotEmpty(t, body["error"])
}
