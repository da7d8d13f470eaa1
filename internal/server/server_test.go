package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lightninginspiration/supabridge"
)

type stubExchanger struct{}

func (stubExchanger) Exchange(_ context.Context, raw string) (*supabridge.ExchangeResult, error) {
	return &supabridge.ExchangeResult{Token: "issued-for-" + raw, User: supabridge.User{ID: "person-1"}}, nil
}

func newTestServer(t *testing.T, optFns ...func(o *Options)) (*Server, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()
	handler := supabridge.NewHandler(stubExchanger{})

	return New(handler, append([]func(o *Options){
		func(o *Options) {
			o.ExchangePaths = []string{"/exchange", "/functions/v1/exchange"}
			o.Gatherer = reg
		},
	}, optFns...)...), reg
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestServer(t *testing.T) {
	t.Run("Exchange Routes", func(t *testing.T) {
		srv, _ := newTestServer(t)

		for _, path := range []string{"/exchange", "/functions/v1/exchange"} {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			req.Header.Set("Authorization", "Bearer upstream")

			rec := do(srv.Handler(), req)
			require.Equal(t, http.StatusOK, rec.Code, path)
			assert.JSONEq(t, `{"supabaseJwt":"issued-for-upstream","user":{"id":"person-1","email":"","name":""}}`, rec.Body.String())
		}
	})

	t.Run("Method Not Allowed Reaches Handler", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := do(srv.Handler(), httptest.NewRequest(http.MethodGet, "/exchange", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), supabridge.MsgMethodNotAllowed)
	})

	t.Run("Preflight", func(t *testing.T) {
		srv, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodOptions, "/exchange", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "authorization,content-type")

		rec := do(srv.Handler(), req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Health", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := do(srv.Handler(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("Metrics", func(t *testing.T) {
		srv, reg := newTestServer(t)
		metrics := supabridge.NewMetrics(reg)
		metrics.RecordVerificationFailure(supabridge.KindKeyNotFound)

		rec := do(srv.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `supabridge_verification_failures_total{kind="key_not_found"} 1`)
	})

	t.Run("Not Found", func(t *testing.T) {
		srv, _ := newTestServer(t)

		rec := do(srv.Handler(), httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Access Log Omits Credentials", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		srv, _ := newTestServer(t, func(o *Options) { o.Logger = zap.New(core) })

		req := httptest.NewRequest(http.MethodPost, "/exchange", nil)
		req.Header.Set("Authorization", "Bearer very-secret-token")
		do(srv.Handler(), req)

		require.Equal(t, 1, logs.FilterMessage("request").Len())
		entry := logs.FilterMessage("request").All()[0]
		assert.Equal(t, "/exchange", entry.ContextMap()["path"])
		assert.EqualValues(t, http.StatusOK, entry.ContextMap()["status"])

		for _, e := range logs.All() {
			for _, v := range e.ContextMap() {
				if str, ok := v.(string); ok {
					assert.NotContains(t, str, "very-secret-token")
				}
			}
		}
	})
}

func TestServe(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.ShutdownTimeout = time.Second })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/exchange", "application/json", strings.NewReader(`{"token":"abc"}`))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "issued-for-abc")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
