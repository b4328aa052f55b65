package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/clearinghouse/pkg/api"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Ping(ctx context.Context) error       { return f(ctx) }
func (f checkFunc) HeadBucket(ctx context.Context) error { return f(ctx) }

func ok(context.Context) error { return nil }

func failing(msg string) checkFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *api.HealthHandler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if method != http.MethodHead {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	}
	return w, body
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := api.NewHealthHandler(checkFunc(ok), checkFunc(ok), 0, nil)
		w, body := serve(t, h, http.MethodGet, "/health")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, map[string]any{"status": "healthy", "service": "clearinghouse-app"}, body)
	})

	t.Run("database down", func(t *testing.T) {
		h := api.NewHealthHandler(failing("dial tcp: connection refused"), checkFunc(ok), 0, nil)
		w, body := serve(t, h, http.MethodGet, "/health")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, map[string]any{"status": "unhealthy", "error": "dial tcp: connection refused"}, body)
	})

	t.Run("bucket is not consulted", func(t *testing.T) {
		h := api.NewHealthHandler(checkFunc(ok), failing("no bucket"), 0, nil)
		w, _ := serve(t, h, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := api.NewHealthHandler(checkFunc(ok), checkFunc(ok), 0, nil)
		w, body := serve(t, h, http.MethodGet, "/ready")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"status": "ready"}, body)
	})

	t.Run("bucket unreachable", func(t *testing.T) {
		h := api.NewHealthHandler(checkFunc(ok), failing("bucket not found"), 0, nil)
		w, body := serve(t, h, http.MethodGet, "/ready")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, map[string]any{"status": "not ready", "error": "bucket not found"}, body)
	})

	t.Run("database checked first", func(t *testing.T) {
		h := api.NewHealthHandler(failing("db down"), failing("bucket not found"), 0, nil)
		_, body := serve(t, h, http.MethodGet, "/ready")
		assert.Equal(t, "db down", body["error"])
	})

	t.Run("check timeout", func(t *testing.T) {
		slow := checkFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		h := api.NewHealthHandler(checkFunc(ok), slow, 10*time.Millisecond, nil)
		w, body := serve(t, h, http.MethodGet, "/ready")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "not ready", body["status"])
	})
}

func TestRoutingErrorsUseProblemDetails(t *testing.T) {
	h := api.NewHealthHandler(checkFunc(ok), checkFunc(ok), 0, nil)

	w, body := serve(t, h, http.MethodPost, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
	assert.Equal(t, float64(405), body["status"])
	assert.Equal(t, "/health", body["instance"])

	w, body = serve(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", body["title"])
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	var problem api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, problem.Detail, "10.0.0.1")
}

func TestServer_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := api.NewHealthHandler(checkFunc(ok), checkFunc(ok), 0, nil)
	srv := api.NewServer(ln.Addr().String(), h.Routes(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
