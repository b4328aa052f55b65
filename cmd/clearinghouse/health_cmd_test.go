package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"healthy","service":"clearinghouse-app"}`))
		case "/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","error":"bucket not found"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, runHealthCmd([]string{"--url", srv.URL}, &out, &errOut))
	assert.Equal(t, "OK\n", out.String())

	out.Reset()
	assert.Equal(t, 1, runHealthCmd([]string{"--url", srv.URL, "--ready"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "status 503")
	assert.Contains(t, errOut.String(), "bucket not found")
}

func TestHealthCmd_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var out, errOut bytes.Buffer
	assert.Equal(t, 1, runHealthCmd([]string{"--url", url}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Health check failed")
}

func TestURLFromAddr(t *testing.T) {
	tests := map[string]string{
		"":               "http://localhost:8080",
		":8080":          "http://localhost:8080",
		"0.0.0.0:9000":   "http://localhost:9000",
		"127.0.0.1:8081": "http://127.0.0.1:8081",
		"[::]:8080":      "http://localhost:8080",
	}
	for addr, want := range tests {
		assert.Equal(t, want, urlFromAddr(addr), addr)
	}
}
