package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerServeAndShutdown(t *testing.T) {
	srv := New(Config{
		Addr: "127.0.0.1:0",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "OK")
		}),
	})
	assert.False(t, srv.Started())
	require.NoError(t, srv.Shutdown(context.Background()), "shutdown before start is a no-op")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()
	require.Eventually(t, srv.Started, time.Second, 5*time.Millisecond)
	assert.Equal(t, l.Addr().String(), srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/anything")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	l2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(l2), ErrAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err, "graceful shutdown is not an error")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServerDefaults(t *testing.T) {
	srv := New(Config{Addr: ":8080"})
	assert.Equal(t, ":8080", srv.Addr())
	assert.Equal(t, 10*time.Second, srv.server.ReadHeaderTimeout)
	assert.Equal(t, 120*time.Second, srv.server.IdleTimeout)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	HealthHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestReadyHandler(t *testing.T) {
	ok := Check{Name: "gateway", Check: func(context.Context) error { return nil }}
	failing := Check{Name: "nats", Check: func(context.Context) error { return errors.New("disconnected") }}

	w := httptest.NewRecorder()
	ReadyHandler(0, ok).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	w = httptest.NewRecorder()
	ReadyHandler(time.Second, ok, failing).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"not ready","checks":{"nats":"disconnected"}}`, w.Body.String())
}

func TestReadyHandlerHonoursTimeout(t *testing.T) {
	slow := Check{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	w := httptest.NewRecorder()
	ReadyHandler(10*time.Millisecond, slow).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}
