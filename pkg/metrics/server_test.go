package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer(":0", reg) // :0 lets OS pick available port

	require.NotNil(t, server)
	require.NotNil(t, server.httpServer)
	require.Equal(t, ":0", server.httpServer.Addr)
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

func TestServer_StartAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Register some metrics so /metrics has content
	_, err := New(reg)
	require.NoError(t, err)

	server := NewServer("127.0.0.1:19190", reg)

	// Start the server
	errCh := server.Start()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	// Verify server is running by hitting health endpoint
	resp, err := httpGet(t.Context(), "http://127.0.0.1:19190/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	// Shutdown gracefully
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(ctx)
	require.NoError(t, err)

	// Verify no error was sent on errCh (normal shutdown)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	default:
		// Channel may be closed without error, that's fine
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Register metrics
	m, err := New(reg)
	require.NoError(t, err)

	// Update some metrics so they have values
	m.SetActiveSessions(2)
	m.RecordRequest("overview", nil, 0.01)
	m.IncInsufficientData("IoTPond2")

	server := NewServer("127.0.0.1:19191", reg)
	errCh := server.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		<-errCh
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	// Hit metrics endpoint
	resp, err := httpGet(t.Context(), "http://127.0.0.1:19191/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// Verify some expected metrics are present
	bodyStr := string(body)
	require.Contains(t, bodyStr, "pondwatch_dashboard_active_sessions")
	require.Contains(t, bodyStr, "pondwatch_dashboard_requests_total")
	require.Contains(t, bodyStr, `pondwatch_dashboard_insufficient_data_total{pond="IoTPond2"}`)
}

func TestServer_HealthEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer("127.0.0.1:19192", reg)

	errCh := server.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		<-errCh
	}()

	time.Sleep(50 * time.Millisecond)

	resp, err := httpGet(t.Context(), "http://127.0.0.1:19192/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestServer_ReadyEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := NewServer(":0", reg)

	var dbErr error
	server.AddReadyCheck("clickhouse", func(context.Context) error { return dbErr })
	server.AddReadyCheck("cache", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", rec.Body.String())

	dbErr = errors.New("connection refused")
	rec = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "clickhouse: connection refused", rec.Body.String())
}
