package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hbarton/webharvest/internal/domainstats"
	"github.com/hbarton/webharvest/internal/ratelimit"
)

type denyAllPolicy struct{}

func (denyAllPolicy) Allowed(context.Context, string, string) bool { return false }

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string, string) bool { return true }

func testClient(t *testing.T, cfg Config, robots RobotsPolicy) *Client {
	t.Helper()
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return NewClient(cfg, ratelimit.New(0), robots, nil, domainstats.NewRegistry(), zap.NewNop())
}

func TestClient_Fetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	c := testClient(t, Config{UserAgent: "harvest-bot", MaxRetries: 2}, nil)
	resp, err := c.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, resp.Attempts)
	require.Contains(t, string(resp.Body), "hello")
}

func TestClient_Fetch_RobotsDenied(t *testing.T) {
	t.Parallel()

	c := testClient(t, Config{MaxRetries: 3}, denyAllPolicy{})
	_, err := c.Fetch(context.Background(), "https://example.com/blocked")
	require.ErrorIs(t, err, ErrRobotsDenied)
}

func TestClient_Fetch_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 3}, allowAllPolicy{})
	resp, err := c.Fetch(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
}

func TestClient_Fetch_Exhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 2}, nil)
	_, err := c.Fetch(context.Background(), srv.URL+"/down")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Attempts)
	require.Error(t, exhausted.Last)
}

func TestClient_Fetch_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, Config{MaxRetries: 5}, nil)
	_, err := c.Fetch(ctx, srv.URL+"/never")
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled) || ctx.Err() != nil)
}

func TestClient_Fetch_DomainStatsRecorded(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	stats := domainstats.NewRegistry()
	c := NewClient(Config{MaxRetries: 1, Timeout: time.Second, BackoffBase: time.Millisecond},
		ratelimit.New(0), nil, nil, stats, zap.NewNop())

	_, err := c.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)

	snap := stats.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, 1, snap[0].TotalRequests)
	require.Zero(t, snap[0].FailedRequests)
}
