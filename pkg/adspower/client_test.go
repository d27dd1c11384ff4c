package adspower

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/balance-cli/internal/resilience"
)

func testPolicy() resilience.Policy {
	return resilience.Policy{Backoff: resilience.Backoff{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}}
}

func newTestClient(srv *httptest.Server, opts ...Option) Client {
	base := []Option{WithBaseURL(srv.URL), WithRateLimit(1000), WithPolicy(testPolicy())}
	return NewClient("test-key", append(base, opts...)...)
}

func TestStartBrowser_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/browser/start", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "k1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "1", r.URL.Query().Get("open_tabs"))
		assert.Equal(t, `["--start-maximized"]`, r.URL.Query().Get("launch_args"))
		w.Write([]byte(`{"code":0,"msg":"success","data":{"ws":{"puppeteer":"ws://127.0.0.1:9222/devtools/browser/abc"},"debug_port":"9222"}}`))
	}))
	defer srv.Close()

	ws, err := newTestClient(srv).StartBrowser(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", ws)
}

func TestStartBrowser_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":-1,"msg":"profile does not exist"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).StartBrowser(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "profile does not exist")
}

func TestStartBrowser_NoEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"ws":{}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).StartBrowser(context.Background(), "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no websocket endpoint")
}

func TestStartBrowser_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"code":0,"data":{"ws":{"puppeteer":"ws://x"}}}`))
	}))
	defer srv.Close()

	ws, err := newTestClient(srv).StartBrowser(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "ws://x", ws)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStartBrowser_NoRetryOnClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).StartBrowser(context.Background(), "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopBrowser(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/browser/stop", r.URL.Path)
		assert.Equal(t, "k1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`{"code":0,"msg":"success"}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv).StopBrowser(context.Background(), "k1"))
}

func TestProfileName(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/user/list", r.URL.Path)
		w.Write([]byte(`{"code":0,"data":{"list":[{"user_id":"k1","name":"Conta 01"}]}}`))
	}))
	defer srv.Close()

	name, err := newTestClient(srv).ProfileName(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "Conta 01", name)
}

func TestProfileName_Empty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"list":[]}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ProfileName(context.Background(), "k1")
	require.Error(t, err)
}

func TestNoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"code":0}`))
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL), WithPolicy(testPolicy()))
	require.NoError(t, c.StopBrowser(context.Background(), "k1"))
}
