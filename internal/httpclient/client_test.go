package httpclient_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefordc/housing-insights-loader/internal/httpclient"
)

// newTestServer creates a test server with keep-alives disabled, so closing it
// does not disturb parallel tests sharing the transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func newFastClient(tries uint) httpclient.Client {
	return httpclient.NewDefaultClient(5*time.Second,
		httpclient.WithMaxTries(tries),
		httpclient.WithInitialInterval(time.Millisecond),
	)
}

func TestDefaultClient_Get_Success(t *testing.T) {
	t.Parallel()

	var userAgent, accept string
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer server.Close()

	data, err := newFastClient(1).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"features":[]}`), data)
	assert.Equal(t, httpclient.UserAgent, userAgent)
	assert.Equal(t, "application/json", accept)
}

func TestDefaultClient_Get_Retries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statuses      []int
		maxTries      uint
		wantCalls     int32
		wantErr       string
		wantTemporary bool
	}{
		{
			name:      "recovers after transient 503",
			statuses:  []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK},
			maxTries:  3,
			wantCalls: 3,
		},
		{
			name:      "429 is retried",
			statuses:  []int{http.StatusTooManyRequests, http.StatusOK},
			maxTries:  3,
			wantCalls: 2,
		},
		{
			name:          "gives up after max tries",
			statuses:      []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
			maxTries:      2,
			wantCalls:     2,
			wantErr:       "HTTP 502",
			wantTemporary: true,
		},
		{
			name:      "404 is permanent",
			statuses:  []int{http.StatusNotFound, http.StatusOK},
			maxTries:  3,
			wantCalls: 1,
			wantErr:   "HTTP 404",
		},
		{
			name:      "403 is permanent",
			statuses:  []int{http.StatusForbidden},
			maxTries:  3,
			wantCalls: 1,
			wantErr:   "HTTP 403",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tt.statuses[min(n, len(tt.statuses)-1)]
				w.WriteHeader(status)
				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			data, err := newFastClient(tt.maxTries).Get(context.Background(), server.URL)
			assert.Equal(t, tt.wantCalls, calls.Load())

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, []byte("ok"), data)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var httpErr *httpclient.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.wantTemporary, httpErr.Temporary())
		})
	}
}

func TestDefaultClient_Get_NetworkErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		url           string
		errorContains string
	}{
		{name: "invalid URL scheme", url: "://invalid-url", errorContains: "failed to create request"},
		{name: "unreachable host", url: "http://invalid-host-does-not-exist.local:9999", errorContains: "failed to execute request"},
		{name: "empty URL", url: "", errorContains: "failed to execute request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newFastClient(2).Get(context.Background(), tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestDefaultClient_Get_ContextCancellation(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newFastClient(5).Get(ctx, server.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDefaultClient_Get_SizeLimitByContentLength(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", httpclient.MaxResponseSize+1))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := newFastClient(3).Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum allowed size")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := httpclient.NewHTTPError(http.StatusServiceUnavailable, "https://example.org/crime.geojson", "503 Service Unavailable")
	assert.Equal(t, "HTTP 503 for URL https://example.org/crime.geojson: 503 Service Unavailable", err.Error())

	var httpErr *httpclient.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.Temporary())
	assert.False(t, (&httpclient.HTTPError{StatusCode: http.StatusBadRequest}).Temporary())
}
