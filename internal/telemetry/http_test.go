package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRouter(mw func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/make_table/{table}/{password}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	return r
}

func TestHTTPMetrics_Middleware(t *testing.T) {
	t.Parallel()

	t.Run("nil metrics pass through", func(t *testing.T) {
		t.Parallel()

		var m *HTTPMetrics
		called := false
		h := m.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, called)
	})

	t.Run("records route pattern, not raw path", func(t *testing.T) {
		t.Parallel()

		reader, mp := newManualProvider(t)
		m, err := NewHTTPMetrics(mp)
		require.NoError(t, err)

		router := newRouter(m.Middleware)
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/make_table/crime/hunter2", nil))

		sum, ok := collect(t, reader, "hi_loader_http_requests_total").Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)

		route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("route"))
		assert.Equal(t, "/make_table/{table}/{password}", route.AsString())
		code, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("status_code"))
		assert.Equal(t, "200", code.AsString())
	})
}

func TestTracingMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("nil provider passes through", func(t *testing.T) {
		t.Parallel()

		rec := httptest.NewRecorder()
		newRouter(TracingMiddleware(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("names spans by route and flags server errors", func(t *testing.T) {
		t.Parallel()

		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		router := newRouter(TracingMiddleware(tp))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/make_table/crime/hunter2", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)

		assert.Equal(t, "GET /make_table/{table}/{password}", spans[0].Name)
		assert.NotContains(t, spans[0].Name, "hunter2")
		assert.NotEqual(t, codes.Error, spans[0].Status.Code)

		assert.Equal(t, "GET /boom", spans[1].Name)
		assert.Equal(t, codes.Error, spans[1].Status.Code)
	})
}
