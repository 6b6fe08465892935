package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsInterceptor_CountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewMetricsInterceptor())
	r.Get("/floor-plans/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/floor-plans/{id}", http.MethodGet, "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/floor-plans/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/floor-plans/{id}", http.MethodGet, "404"))
	assert.Equal(t, before+1, after)
}
