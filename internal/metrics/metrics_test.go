package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/stocks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "symbol") == "NOPE" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	})

	ok := HTTPRequestsTotal.WithLabelValues("GET", "/stocks/{symbol}", "200")
	missing := HTTPRequestsTotal.WithLabelValues("GET", "/stocks/{symbol}", "404")
	beforeOK, beforeMissing := testutil.ToFloat64(ok), testutil.ToFloat64(missing)

	for _, sym := range []string{"AAPL", "XOM", "NOPE"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/stocks/"+sym, nil))
	}

	if got := testutil.ToFloat64(ok) - beforeOK; got != 2 {
		t.Errorf("expected 2 ok requests under the route pattern, got %v", got)
	}
	if got := testutil.ToFloat64(missing) - beforeMissing; got != 1 {
		t.Errorf("expected 1 not-found request, got %v", got)
	}
}

func TestHandler_ExposesSimulatorMetrics(t *testing.T) {
	TicksTotal.Inc()
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "marketsim_ticks_total") {
		t.Error("expected marketsim_ticks_total in exposition")
	}
}
