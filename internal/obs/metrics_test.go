package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/rooms":                          "/rooms",
		"/rooms/available?start=x":        "/rooms/available",
		"/rooms/01J0ABC":                  "/rooms/:id",
		"/rooms/01J0ABC/status":           "/rooms/:id/status",
		"/meetings/m-1/cancel":            "/meetings/:id/cancel",
		"/meetings/m-1/participants/bob":  "/meetings/:id/participants/:user_id",
		"/devices/d-9":                    "/devices/:id",
		"/sessions/refresh":               "/sessions/refresh",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestObserveBooking(t *testing.T) {
	t.Parallel()

	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveBooking("create", "")
	m.ObserveBooking("create", "conflict")
	m.ObserveBooking("create", "conflict")

	if got := testutil.ToFloat64(m.bookings.WithLabelValues("create", "ok")); got != 1 {
		t.Fatalf("expected 1 ok booking, got %v", got)
	}
	if got := testutil.ToFloat64(m.conflicts); got != 2 {
		t.Fatalf("expected 2 conflicts, got %v", got)
	}

	m.ObserveTransitions(3)
	m.ObserveTransitions(0)
	if got := testutil.ToFloat64(m.statusTransitions); got != 3 {
		t.Fatalf("expected 3 transitions, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveBooking("create", "")
	nilMetrics.ObserveEviction()
}

func TestInstrumentAndHandler(t *testing.T) {
	t.Parallel()

	m := NewMetrics(nil)
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms/r-1", nil))

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/rooms/:id", "418")); got != 1 {
		t.Fatalf("expected 1 request counted, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("expected exposition to include http_requests_total, got %s", rec.Body.String())
	}
}
