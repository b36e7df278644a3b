package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExportsSortedCounters(t *testing.T) {
	m := New()
	m.Inc(SignalsAccepted)
	m.Inc(SignalsAccepted)
	m.Inc(CallsMissed)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("Content-Type=%q, want text/plain exposition format", ct)
	}

	body := rec.Body.String()
	wantLines := []string{
		"# TYPE callbox_events_total counter",
		`callbox_events_total{event="calls_missed"} 1`,
		`callbox_events_total{event="signals_accepted"} 2`,
	}
	for _, line := range wantLines {
		if !strings.Contains(body, line) {
			t.Fatalf("body missing %q:\n%s", line, body)
		}
	}

	// calls_missed sorts before signals_accepted.
	if strings.Index(body, "calls_missed") > strings.Index(body, "signals_accepted") {
		t.Fatalf("counters not sorted:\n%s", body)
	}
}

func TestPrometheusHandler_NilRegistry(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func TestMetrics_AddAndSnapshot(t *testing.T) {
	m := New()
	m.Add(SignalsDelivered, 3)
	m.Inc(SignalsDelivered)

	if got := m.Get(SignalsDelivered); got != 4 {
		t.Fatalf("Get=%d, want 4", got)
	}

	snap := m.Snapshot()
	snap[SignalsDelivered] = 99
	if got := m.Get(SignalsDelivered); got != 4 {
		t.Fatalf("Snapshot is not a copy: Get=%d, want 4", got)
	}
}
