package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDispatchMetrics(t *testing.T) {
	m := New("test")
	m.TaskAdmitted("transfer", 3)
	m.TaskAdmitted("transfer", 4)
	m.TaskRejected(ReasonUnauthorized)
	m.TaskDispatched("transfer", "succeeded", 20*time.Millisecond, 3)
	m.SetState("busy", "created", "ready", "busy", "failed")

	if got := testutil.ToFloat64(m.admitted.WithLabelValues("transfer")); got != 2 {
		t.Fatalf("expected 2 admitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues(ReasonUnauthorized)); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("busy")); got != 1 {
		t.Fatalf("expected busy gauge to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("ready")); got != 0 {
		t.Fatalf("expected ready gauge to be 0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.ObserveHTTPRequest("tasks", http.MethodPost, http.StatusAccepted, 5*time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `test_http_requests_total{code="202",handler="tasks",method="POST"} 1`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", body)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.TaskAdmitted("transfer", 1)
	m.TaskRejected(ReasonInvalid)
	m.TaskDispatched("transfer", "failed", time.Second, 0)
	m.SetState("ready")
	m.ObserveHTTPRequest("tasks", http.MethodGet, http.StatusOK, time.Millisecond)
	if m.Registry() != nil {
		t.Fatal("nil metrics must not expose a registry")
	}
}
