package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryCounters(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveTurn("SALES", "advanced")
	r.ObserveTurn("SALES", "advanced")
	r.ObserveTurn("KYC", "clarify")
	r.ObserveDecision("APPROVED")
	r.ObserveTransition("SALES", "KYC")
	r.ObserveWorker("kyc", true, 20*time.Millisecond)

	if got := testutil.ToFloat64(r.Turns.WithLabelValues("SALES", "advanced")); got != 2 {
		t.Errorf("turns{SALES,advanced} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.Turns.WithLabelValues("KYC", "clarify")); got != 1 {
		t.Errorf("turns{KYC,clarify} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.Decisions.WithLabelValues("APPROVED")); got != 1 {
		t.Errorf("decisions{APPROVED} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.Transitions.WithLabelValues("SALES", "KYC")); got != 1 {
		t.Errorf("transitions{SALES,KYC} = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.WorkerDuration); got != 1 {
		t.Errorf("worker duration series = %d, want 1", got)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	t.Parallel()

	var r *Registry
	r.ObserveTurn("SALES", "advanced")
	r.ObserveWorker("sales", false, time.Second)
	r.ObserveDecision("REJECTED")
	r.ObserveTransition("KYC", "FAILED")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil registry handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.ObserveDecision("CONDITIONAL")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `lendflow_underwriting_decisions_total{decision="CONDITIONAL"} 1`) {
		t.Errorf("exposition missing decision counter:\n%s", body)
	}
}
