package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FramePublished(true)
	m.FrameRejected()
	m.GatewayCall(FlavourTurn, nil, time.Second)
	m.LivePush()
	m.LiveResponse()
	m.LiveSessionStarted()
	m.LiveSessionEnded()
	m.PartDispatched("text")
}

func TestFrameCounters(t *testing.T) {
	m := New()
	m.FramePublished(false)
	m.FramePublished(true)
	m.FramePublished(true)
	m.FrameRejected()

	if got := testutil.ToFloat64(m.framesPublished); got != 3 {
		t.Errorf("Expected 3 published, got %v", got)
	}
	if got := testutil.ToFloat64(m.framesOverwritten); got != 2 {
		t.Errorf("Expected 2 overwritten, got %v", got)
	}
	if got := testutil.ToFloat64(m.framesRejected); got != 1 {
		t.Errorf("Expected 1 rejected, got %v", got)
	}
}

func TestGatewayCall(t *testing.T) {
	m := New()
	m.GatewayCall(FlavourTurn, nil, 300*time.Millisecond)
	m.GatewayCall(FlavourTurn, errors.New("boom"), time.Second)

	if got := testutil.ToFloat64(m.gatewayRequests.WithLabelValues(FlavourTurn, "success")); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.gatewayRequests.WithLabelValues(FlavourTurn, "error")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(m.gatewayLatency); n != 1 {
		t.Errorf("Expected 1 latency series, got %d", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.LivePush()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "robotbox_live_pushes_total") {
		t.Error("Expected live pushes metric in output")
	}
}
