package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.registry == nil {
		t.Fatal("registry is nil")
	}
}

func TestRecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest(200, 50*time.Millisecond)
	m.RecordRequest(200, 100*time.Millisecond)
	m.RecordRequest(404, 5*time.Millisecond)

	val := counterValue(t, m.RequestsTotal, "status", "200")
	if val != 2 {
		t.Errorf("expected 2 requests with status 200, got %f", val)
	}

	val = counterValue(t, m.RequestsTotal, "status", "404")
	if val != 1 {
		t.Errorf("expected 1 request with status 404, got %f", val)
	}
}

func TestRecordStreamFrame(t *testing.T) {
	m := New()
	m.RecordStreamFrame("ok")
	m.RecordStreamFrame("ok")
	m.RecordStreamFrame("dropped")

	if val := counterValue(t, m.StreamFrames, "result", "ok"); val != 2 {
		t.Errorf("expected 2 ok frames, got %f", val)
	}
	if val := counterValue(t, m.StreamFrames, "result", "dropped"); val != 1 {
		t.Errorf("expected 1 dropped frame, got %f", val)
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	// None of these may panic when metrics are unwired.
	m.RecordRequest(200, time.Millisecond)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordStreamFrame("ok")
	m.RecordTokens(10)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordRequest(200, 10*time.Millisecond)
	m.RecordTokens(42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "loco_requests_total") {
		t.Error("metrics output missing loco_requests_total")
	}
	if !strings.Contains(body, "loco_tokens_total") {
		t.Error("metrics output missing loco_tokens_total")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing go runtime metrics")
	}
}

// counterValue extracts the value of a counter with the given label pairs.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labelPairs ...string) float64 {
	t.Helper()
	labels := prometheus.Labels{}
	for i := 0; i < len(labelPairs); i += 2 {
		labels[labelPairs[i]] = labelPairs[i+1]
	}
	counter, err := cv.GetMetricWith(labels)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}
