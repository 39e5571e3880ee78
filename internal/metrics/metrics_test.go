package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveGate("entry", "open", 10*time.Millisecond, nil)
	m.ObserveGate("entry", "open", 10*time.Millisecond, errors.New("timeout"))
	m.ObserveGate("entry", "open", 10*time.Millisecond, errors.New("timeout"))
	m.ObserveParking("admit", "ok")
	m.ObserveTransaction("committed")

	if got := testutil.ToFloat64(m.gateRequests.WithLabelValues("entry", "open", "error")); got != 2 {
		t.Fatalf("expected 2 gate errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.gateRequests.WithLabelValues("entry", "open", "ok")); got != 1 {
		t.Fatalf("expected 1 gate success, got %v", got)
	}
	if got := testutil.ToFloat64(m.parkingRequests.WithLabelValues("admit", "ok")); got != 1 {
		t.Fatalf("expected 1 admission, got %v", got)
	}
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected 1 commit, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveGate("exit", "loop", time.Second, nil)
	m.ObserveParking("exit", "notParking")
	m.ObserveTransaction("rolled_back")
}
