package prometheus

import (
	"context"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecorder_CountsAndObserves(t *testing.T) {
	registry := prom.NewRegistry()
	recorder := NewMetricsRecorder(WithRegisterer(registry))
	ctx := context.Background()
	tags := map[string]string{"operation": "connect_wallet", "status": "success", "ignored": "x"}

	recorder.IncCounter(ctx, "paygrants.connect_wallet.total", 1, tags)
	recorder.IncCounter(ctx, "paygrants.connect_wallet.total", 2, tags)
	recorder.ObserveHistogram(ctx, "paygrants.connect_wallet.duration_ms", 120, tags)

	counter := recorder.counter("paygrants.connect_wallet.total")
	got := testutil.ToFloat64(counter.With(recorder.labelValues(tags)))
	if got != 3 {
		t.Fatalf("expected counter 3, got %v", got)
	}
	if n := testutil.CollectAndCount(registry, "paygrants_connect_wallet_duration_ms"); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if err := recorder.Err(); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
}

func TestMetricsRecorder_ReusesRegisteredCollectors(t *testing.T) {
	registry := prom.NewRegistry()
	first := NewMetricsRecorder(WithRegisterer(registry), WithLabels("operation"))
	second := NewMetricsRecorder(WithRegisterer(registry), WithLabels("operation"))
	ctx := context.Background()

	first.IncCounter(ctx, "paygrants.record_payment.total", 1, map[string]string{"operation": "record_payment"})
	second.IncCounter(ctx, "paygrants.record_payment.total", 1, map[string]string{"operation": "record_payment"})

	if err := second.Err(); err != nil {
		t.Fatalf("expected shared collector, got %v", err)
	}
	got := testutil.ToFloat64(first.counter("paygrants.record_payment.total").WithLabelValues("record_payment"))
	if got != 2 {
		t.Fatalf("expected both recorders to feed one series, got %v", got)
	}
}

func TestMetricsRecorder_TypeClashIsReported(t *testing.T) {
	registry := prom.NewRegistry()
	recorder := NewMetricsRecorder(WithRegisterer(registry))
	ctx := context.Background()

	recorder.IncCounter(ctx, "paygrants.clash", 1, nil)
	recorder.ObserveHistogram(ctx, "paygrants.clash", 1, nil)
	if recorder.Err() == nil {
		t.Fatalf("expected histogram registration to fail for a counter name")
	}
}
