package selection

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func testThresholds() Thresholds {
	return Thresholds{MinAccuracy: 0.8, MaxLatencyMs: 5000, MaxErrorRate: 0.1}
}

func TestRecordTruncatesToCap(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	for i := 0; i < maxRecords+5; i++ {
		tr.Record(ModelSonnet, fmt.Sprintf("type-%d", i), Metrics{Accuracy: 0.9}, true)
	}

	if tr.Len() != maxRecords {
		t.Fatalf("expected log capped at %d, got %d", maxRecords, tr.Len())
	}

	// The five oldest entries must be gone; the newest must survive.
	if got := tr.RecentHistory(ModelSonnet, "type-0", 1); len(got) != 0 {
		t.Error("expected oldest record to be truncated")
	}
	if got := tr.RecentHistory(ModelSonnet, fmt.Sprintf("type-%d", maxRecords+4), 1); len(got) != 1 {
		t.Error("expected newest record to survive truncation")
	}
}

func TestRecentHistoryFiltersAndOrders(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	tr.Record(ModelSonnet, TaskClassification, Metrics{LatencyMs: 100}, true)
	tr.Record(ModelHaiku, TaskClassification, Metrics{LatencyMs: 200}, true)
	tr.Record(ModelSonnet, TaskTextGeneration, Metrics{LatencyMs: 300}, true)
	tr.Record(ModelSonnet, TaskClassification, Metrics{LatencyMs: 400}, false)

	got := tr.RecentHistory(ModelSonnet, TaskClassification, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 matching records, got %d", len(got))
	}
	// Oldest first.
	if got[0].Metrics.LatencyMs != 100 || got[1].Metrics.LatencyMs != 400 {
		t.Errorf("expected oldest-first order, got latencies %v %v",
			got[0].Metrics.LatencyMs, got[1].Metrics.LatencyMs)
	}
}

func TestRecentHistoryLimit(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())
	for i := 0; i < 30; i++ {
		tr.Record(ModelOpus, TaskClassification, Metrics{LatencyMs: float64(i)}, true)
	}

	got := tr.RecentHistory(ModelOpus, TaskClassification, 5)
	if len(got) != 5 {
		t.Fatalf("expected limit of 5, got %d", len(got))
	}
	// The five newest, oldest first.
	if got[0].Metrics.LatencyMs != 25 || got[4].Metrics.LatencyMs != 29 {
		t.Errorf("expected records 25..29, got %v..%v",
			got[0].Metrics.LatencyMs, got[4].Metrics.LatencyMs)
	}
}

func TestAggregateEmptyHistoryUsesDefaults(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	for _, id := range []string{ModelSonnet, ModelHaiku, ModelOpus, "never-seen"} {
		got := tr.Aggregate(id, nil)
		want := DefaultMetrics(id)
		if got.Accuracy != want.Accuracy || got.LatencyMs != want.LatencyMs ||
			got.Throughput != want.Throughput || got.ErrorRate != want.ErrorRate {
			t.Errorf("%s: expected defaults %+v, got %+v", id, want, got)
		}
	}
}

func TestAggregateAccuracyOverSuccessesOnly(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	history := []PerformanceRecord{
		{Success: true, Metrics: Metrics{Accuracy: 0.9, LatencyMs: 1000, Throughput: 10, CostPerRequest: 0.01}},
		{Success: true, Metrics: Metrics{Accuracy: 0.7, LatencyMs: 2000, Throughput: 20, CostPerRequest: 0.02}},
		{Success: false, Metrics: Metrics{Accuracy: 0.1, LatencyMs: 3000, Throughput: 30, CostPerRequest: 0.03}},
	}
	got := tr.Aggregate(ModelSonnet, history)

	if got.Accuracy != 0.8 {
		t.Errorf("accuracy must average successes only: expected 0.8, got %v", got.Accuracy)
	}
	if got.LatencyMs != 2000 {
		t.Errorf("latency averages all records: expected 2000, got %v", got.LatencyMs)
	}
	if got.Throughput != 20 {
		t.Errorf("throughput averages all records: expected 20, got %v", got.Throughput)
	}
	want := 1.0 / 3.0
	if diff := got.ErrorRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected error rate 1/3, got %v", got.ErrorRate)
	}
}

func TestAggregateAllFailures(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	history := []PerformanceRecord{
		{Success: false, Metrics: Metrics{Accuracy: 0.5, LatencyMs: 1000}},
		{Success: false, Metrics: Metrics{Accuracy: 0.5, LatencyMs: 1000}},
	}
	got := tr.Aggregate(ModelSonnet, history)
	if got.Accuracy != 0 {
		t.Errorf("expected 0 accuracy with no successes, got %v", got.Accuracy)
	}
	if got.ErrorRate != 1 {
		t.Errorf("expected error rate 1, got %v", got.ErrorRate)
	}
}

func TestHealthClassification(t *testing.T) {
	cases := []struct {
		name    string
		metrics Metrics
		success bool
		count   int
		want    HealthStatus
		issues  int
	}{
		{
			name:    "all within bounds",
			metrics: Metrics{Accuracy: 0.95, LatencyMs: 1000},
			success: true, count: 10,
			want: HealthHealthy, issues: 0,
		},
		{
			name:    "slow only",
			metrics: Metrics{Accuracy: 0.95, LatencyMs: 9000},
			success: true, count: 10,
			want: HealthDegraded, issues: 1,
		},
		{
			name:    "inaccurate and slow, error rate fine",
			metrics: Metrics{Accuracy: 0.5, LatencyMs: 9000},
			success: true, count: 10,
			want: HealthDegraded, issues: 2,
		},
		{
			name:    "everything failing",
			metrics: Metrics{Accuracy: 0.5, LatencyMs: 9000},
			success: false, count: 10,
			want: HealthUnhealthy, issues: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(testThresholds(), zap.NewNop())
			for i := 0; i < tc.count; i++ {
				tr.Record(ModelSonnet, TaskClassification, tc.metrics, tc.success)
			}
			h := tr.Health(ModelSonnet)
			if h.Status != tc.want {
				t.Errorf("expected %s, got %s (issues: %v)", tc.want, h.Status, h.Issues)
			}
			if len(h.Issues) != tc.issues {
				t.Errorf("expected %d issues, got %v", tc.issues, h.Issues)
			}
		})
	}
}

func TestHealthNoHistoryUsesDefaults(t *testing.T) {
	tr := NewTracker(testThresholds(), zap.NewNop())

	// Sonnet and haiku defaults clear every threshold; opus defaults
	// breach only latency.
	if h := tr.Health(ModelSonnet); h.Status != HealthHealthy {
		t.Errorf("sonnet: expected healthy from defaults, got %s", h.Status)
	}
	if h := tr.Health(ModelHaiku); h.Status != HealthHealthy {
		t.Errorf("haiku: expected healthy from defaults, got %s", h.Status)
	}
	if h := tr.Health(ModelOpus); h.Status != HealthDegraded {
		t.Errorf("opus: expected degraded from default latency, got %s", h.Status)
	}
}
