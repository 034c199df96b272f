package selection

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxRecords bounds the global performance log; oldest entries are
// truncated first.
const maxRecords = 1000

// healthWindow is how many recent records feed a health query.
const healthWindow = 50

// defaultHistoryLimit is the RecentHistory limit when none is given.
const defaultHistoryLimit = 20

// Tracker is the append-only, size-bounded performance log. Append and
// trim happen in one critical section.
type Tracker struct {
	mu         sync.Mutex
	records    []PerformanceRecord
	thresholds Thresholds
	logger     *zap.Logger
}

// NewTracker creates a performance tracker with the given health thresholds.
func NewTracker(thresholds Thresholds, logger *zap.Logger) *Tracker {
	return &Tracker{thresholds: thresholds, logger: logger}
}

// Record appends an execution outcome, truncating to the most recent
// maxRecords entries.
func (t *Tracker) Record(modelID, taskType string, m Metrics, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, PerformanceRecord{
		ModelID:   modelID,
		TaskType:  taskType,
		Metrics:   m,
		Success:   success,
		Timestamp: time.Now(),
	})
	if len(t.records) > maxRecords {
		t.records = t.records[len(t.records)-maxRecords:]
	}
}

// RecentHistory returns the most recent limit records matching both
// model and task type, oldest first.
func (t *Tracker) RecentHistory(modelID, taskType string, limit int) []PerformanceRecord {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PerformanceRecord
	for i := len(t.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := t.records[i]
		if r.ModelID == modelID && r.TaskType == taskType {
			out = append(out, r)
		}
	}
	reverse(out)
	return out
}

// recentForModel returns the most recent limit records for a model
// regardless of task type, oldest first.
func (t *Tracker) recentForModel(modelID string, limit int) []PerformanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PerformanceRecord
	for i := len(t.records) - 1; i >= 0 && len(out) < limit; i-- {
		if t.records[i].ModelID == modelID {
			out = append(out, t.records[i])
		}
	}
	reverse(out)
	return out
}

// Len returns the current log size.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Aggregate reduces a history to a single metrics snapshot. Empty
// history yields the model's static defaults. Accuracy averages over
// successful records only; latency, throughput and cost average over
// all records; error rate is the failure fraction.
func (t *Tracker) Aggregate(modelID string, history []PerformanceRecord) Metrics {
	if len(history) == 0 {
		return DefaultMetrics(modelID)
	}

	var agg Metrics
	successes := 0
	for _, r := range history {
		if r.Success {
			agg.Accuracy += r.Metrics.Accuracy
			successes++
		}
		agg.LatencyMs += r.Metrics.LatencyMs
		agg.Throughput += r.Metrics.Throughput
		agg.CostPerRequest += r.Metrics.CostPerRequest
	}

	n := float64(len(history))
	agg.Accuracy /= float64(max(1, successes))
	agg.LatencyMs /= n
	agg.Throughput /= n
	agg.CostPerRequest /= n
	agg.ErrorRate = float64(len(history)-successes) / n
	return agg
}

// Health classifies a model from its last healthWindow records.
// Error-rate breaches weigh heavier than other metrics: two issues
// still count as degraded when the error rate itself is within bounds.
func (t *Tracker) Health(modelID string) ModelHealth {
	history := t.recentForModel(modelID, healthWindow)
	m := t.Aggregate(modelID, history)

	var issues []string
	if m.Accuracy < t.thresholds.MinAccuracy {
		issues = append(issues, "accuracy below threshold")
	}
	if m.LatencyMs > t.thresholds.MaxLatencyMs {
		issues = append(issues, "latency above threshold")
	}
	errRateOK := m.ErrorRate <= t.thresholds.MaxErrorRate
	if !errRateOK {
		issues = append(issues, "error rate above threshold")
	}

	var status HealthStatus
	switch {
	case len(issues) == 0:
		status = HealthHealthy
	case len(issues) == 1, len(issues) == 2 && errRateOK:
		status = HealthDegraded
	default:
		status = HealthUnhealthy
	}

	return ModelHealth{ModelID: modelID, Status: status, Metrics: m, Issues: issues}
}

// DefaultMetrics returns hand-tuned static defaults per built-in model;
// unknown ids fall back to the Sonnet defaults.
func DefaultMetrics(modelID string) Metrics {
	switch modelID {
	case ModelHaiku:
		return Metrics{Accuracy: 0.85, LatencyMs: 800, Throughput: 120, CostPerRequest: 0.002, ErrorRate: 0.04}
	case ModelOpus:
		return Metrics{Accuracy: 0.96, LatencyMs: 6000, Throughput: 15, CostPerRequest: 0.075, ErrorRate: 0.01}
	default:
		return Metrics{Accuracy: 0.92, LatencyMs: 2500, Throughput: 40, CostPerRequest: 0.015, ErrorRate: 0.02}
	}
}

func reverse(rs []PerformanceRecord) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}
