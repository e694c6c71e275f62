package analytics

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/vespera-ai/quill/model"
)

// minBaseline is the number of buffered executions required before any
// anomaly check runs.
const minBaseline = 30

// baselineWindow caps how many recent executions feed the baseline
// mean/stddev.
const baselineWindow = 100

// detectAnomalies compares the execution's metric values against the
// mean/stddev of the preceding buffered executions. A zero stddev
// suppresses the check for that metric. Flagged anomalies are retained
// for a rolling 30-day window.
func (e *Engine) detectAnomalies(rec model.ExecutionRecord) {
	buffer := e.rec.Buffer(rec.TemplateID)

	// The buffer already contains rec as its newest entry; the baseline
	// is everything before it, capped to the window.
	if len(buffer) > 0 && buffer[len(buffer)-1].ID == rec.ID {
		buffer = buffer[:len(buffer)-1]
	}
	if len(buffer) < minBaseline {
		return
	}
	if len(buffer) > baselineWindow {
		buffer = buffer[len(buffer)-baselineWindow:]
	}

	type metricCheck struct {
		name    string
		actual  float64
		extract func(model.ExecutionRecord) (float64, bool)
	}
	checks := []metricCheck{
		{
			name:   "response_time",
			actual: float64(rec.ResponseTime.Milliseconds()),
			extract: func(r model.ExecutionRecord) (float64, bool) {
				return float64(r.ResponseTime.Milliseconds()), true
			},
		},
		{
			name:   "token_usage",
			actual: float64(rec.Tokens.Total),
			extract: func(r model.ExecutionRecord) (float64, bool) {
				return float64(r.Tokens.Total), true
			},
		},
		{
			name:   "cost",
			actual: rec.Cost,
			extract: func(r model.ExecutionRecord) (float64, bool) {
				return r.Cost, true
			},
		},
	}
	if rec.QualityScore != nil {
		checks = append(checks, metricCheck{
			name:   "quality_score",
			actual: *rec.QualityScore,
			extract: func(r model.ExecutionRecord) (float64, bool) {
				if r.QualityScore == nil {
					return 0, false
				}
				return *r.QualityScore, true
			},
		})
	}

	var found []model.Anomaly
	for _, check := range checks {
		var values []float64
		for _, prior := range buffer {
			if v, ok := check.extract(prior); ok {
				values = append(values, v)
			}
		}
		if len(values) < minBaseline {
			continue
		}
		mean, stddev := meanStddev(values)
		if stddev == 0 {
			continue // Flat baseline: a z-score would divide by zero.
		}
		deviation := math.Abs(check.actual-mean) / stddev
		if deviation <= e.cfg.AnomalyThreshold {
			continue
		}
		found = append(found, model.Anomaly{
			ID:         uuid.NewString(),
			TemplateID: rec.TemplateID,
			Metric:     check.name,
			Expected:   mean,
			Actual:     check.actual,
			Deviation:  deviation,
			Severity:   severityFor(deviation),
			DetectedAt: rec.ExecutedAt,
		})
	}
	if len(found) == 0 {
		return
	}

	cutoff := e.now().UTC().Add(-anomalyRetention)
	e.mu.Lock()
	kept := e.anomalies[rec.TemplateID][:0]
	for _, a := range e.anomalies[rec.TemplateID] {
		if a.DetectedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	e.anomalies[rec.TemplateID] = append(kept, found...)
	e.mu.Unlock()

	metrics := make([]string, len(found))
	for i, a := range found {
		metrics[i] = a.Metric
	}
	e.bus.Publish(model.Event{
		Type:       model.EventAnomaliesDetected,
		TemplateID: rec.TemplateID,
		Payload:    map[string]any{"count": len(found), "metrics": metrics},
	})
}

// severityFor grades a z-score deviation.
func severityFor(deviation float64) model.Severity {
	switch {
	case deviation > 5:
		return model.SeverityHigh
	case deviation > 4:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Anomalies returns the template's retained anomalies detected in
// [from, to), newest last.
func (e *Engine) Anomalies(id string, from, to time.Time) []model.Anomaly {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []model.Anomaly
	for _, a := range e.anomalies[id] {
		if a.DetectedAt.Before(from) || !a.DetectedAt.Before(to) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// meanStddev returns the sample mean and population standard deviation.
func meanStddev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
