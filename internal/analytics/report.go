package analytics

import (
	"time"

	"github.com/vespera-ai/quill/internal/recorder"
	"github.com/vespera-ai/quill/model"
)

// DefaultReportPeriod is used when the caller does not specify one.
const DefaultReportPeriod = 7 * 24 * time.Hour

// lowerIsBetter marks the metrics whose improvement sign flips in the
// period comparison.
var lowerIsBetter = map[string]bool{
	"response_time": true,
	"cost":          true,
	"token_usage":   true,
}

// Report composes the analytics view for one template over [from, to):
// summary metrics, trends, anomalies in range, recommendations, and a
// period-over-period comparison against the window immediately before.
func (e *Engine) Report(id string, from, to time.Time) model.PerformanceReport {
	current := e.executionsIn(id, from, to)
	summary := recorder.Summarize(id, current)
	trends := e.Trends(id, from, to)

	report := model.PerformanceReport{
		TemplateID:      id,
		PeriodStart:     from,
		PeriodEnd:       to,
		GeneratedAt:     e.now().UTC(),
		Summary:         summary,
		Trends:          trends,
		Anomalies:       e.Anomalies(id, from, to),
		Recommendations: e.Recommendations(id, summary, trends),
	}

	period := to.Sub(from)
	prevFrom := from.Add(-period)
	previous := e.executionsIn(id, prevFrom, from)
	if len(previous) > 0 {
		prevSummary := recorder.Summarize(id, previous)
		report.Comparison = &model.PeriodComparison{
			PreviousStart: prevFrom,
			PreviousEnd:   from,
			Deltas:        compareSummaries(prevSummary, summary),
		}
	}
	return report
}

// executionsIn filters the buffered executions to [from, to).
func (e *Engine) executionsIn(id string, from, to time.Time) []model.ExecutionRecord {
	var out []model.ExecutionRecord
	for _, rec := range e.rec.Buffer(id) {
		if rec.ExecutedAt.Before(from) || !rec.ExecutedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// compareSummaries computes per-metric deltas between two periods.
// Improvement is percent change sign-adjusted so that a drop in a
// lower-is-better metric reads as positive improvement.
func compareSummaries(prev, cur model.TemplateMetrics) []model.MetricDelta {
	deltas := []model.MetricDelta{
		delta("success_rate", prev.SuccessRate, cur.SuccessRate),
		delta("response_time", float64(prev.AverageResponseTime.Milliseconds()), float64(cur.AverageResponseTime.Milliseconds())),
		delta("token_usage", prev.AverageTokens, cur.AverageTokens),
		delta("cost", prev.AverageCost, cur.AverageCost),
	}
	if prev.AverageQuality != nil && cur.AverageQuality != nil {
		deltas = append(deltas, delta("quality_score", *prev.AverageQuality, *cur.AverageQuality))
	}
	return deltas
}

func delta(metric string, prev, cur float64) model.MetricDelta {
	d := model.MetricDelta{Metric: metric, Previous: prev, Current: cur}
	if prev != 0 {
		change := (cur - prev) / prev * 100
		if lowerIsBetter[metric] {
			change = -change
		}
		d.Improvement = change
	}
	return d
}
