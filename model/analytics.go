package model

import "time"

// Granularity is one level of the snapshot time hierarchy.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

// Granularities lists all levels from finest to coarsest.
var Granularities = []Granularity{
	GranularityMinute,
	GranularityHour,
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
}

// Duration returns the bucket width for the granularity. Months are
// approximated as 30 days for windowing purposes.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	case GranularityWeek:
		return 7 * 24 * time.Hour
	case GranularityMonth:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Finer returns the next finer granularity, or "" for minute.
func (g Granularity) Finer() Granularity {
	for i := 1; i < len(Granularities); i++ {
		if Granularities[i] == g {
			return Granularities[i-1]
		}
	}
	return ""
}

// ProviderStats is the per-provider sub-aggregate inside a snapshot.
type ProviderStats struct {
	Executions          int           `json:"executions"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	AverageTokens       float64       `json:"average_tokens"`
	TotalCost           float64       `json:"total_cost"`
}

// PerformanceSnapshot aggregates all executions of one template that fall
// inside one time bucket at one granularity. Derived purely from the
// executions in its window: recomputable and idempotent. Exactly one
// snapshot exists per (template, granularity, bucket start).
type PerformanceSnapshot struct {
	TemplateID          string                   `json:"template_id"`
	Granularity         Granularity              `json:"granularity"`
	BucketStart         time.Time                `json:"bucket_start"`
	Executions          int                      `json:"executions"`
	SuccessRate         float64                  `json:"success_rate"`
	ErrorRate           float64                  `json:"error_rate"`
	AverageResponseTime time.Duration            `json:"average_response_time"`
	P95ResponseTime     time.Duration            `json:"p95_response_time"`
	AverageTokens       float64                  `json:"average_tokens"`
	TotalCost           float64                  `json:"total_cost"`
	AverageCost         float64                  `json:"average_cost"`
	AverageQuality      *float64                 `json:"average_quality,omitempty"`
	Providers           map[string]ProviderStats `json:"providers,omitempty"`
}

// Severity grades how far an anomalous value sits from its baseline.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Anomaly flags one execution whose metric value deviated from the recent
// statistical baseline beyond the configured threshold. Retained per
// template for a rolling 30-day window.
type Anomaly struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	Metric     string    `json:"metric"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Deviation  float64   `json:"deviation"` // in standard deviations
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

// TrendDirection classifies the slope of a metric series.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Forecast is a one-step-ahead prediction emitted when the regression fit
// is strong enough (R-squared above 0.7).
type Forecast struct {
	Value      float64 `json:"value"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// Trend summarizes an ordinary-least-squares fit over one metric series.
type Trend struct {
	Metric        string         `json:"metric"`
	Direction     TrendDirection `json:"direction"`
	Slope         float64        `json:"slope"`
	Intercept     float64        `json:"intercept"`
	RSquared      float64        `json:"r_squared"`
	PercentChange float64        `json:"percent_change"`
	Points        int            `json:"points"`
	Forecast      *Forecast      `json:"forecast,omitempty"`
}

// Priority orders recommendations for the caller.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Recommendation is a rule-derived suggestion over a template's summary
// metrics, trends, and anomalies.
type Recommendation struct {
	TemplateID string   `json:"template_id"`
	Priority   Priority `json:"priority"`
	Rule       string   `json:"rule"`
	Rationale  string   `json:"rationale"`
	Action     string   `json:"action"`
}

// MetricDelta is one metric's period-over-period movement. Improvement is
// sign-adjusted: for metrics where lower is better (latency, cost, token
// usage) a drop counts as positive improvement.
type MetricDelta struct {
	Metric      string  `json:"metric"`
	Previous    float64 `json:"previous"`
	Current     float64 `json:"current"`
	Improvement float64 `json:"improvement"` // percent, sign-adjusted
}

// PeriodComparison holds the count-weighted deltas between the report
// period and the period immediately before it.
type PeriodComparison struct {
	PreviousStart time.Time     `json:"previous_start"`
	PreviousEnd   time.Time     `json:"previous_end"`
	Deltas        []MetricDelta `json:"deltas"`
}

// PerformanceReport is the composed analytics view for one template over
// one requested period.
type PerformanceReport struct {
	TemplateID      string            `json:"template_id"`
	PeriodStart     time.Time         `json:"period_start"`
	PeriodEnd       time.Time         `json:"period_end"`
	GeneratedAt     time.Time         `json:"generated_at"`
	Summary         TemplateMetrics   `json:"summary"`
	Trends          []Trend           `json:"trends"`
	Anomalies       []Anomaly         `json:"anomalies"`
	Recommendations []Recommendation  `json:"recommendations"`
	Comparison      *PeriodComparison `json:"comparison,omitempty"`
}
