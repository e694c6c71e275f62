package analytics

import (
	"math"
	"time"

	"github.com/vespera-ai/quill/model"
)

// Slope thresholds for direction classification, in metric units per
// period.
const (
	improvingSlope = 0.01
	decliningSlope = -0.01
)

// forecastRSquared gates forecast emission: below this fit quality a
// one-step prediction is noise.
const forecastRSquared = 0.7

// z95 is the two-sided 95% normal quantile for the confidence band.
const z95 = 1.96

// point is one (period, value) observation.
type point struct {
	x float64 // periods since the first bucket
	y float64
}

// trackedMetrics maps metric names to snapshot accessors. Quality is
// included only when the snapshot carries it.
var trackedMetrics = []struct {
	name    string
	extract func(model.PerformanceSnapshot) (float64, bool)
}{
	{"success_rate", func(s model.PerformanceSnapshot) (float64, bool) { return s.SuccessRate, true }},
	{"response_time", func(s model.PerformanceSnapshot) (float64, bool) {
		return float64(s.AverageResponseTime.Milliseconds()), true
	}},
	{"token_usage", func(s model.PerformanceSnapshot) (float64, bool) { return s.AverageTokens, true }},
	{"cost", func(s model.PerformanceSnapshot) (float64, bool) { return s.AverageCost, true }},
	{"quality_score", func(s model.PerformanceSnapshot) (float64, bool) {
		if s.AverageQuality == nil {
			return 0, false
		}
		return *s.AverageQuality, true
	}},
}

// Trends fits an ordinary-least-squares line to each tracked metric
// series over [from, to). Series with fewer than three points are
// skipped; a strong fit (R-squared above 0.7) adds a one-step-ahead
// forecast with a 95% confidence band.
func (e *Engine) Trends(id string, from, to time.Time) []model.Trend {
	g, snaps := e.series(id, from, to)
	if len(snaps) < 3 {
		return nil
	}
	width := g.Duration()
	origin := snaps[0].BucketStart

	var out []model.Trend
	for _, metric := range trackedMetrics {
		var pts []point
		for _, s := range snaps {
			v, ok := metric.extract(s)
			if !ok {
				continue
			}
			pts = append(pts, point{
				x: s.BucketStart.Sub(origin).Seconds() / width.Seconds(),
				y: v,
			})
		}
		if len(pts) < 3 {
			continue
		}
		out = append(out, fitTrend(metric.name, pts))
	}
	return out
}

// series picks the coarsest granularity with at least three snapshots in
// range, preferring day over hour over minute so long periods are not
// dominated by minute noise.
func (e *Engine) series(id string, from, to time.Time) (model.Granularity, []model.PerformanceSnapshot) {
	for _, g := range []model.Granularity{model.GranularityDay, model.GranularityHour, model.GranularityMinute} {
		snaps := e.Snapshots(id, g, from, to)
		if len(snaps) >= 3 {
			return g, snaps
		}
	}
	return model.GranularityMinute, nil
}

// fitTrend runs OLS over the points and classifies the result.
func fitTrend(name string, pts []point) model.Trend {
	slope, intercept, r2 := linearRegression(pts)

	t := model.Trend{
		Metric:    name,
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r2,
		Points:    len(pts),
	}
	switch {
	case slope > improvingSlope:
		t.Direction = model.TrendImproving
	case slope < decliningSlope:
		t.Direction = model.TrendDeclining
	default:
		t.Direction = model.TrendStable
	}

	first, last := pts[0].y, pts[len(pts)-1].y
	if first != 0 {
		t.PercentChange = (last - first) / math.Abs(first) * 100
	}

	if r2 > forecastRSquared {
		nextX := pts[len(pts)-1].x + 1
		predicted := slope*nextX + intercept
		se := residualStdErr(pts, slope, intercept)
		t.Forecast = &model.Forecast{
			Value:      predicted,
			LowerBound: predicted - z95*se,
			UpperBound: predicted + z95*se,
		}
	}
	return t
}

// linearRegression returns the OLS slope, intercept, and R-squared.
// Degenerate inputs (no x-variance) yield a flat zero-slope fit.
func linearRegression(pts []point) (slope, intercept, r2 float64) {
	n := float64(len(pts))
	var sumX, sumY, sumXY, sumXX float64
	for _, p := range pts {
		sumX += p.x
		sumY += p.y
		sumXY += p.x * p.y
		sumXX += p.x * p.x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range pts {
		ssTot += (p.y - meanY) * (p.y - meanY)
		pred := slope*p.x + intercept
		ssRes += (p.y - pred) * (p.y - pred)
	}
	if ssTot == 0 {
		// A perfectly flat series is a perfect fit for the flat line.
		return slope, intercept, 1
	}
	return slope, intercept, 1 - ssRes/ssTot
}

// residualStdErr estimates the standard error of the regression
// residuals, guarding the small-sample divisor.
func residualStdErr(pts []point, slope, intercept float64) float64 {
	if len(pts) <= 2 {
		return 0
	}
	var ssRes float64
	for _, p := range pts {
		pred := slope*p.x + intercept
		ssRes += (p.y - pred) * (p.y - pred)
	}
	return math.Sqrt(ssRes / float64(len(pts)-2))
}
