package analytics

import (
	"sort"
	"time"

	"github.com/vespera-ai/quill/model"
)

// Rollup aggregates, for every template, the finer-granularity buckets of
// the most recently completed window into one snapshot at g. A window
// that already has a snapshot is skipped, so re-running a rollup cycle is
// idempotent. Returns the number of snapshots created.
func (e *Engine) Rollup(g model.Granularity) int {
	return e.RollupAt(g, e.now())
}

// RollupAt rolls up the window that completed immediately before now.
func (e *Engine) RollupAt(g model.Granularity, now time.Time) int {
	finer := g.Finer()
	if finer == "" {
		return 0
	}
	windowStart := bucketStart(g, now.Add(-g.Duration()))
	windowEnd := windowStart.Add(g.Duration())

	type created struct {
		id    string
		start time.Time
		count int
	}
	var results []created

	e.mu.Lock()
	for id, byGran := range e.buckets {
		if _, exists := byGran[g][windowStart.Unix()]; exists {
			continue // Already aggregated: idempotence guarantee.
		}
		children := childSnapshots(byGran[finer], windowStart, windowEnd)
		if len(children) == 0 {
			continue
		}
		agg := aggregate(id, g, windowStart, children)
		b := e.bucket(id, g, windowStart)
		b.snap = agg
		e.pruneBuckets(id, g)
		results = append(results, created{id: id, start: windowStart, count: agg.Executions})
	}
	e.mu.Unlock()

	for _, r := range results {
		e.bus.Publish(model.Event{
			Type:       model.EventSnapshotAggregated,
			TemplateID: r.id,
			Payload: map[string]any{
				"granularity":  string(g),
				"bucket_start": r.start,
				"executions":   r.count,
			},
		})
	}
	return len(results)
}

// childSnapshots collects the finer buckets whose window falls inside
// [start, end), ordered by bucket start.
func childSnapshots(byStart map[int64]*bucket, start, end time.Time) []model.PerformanceSnapshot {
	var out []model.PerformanceSnapshot
	for _, b := range byStart {
		bs := b.snap.BucketStart
		if bs.Before(start) || !bs.Before(end) {
			continue
		}
		out = append(out, b.snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out
}

// aggregate combines child snapshots into one coarser snapshot using
// count-weighted averaging.
func aggregate(id string, g model.Granularity, start time.Time, children []model.PerformanceSnapshot) model.PerformanceSnapshot {
	out := model.PerformanceSnapshot{
		TemplateID:  id,
		Granularity: g,
		BucketStart: start,
	}

	var (
		weightedSuccess float64
		weightedError   float64
		weightedTime    float64
		weightedTokens  float64
		weightedQuality float64
		qualityWeight   float64
		maxP95          time.Duration
	)
	providerCounts := make(map[string]int)

	for _, c := range children {
		w := float64(c.Executions)
		out.Executions += c.Executions
		weightedSuccess += c.SuccessRate * w
		weightedError += c.ErrorRate * w
		weightedTime += float64(c.AverageResponseTime) * w
		weightedTokens += c.AverageTokens * w
		out.TotalCost += c.TotalCost
		if c.AverageQuality != nil {
			weightedQuality += *c.AverageQuality * w
			qualityWeight += w
		}
		if c.P95ResponseTime > maxP95 {
			maxP95 = c.P95ResponseTime
		}
		for name, ps := range c.Providers {
			agg := out.Providers[name]
			pn := float64(providerCounts[name])
			pw := float64(ps.Executions)
			if pn+pw > 0 {
				agg.SuccessRate = (agg.SuccessRate*pn + ps.SuccessRate*pw) / (pn + pw)
				agg.AverageResponseTime = time.Duration(
					(float64(agg.AverageResponseTime)*pn + float64(ps.AverageResponseTime)*pw) / (pn + pw))
				agg.AverageTokens = (agg.AverageTokens*pn + ps.AverageTokens*pw) / (pn + pw)
			}
			agg.TotalCost += ps.TotalCost
			agg.Executions += ps.Executions
			if out.Providers == nil {
				out.Providers = make(map[string]model.ProviderStats)
			}
			out.Providers[name] = agg
			providerCounts[name] += ps.Executions
		}
	}

	if out.Executions > 0 {
		total := float64(out.Executions)
		out.SuccessRate = weightedSuccess / total
		out.ErrorRate = weightedError / total
		out.AverageResponseTime = time.Duration(weightedTime / total)
		out.AverageTokens = weightedTokens / total
		out.AverageCost = out.TotalCost / total
	}
	if qualityWeight > 0 {
		avg := weightedQuality / qualityWeight
		out.AverageQuality = &avg
	}
	// A max over child p95s is an upper-bound estimate; exact percentiles
	// would need the raw samples, which only minute buckets keep.
	out.P95ResponseTime = maxP95
	return out
}
