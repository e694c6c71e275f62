// Package analytics maintains the per-template performance snapshot
// hierarchy (minute through month), runs periodic rollup aggregation,
// trend regression, z-score anomaly detection, and rule-based
// recommendation generation over execution telemetry.
package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vespera-ai/quill/internal/events"
	"github.com/vespera-ai/quill/internal/recorder"
	"github.com/vespera-ai/quill/model"
)

// Config tunes the analytics engine.
type Config struct {
	// AnomalyThreshold is the z-score above which an execution is
	// flagged. <= 0 selects DefaultAnomalyThreshold.
	AnomalyThreshold float64

	// RollupIntervals overrides the tick interval per rolled-up
	// granularity. Unset granularities use the granularity's own width.
	RollupIntervals map[model.Granularity]time.Duration
}

// DefaultAnomalyThreshold is the z-score cutoff for anomaly flagging.
const DefaultAnomalyThreshold = 3.0

// anomalyRetention bounds how long flagged anomalies are kept.
const anomalyRetention = 30 * 24 * time.Hour

// bucketRetention caps live buckets per granularity so memory stays
// bounded: roughly a day of minutes, a month of hours, a year of days.
var bucketRetention = map[model.Granularity]int{
	model.GranularityMinute: 1440,
	model.GranularityHour:   720,
	model.GranularityDay:    365,
	model.GranularityWeek:   104,
	model.GranularityMonth:  60,
}

// bucket pairs a snapshot with the raw response-time samples needed for
// percentile computation. Samples are only held at minute granularity;
// rollups estimate percentiles from child buckets.
type bucket struct {
	snap    model.PerformanceSnapshot
	samples []time.Duration
	quality struct {
		sum   float64
		count int
	}
	providerCounts map[string]int
}

// Engine is the performance analytics engine. Buckets update in real
// time as executions arrive; coarser granularities fill in on rollup
// timers. All timers stop together on Close.
type Engine struct {
	rec    *recorder.Recorder
	bus    *events.Bus
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	mu        sync.RWMutex
	buckets   map[string]map[model.Granularity]map[int64]*bucket
	anomalies map[string][]model.Anomaly

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates an Engine over the recorder's execution buffers.
func New(rec *recorder.Recorder, bus *events.Bus, logger *slog.Logger, cfg Config, now func() time.Time) *Engine {
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = DefaultAnomalyThreshold
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		rec:       rec,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		now:       now,
		buckets:   make(map[string]map[model.Granularity]map[int64]*bucket),
		anomalies: make(map[string][]model.Anomaly),
	}
}

// Start launches one rollup timer per rolled-up granularity (hour, day,
// week, month). The timers share a context; Close cancels them as a
// group.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	e.group = group

	for _, g := range model.Granularities[1:] {
		interval := g.Duration()
		if override, ok := e.cfg.RollupIntervals[g]; ok && override > 0 {
			interval = override
		}
		group.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					e.Rollup(g)
				}
			}
		})
	}
	e.logger.Info("analytics: rollup timers started")
}

// Close stops all rollup timers and waits for them to exit.
func (e *Engine) Close() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	_ = e.group.Wait() // Only context.Canceled flows out of the timers.
	e.cancel = nil
}

// bucketStart aligns t to the granularity's window. Alignment is against
// the Unix epoch in UTC, so it is stable across restarts.
func bucketStart(g model.Granularity, t time.Time) time.Time {
	return t.UTC().Truncate(g.Duration())
}

// Observe folds one execution into the current-minute bucket using
// incremental-mean updates, then runs the anomaly checks against the
// recorder's buffered baseline.
func (e *Engine) Observe(rec model.ExecutionRecord) {
	start := bucketStart(model.GranularityMinute, rec.ExecutedAt)

	e.mu.Lock()
	b := e.bucket(rec.TemplateID, model.GranularityMinute, start)
	foldExecution(b, rec)
	prunedBuckets := e.pruneBuckets(rec.TemplateID, model.GranularityMinute)
	e.mu.Unlock()

	if prunedBuckets > 0 {
		e.publishPruned(rec.TemplateID, model.GranularityMinute, prunedBuckets)
	}
	e.detectAnomalies(rec)
}

// bucket returns the live bucket, creating it if absent. Callers hold e.mu.
func (e *Engine) bucket(id string, g model.Granularity, start time.Time) *bucket {
	byGran, ok := e.buckets[id]
	if !ok {
		byGran = make(map[model.Granularity]map[int64]*bucket)
		e.buckets[id] = byGran
	}
	byStart, ok := byGran[g]
	if !ok {
		byStart = make(map[int64]*bucket)
		byGran[g] = byStart
	}
	b, ok := byStart[start.Unix()]
	if !ok {
		b = &bucket{
			snap: model.PerformanceSnapshot{
				TemplateID:  id,
				Granularity: g,
				BucketStart: start,
			},
			providerCounts: make(map[string]int),
		}
		byStart[start.Unix()] = b
	}
	return b
}

// foldExecution applies the incremental-mean formulas:
// mean' = (mean*n + x) / (n+1). Cost is kept as a running total with the
// average derived from total/count.
func foldExecution(b *bucket, rec model.ExecutionRecord) {
	n := float64(b.snap.Executions)
	success := 0.0
	if rec.Success {
		success = 1
	}

	b.snap.SuccessRate = (b.snap.SuccessRate*n + success) / (n + 1)
	b.snap.ErrorRate = (b.snap.ErrorRate*n + (1 - success)) / (n + 1)
	b.snap.AverageResponseTime = time.Duration(
		(float64(b.snap.AverageResponseTime)*n + float64(rec.ResponseTime)) / (n + 1))
	b.snap.AverageTokens = (b.snap.AverageTokens*n + float64(rec.Tokens.Total)) / (n + 1)
	b.snap.TotalCost += rec.Cost
	b.snap.Executions++
	b.snap.AverageCost = b.snap.TotalCost / float64(b.snap.Executions)

	b.samples = append(b.samples, rec.ResponseTime)
	b.snap.P95ResponseTime = percentile(b.samples, 0.95)

	if rec.QualityScore != nil {
		b.quality.sum += *rec.QualityScore
		b.quality.count++
		avg := b.quality.sum / float64(b.quality.count)
		b.snap.AverageQuality = &avg
	}

	foldProvider(b, rec, success)
}

// foldProvider applies the same incremental updates to the per-provider
// sub-aggregate.
func foldProvider(b *bucket, rec model.ExecutionRecord, success float64) {
	if rec.Provider == "" {
		return
	}
	if b.snap.Providers == nil {
		b.snap.Providers = make(map[string]model.ProviderStats, 1)
	}
	ps := b.snap.Providers[rec.Provider]
	pn := float64(b.providerCounts[rec.Provider])
	ps.SuccessRate = (ps.SuccessRate*pn + success) / (pn + 1)
	ps.AverageResponseTime = time.Duration(
		(float64(ps.AverageResponseTime)*pn + float64(rec.ResponseTime)) / (pn + 1))
	ps.AverageTokens = (ps.AverageTokens*pn + float64(rec.Tokens.Total)) / (pn + 1)
	ps.TotalCost += rec.Cost
	ps.Executions++
	b.snap.Providers[rec.Provider] = ps
	b.providerCounts[rec.Provider]++
}

// percentile returns the p-quantile of the samples (nearest-rank).
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// pruneBuckets drops the oldest buckets beyond the granularity's
// retention cap. Callers hold e.mu. Returns the number pruned.
func (e *Engine) pruneBuckets(id string, g model.Granularity) int {
	byStart := e.buckets[id][g]
	limit := bucketRetention[g]
	if limit <= 0 || len(byStart) <= limit {
		return 0
	}
	starts := make([]int64, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	pruned := 0
	for _, s := range starts[:len(starts)-limit] {
		delete(byStart, s)
		pruned++
	}
	return pruned
}

func (e *Engine) publishPruned(id string, g model.Granularity, n int) {
	e.bus.Publish(model.Event{
		Type:       model.EventSnapshotsPruned,
		TemplateID: id,
		Payload:    map[string]any{"granularity": string(g), "pruned": n},
	})
}

// Snapshots returns the template's snapshots at one granularity whose
// bucket start falls in [from, to), ordered by bucket start.
func (e *Engine) Snapshots(id string, g model.Granularity, from, to time.Time) []model.PerformanceSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []model.PerformanceSnapshot
	for _, b := range e.buckets[id][g] {
		if b.snap.BucketStart.Before(from) || !b.snap.BucketStart.Before(to) {
			continue
		}
		out = append(out, b.snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BucketStart.Before(out[j].BucketStart)
	})
	return out
}
