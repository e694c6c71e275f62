// Package recorder buffers execution telemetry per template and computes
// pull-based summary metrics over the buffered window.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vespera-ai/quill/internal/events"
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/model"
)

// DefaultBufferSize caps the per-template execution buffer. When the cap
// is reached the oldest record is dropped.
const DefaultBufferSize = 1000

// Recorder owns the per-template, size-bounded execution buffers.
// Metrics are recomputed from the buffer on every call rather than
// cached; the bounded buffer keeps that cheap.
type Recorder struct {
	blob   storage.Blob
	bus    *events.Bus
	logger *slog.Logger
	cap    int
	now    func() time.Time

	mu      sync.RWMutex
	buffers map[string][]model.ExecutionRecord
}

// New creates a Recorder. bufferSize <= 0 selects DefaultBufferSize.
func New(blob storage.Blob, bus *events.Bus, logger *slog.Logger, bufferSize int, now func() time.Time) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		blob:    blob,
		bus:     bus,
		logger:  logger,
		cap:     bufferSize,
		now:     now,
		buffers: make(map[string][]model.ExecutionRecord),
	}
}

// Load hydrates the buffers from persisted state. Failures are logged and
// tolerated: the recorder starts memory-only rather than refusing to run.
func (r *Recorder) Load(ctx context.Context) {
	keys, err := r.blob.Keys(ctx, storage.NamespaceExecutions)
	if err != nil {
		r.logger.Warn("recorder: list persisted executions", "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range keys {
		raw, err := r.blob.Get(ctx, storage.NamespaceExecutions, id)
		if err != nil {
			r.logger.Warn("recorder: load executions", "template_id", id, "error", err)
			continue
		}
		var records []model.ExecutionRecord
		if err := json.Unmarshal(raw, &records); err != nil {
			r.logger.Warn("recorder: decode executions", "template_id", id, "error", err)
			continue
		}
		if len(records) > r.cap {
			records = records[len(records)-r.cap:]
		}
		r.buffers[id] = records
	}
}

// Record appends one execution to its template's buffer, dropping the
// oldest entry when the buffer is full, and persists the buffer.
// Persistence failures propagate: silently losing telemetry would break
// the durability contract of the API.
func (r *Recorder) Record(ctx context.Context, rec model.ExecutionRecord) error {
	if rec.TemplateID == "" {
		return fmt.Errorf("recorder: execution record has no template id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = r.now().UTC()
	}

	r.mu.Lock()
	buf := append(r.buffers[rec.TemplateID], rec)
	if len(buf) > r.cap {
		buf = buf[len(buf)-r.cap:]
	}
	r.buffers[rec.TemplateID] = buf
	snapshot := append([]model.ExecutionRecord(nil), buf...)
	r.mu.Unlock()

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("recorder: encode executions: %w", err)
	}
	if err := r.blob.Set(ctx, storage.NamespaceExecutions, rec.TemplateID, raw); err != nil {
		return fmt.Errorf("recorder: persist executions: %w", err)
	}

	r.bus.Publish(model.Event{
		Type:       model.EventExecutionRecorded,
		TemplateID: rec.TemplateID,
		Payload: map[string]any{
			"execution_id": rec.ID,
			"provider":     rec.Provider,
			"success":      rec.Success,
		},
	})
	return nil
}

// Buffer returns a copy of the template's buffered executions, oldest
// first.
func (r *Recorder) Buffer(id string) []model.ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.ExecutionRecord(nil), r.buffers[id]...)
}

// Metrics recomputes the summary for one template from its current
// buffer. Averages cover successful executions only; the last-executed
// timestamp covers all of them.
func (r *Recorder) Metrics(id string) model.TemplateMetrics {
	return Summarize(id, r.Buffer(id))
}

// Summarize computes TemplateMetrics over an arbitrary record slice.
// Shared with the analytics engine for windowed report summaries.
func Summarize(id string, records []model.ExecutionRecord) model.TemplateMetrics {
	m := model.TemplateMetrics{TemplateID: id, TotalExecutions: len(records)}
	if len(records) == 0 {
		return m
	}

	var (
		successes    int
		totalTime    time.Duration
		totalTokens  float64
		totalCost    float64
		qualitySum   float64
		qualityCount int
	)
	for _, rec := range records {
		if rec.ExecutedAt.After(m.LastExecutedAt) {
			m.LastExecutedAt = rec.ExecutedAt
		}
		if rec.QualityScore != nil {
			qualitySum += *rec.QualityScore
			qualityCount++
		}
		if !rec.Success {
			continue
		}
		successes++
		totalTime += rec.ResponseTime
		totalTokens += float64(rec.Tokens.Total)
		totalCost += rec.Cost
	}

	m.SuccessRate = float64(successes) / float64(len(records))
	if successes > 0 {
		m.AverageResponseTime = totalTime / time.Duration(successes)
		m.AverageTokens = totalTokens / float64(successes)
		m.AverageCost = totalCost / float64(successes)
	}
	m.TotalCost = totalCost
	if qualityCount > 0 {
		avg := qualitySum / float64(qualityCount)
		m.AverageQuality = &avg
	}
	return m
}
