// Package quill is the public API for embedding the prompt template
// lifecycle engine.
//
// Consumers construct an Engine, register templates, compile them with
// variable bindings, and feed execution telemetry back in:
//
//	eng, err := quill.New(
//	    quill.WithLogger(logger),
//	    quill.WithDatabasePath("quill.db"),
//	    quill.WithEventHook(myHook{}),
//	)
//	if err != nil { ... }
//	eng.Start(ctx)
//	defer eng.Close(ctx)
//
// The import graph enforces a strict no-cycle rule: quill (root) imports
// internal/*, but internal/* never imports quill (root). Domain types
// live in the public model package, which both sides import.
package quill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/vespera-ai/quill/internal/analytics"
	"github.com/vespera-ai/quill/internal/compiler"
	"github.com/vespera-ai/quill/internal/config"
	"github.com/vespera-ai/quill/internal/events"
	"github.com/vespera-ai/quill/internal/recorder"
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/internal/store"
	"github.com/vespera-ai/quill/internal/telemetry"
	"github.com/vespera-ai/quill/model"
)

// Engine is the prompt template lifecycle engine. Construct with New(),
// start the background rollup timers with Start(), release resources
// with Close(). Engine has no public fields — use New() options to
// configure it.
type Engine struct {
	cfg          config.Config
	repo         Repository
	ownedRepo    bool // close the repo only if New opened it
	bus          *events.Bus
	comp         *compiler.Compiler
	rec          *recorder.Recorder
	store        *store.Store
	analytics    *analytics.Engine
	instruments  *telemetry.Instruments
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	now          func() time.Time
	version      string
}

// New initialises the engine. It opens the repository, hydrates
// templates, version history, and execution buffers from it, and wires
// all subsystems. It does NOT start any goroutines — call Start().
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databasePath != nil {
		cfg.DatabasePath = *o.databasePath
	}
	if o.historyLimit > 0 {
		cfg.HistoryLimit = o.historyLimit
	}
	if o.versioning != nil {
		cfg.Versioning = *o.versioning
	}
	if o.bufferSize > 0 {
		cfg.ExecutionBufferSize = o.bufferSize
	}
	if o.anomalyThreshold > 0 {
		cfg.AnomalyThreshold = o.anomalyThreshold
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("quill starting", "version", version)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	instruments, err := telemetry.NewInstruments("github.com/vespera-ai/quill")
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the repository — external override takes priority, then the
	// configured SQLite path, then memory-only.
	repo := o.repository
	ownedRepo := false
	if repo == nil {
		if cfg.DatabasePath != "" {
			sq, err := storage.NewSQLite(context.Background(), cfg.DatabasePath)
			if err != nil {
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("storage: %w", err)
			}
			repo = sq
			logger.Info("storage: sqlite", "path", cfg.DatabasePath)
		} else {
			repo = storage.NewMemory()
			logger.Info("storage: in-memory (no database path)")
		}
		ownedRepo = true
	}

	// Wire the event bus. Registered hooks are delivered synchronously in
	// registration order on every lifecycle event.
	bus := events.NewBus(logger)
	for _, hook := range o.eventHooks {
		bus.Subscribe(hook.HandleEvent)
	}
	bus.Subscribe(func(ev model.Event) {
		if ev.Type == model.EventAnomaliesDetected {
			instruments.AnomaliesDetected.Add(context.Background(), 1)
		}
	})

	now := o.clock
	if now == nil {
		now = time.Now
	}

	compOpts := compiler.DefaultOptions()
	if o.compilerOptions != nil {
		compOpts = *o.compilerOptions
	}
	comp := compiler.New(compOpts)

	rec := recorder.New(repo, bus, logger, cfg.ExecutionBufferSize, now)
	st := store.New(repo, comp, bus, logger, rec, store.Config{
		HistoryLimit: cfg.HistoryLimit,
		Versioning:   cfg.Versioning,
	}, now)

	intervals := map[model.Granularity]time.Duration{
		model.GranularityHour:  cfg.HourlyRollup,
		model.GranularityDay:   cfg.DailyRollup,
		model.GranularityWeek:  cfg.WeeklyRollup,
		model.GranularityMonth: cfg.MonthlyRollup,
	}
	for g, d := range o.rollupIntervals {
		intervals[g] = d
	}
	an := analytics.New(rec, bus, logger, analytics.Config{
		AnomalyThreshold: cfg.AnomalyThreshold,
		RollupIntervals:  intervals,
	}, now)

	// Hydrate from the repository. Load failures degrade to memory-only
	// operation rather than refusing to start.
	st.Load(context.Background())
	rec.Load(context.Background())

	return &Engine{
		cfg:          cfg,
		repo:         repo,
		ownedRepo:    ownedRepo,
		bus:          bus,
		comp:         comp,
		rec:          rec,
		store:        st,
		analytics:    an,
		instruments:  instruments,
		otelShutdown: otelShutdown,
		logger:       logger,
		now:          now,
		version:      version,
	}, nil
}

// Start launches the background rollup timers. The timers run until
// Close or until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.analytics.Start(ctx)
}

// Close stops the rollup timers, closes the repository if the engine
// opened it, and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	e.analytics.Close()
	var firstErr error
	if e.ownedRepo {
		if err := e.repo.Close(); err != nil {
			firstErr = fmt.Errorf("close repository: %w", err)
		}
	}
	if err := e.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("telemetry shutdown: %w", err)
	}
	e.logger.Info("quill stopped")
	return firstErr
}

// CreateTemplate registers a new template. The declared variables are
// validated before anything is written — defaults must match their types
// and constraints; failures return a *ValidationError listing every
// problem. On success the template gets a generated id, version "1.0.0",
// and an initial version snapshot.
func (e *Engine) CreateTemplate(ctx context.Context, def model.TemplateDefinition) (*model.TemplateDefinition, error) {
	created, err := e.store.Create(ctx, def)
	if err != nil {
		return nil, err
	}
	e.instruments.TemplatesCreated.Add(ctx, 1)
	return created, nil
}

// UpdateTemplate applies a partial update. Nil fields of upd are left
// untouched. A successful update increments the patch version and
// records one version snapshot carrying the changelog; a validation
// failure leaves the stored template exactly as it was.
func (e *Engine) UpdateTemplate(ctx context.Context, id string, upd model.TemplateUpdate, changelog string) (*model.TemplateDefinition, error) {
	return e.store.Update(ctx, id, upd, changelog)
}

// GetTemplate returns the template by id. version selects a historical
// snapshot; the empty string selects the live record. Soft-deleted
// templates are still returned, with Active false.
func (e *Engine) GetTemplate(ctx context.Context, id, version string) (*model.TemplateDefinition, error) {
	return e.store.Get(ctx, id, version)
}

// DeleteTemplate soft-deletes the template: it stays readable and keeps
// its history but drops out of active-only searches.
func (e *Engine) DeleteTemplate(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// ListVersions returns the template's version history, oldest first.
func (e *Engine) ListVersions(ctx context.Context, id string) ([]model.TemplateVersion, error) {
	return e.store.Versions(ctx, id)
}

// SearchTemplates filters, sorts, and paginates the template catalog.
func (e *Engine) SearchTemplates(ctx context.Context, criteria SearchCriteria) ([]*model.TemplateDefinition, error) {
	return e.store.Search(ctx, criteria)
}

// CompileTemplate renders the template with the given bindings. version
// selects a historical snapshot; the empty string compiles the live
// content. In strict mode (the default) unresolvable references return a
// *CompilationError naming every missing variable.
func (e *Engine) CompileTemplate(ctx context.Context, id string, bindings map[string]any, version string) (string, error) {
	out, err := e.store.Compile(ctx, id, bindings, version)
	if err != nil {
		return "", err
	}
	e.instruments.TemplatesCompiled.Add(ctx, 1)
	return out, nil
}

// ValidateTemplate checks the bindings against the template's declared
// variables without requiring a successful compile. The result carries
// every error and warning found, never just the first.
func (e *Engine) ValidateTemplate(ctx context.Context, id string, bindings map[string]any) (ValidationResult, error) {
	return e.store.Validate(ctx, id, bindings)
}

// RecordExecution ingests one execution record into the template's
// bounded buffer, persists the buffer, and folds the record into the
// live analytics buckets. The record must carry a template id; a missing
// id or ExecutedAt are filled in.
func (e *Engine) RecordExecution(ctx context.Context, rec model.ExecutionRecord) error {
	if err := e.rec.Record(ctx, rec); err != nil {
		return err
	}
	// Record fills ID/ExecutedAt on its copy; refetch the stored record so
	// analytics sees the final timestamps.
	buf := e.rec.Buffer(rec.TemplateID)
	if len(buf) > 0 {
		e.analytics.Observe(buf[len(buf)-1])
	}
	e.instruments.ExecutionsRecorded.Add(ctx, 1)
	return nil
}

// TemplateMetrics recomputes the summary metrics for one template from
// its current execution buffer.
func (e *Engine) TemplateMetrics(id string) model.TemplateMetrics {
	return e.rec.Metrics(id)
}

// Snapshots returns the template's performance snapshots at one
// granularity with bucket starts in [from, to), ordered by bucket start.
func (e *Engine) Snapshots(id string, g model.Granularity, from, to time.Time) []model.PerformanceSnapshot {
	return e.analytics.Snapshots(id, g, from, to)
}

// Trends fits per-metric linear trends over the template's snapshots in
// [from, to).
func (e *Engine) Trends(id string, from, to time.Time) []model.Trend {
	return e.analytics.Trends(id, from, to)
}

// Anomalies returns the anomalies flagged for the template in [from, to).
func (e *Engine) Anomalies(id string, from, to time.Time) []model.Anomaly {
	return e.analytics.Anomalies(id, from, to)
}

// Report generates the full performance report for [from, to). A zero
// from/to selects the last seven days ending now.
func (e *Engine) Report(id string, from, to time.Time) model.PerformanceReport {
	if to.IsZero() {
		to = e.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-analytics.DefaultReportPeriod)
	}
	return e.analytics.Report(id, from, to)
}
