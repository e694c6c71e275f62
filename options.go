package quill

import (
	"log/slog"
	"time"

	"github.com/vespera-ai/quill/internal/compiler"
	"github.com/vespera-ai/quill/model"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger           *slog.Logger
	version          string
	repository       Repository
	databasePath     *string
	eventHooks       []EventHook
	historyLimit     int
	versioning       *bool
	bufferSize       int
	anomalyThreshold float64
	compilerOptions  *compiler.Options
	rollupIntervals  map[model.Granularity]time.Duration
	clock            func() time.Time
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRepository replaces the built-in SQLite/in-memory repository.
// The engine does not close an externally supplied repository.
func WithRepository(r Repository) Option {
	return func(o *resolvedOptions) { o.repository = r }
}

// WithDatabasePath overrides the SQLite file path from config
// (QUILL_DB_PATH env var). The empty string selects the in-memory
// repository. Ignored when WithRepository is set.
func WithDatabasePath(path string) Option {
	return func(o *resolvedOptions) { o.databasePath = &path }
}

// WithEventHook registers a hook to receive lifecycle events.
// Multiple hooks may be registered; all registered hooks receive every
// event, in registration order.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithHistoryLimit overrides the per-template version history cap from
// config (QUILL_HISTORY_LIMIT env var). When the cap is exceeded the
// oldest snapshots are pruned first.
func WithHistoryLimit(limit int) Option {
	return func(o *resolvedOptions) { o.historyLimit = limit }
}

// WithVersioning toggles version-history writes (QUILL_VERSIONING env
// var). With versioning off, updates still increment the version string
// but record no snapshots.
func WithVersioning(enabled bool) Option {
	return func(o *resolvedOptions) { o.versioning = &enabled }
}

// WithExecutionBufferSize overrides the per-template execution buffer
// cap from config (QUILL_EXECUTION_BUFFER_SIZE env var). A full buffer
// drops its oldest record on ingest.
func WithExecutionBufferSize(size int) Option {
	return func(o *resolvedOptions) { o.bufferSize = size }
}

// WithAnomalyThreshold overrides the z-score cutoff for anomaly
// detection from config (QUILL_ANOMALY_THRESHOLD env var).
func WithAnomalyThreshold(threshold float64) Option {
	return func(o *resolvedOptions) { o.anomalyThreshold = threshold }
}

// WithCompilerOptions replaces the default compiler options (strict
// mode on, whitespace normalization and HTML escaping off).
func WithCompilerOptions(opts CompilerOptions) Option {
	return func(o *resolvedOptions) { o.compilerOptions = &opts }
}

// WithRollupInterval overrides one rollup timer's tick interval.
// Intended for tests and for deployments that want rollups to run more
// often than the granularity's natural width.
func WithRollupInterval(g model.Granularity, interval time.Duration) Option {
	return func(o *resolvedOptions) {
		if o.rollupIntervals == nil {
			o.rollupIntervals = make(map[model.Granularity]time.Duration)
		}
		o.rollupIntervals[g] = interval
	}
}

// WithClock replaces the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.clock = now }
}
