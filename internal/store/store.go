// Package store owns the canonical template records and their immutable
// version history. It validates through the compiler, persists through
// the blob collaborator, and emits lifecycle events on every mutation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vespera-ai/quill/internal/compiler"
	"github.com/vespera-ai/quill/internal/events"
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/model"
)

// DefaultHistoryLimit caps version history per template. The oldest
// snapshots are pruned first.
const DefaultHistoryLimit = 50

// MetricsProvider supplies execution summaries for search ranking.
// Implemented by the execution recorder.
type MetricsProvider interface {
	Metrics(id string) model.TemplateMetrics
}

// Config tunes store behavior.
type Config struct {
	// HistoryLimit caps version snapshots per template; <= 0 selects
	// DefaultHistoryLimit.
	HistoryLimit int
	// Versioning disables version-history writes when false.
	Versioning bool
}

// Store is the versioned template store. Canonical state lives in memory
// with write-through persistence; a failed initial load degrades to
// memory-only operation, but a failed save on a mutating call propagates
// to the caller.
//
// The in-process mutex makes version increments atomic within one
// process. Concurrent writers on separate instances can still race on
// the version counter; deployments needing that must add an external
// compare-and-swap, which is out of scope here.
type Store struct {
	blob    storage.Blob
	comp    *compiler.Compiler
	bus     *events.Bus
	logger  *slog.Logger
	metrics MetricsProvider
	cfg     Config
	now     func() time.Time

	mu        sync.RWMutex
	templates map[string]*model.TemplateDefinition
	versions  map[string][]model.TemplateVersion
}

// New creates a Store. metrics may be nil; usage- and performance-sorted
// search then degrade to zero scores.
func New(blob storage.Blob, comp *compiler.Compiler, bus *events.Bus, logger *slog.Logger, metrics MetricsProvider, cfg Config, now func() time.Time) *Store {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		blob:      blob,
		comp:      comp,
		bus:       bus,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		now:       now,
		templates: make(map[string]*model.TemplateDefinition),
		versions:  make(map[string][]model.TemplateVersion),
	}
}

// Load hydrates templates and version history from persistence.
// Failures are logged and tolerated: the store starts memory-only.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.blob.Keys(ctx, storage.NamespaceTemplates)
	if err != nil {
		s.logger.Warn("store: list persisted templates", "error", err)
		return
	}
	for _, id := range ids {
		raw, err := s.blob.Get(ctx, storage.NamespaceTemplates, id)
		if err != nil {
			s.logger.Warn("store: load template", "template_id", id, "error", err)
			continue
		}
		var def model.TemplateDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			s.logger.Warn("store: decode template", "template_id", id, "error", err)
			continue
		}
		s.templates[id] = &def

		vraw, err := s.blob.Get(ctx, storage.NamespaceVersions, id)
		if err != nil {
			continue // No history persisted for this template.
		}
		var history []model.TemplateVersion
		if err := json.Unmarshal(vraw, &history); err != nil {
			s.logger.Warn("store: decode versions", "template_id", id, "error", err)
			continue
		}
		s.versions[id] = history
	}
	s.logger.Info("store: loaded templates", "count", len(s.templates))
}

// Create assigns a fresh id and version "1.0.0", validates the definition
// against its own schema defaults, persists it, and writes the initial
// version snapshot.
func (s *Store) Create(ctx context.Context, def model.TemplateDefinition) (*model.TemplateDefinition, error) {
	def.ID = uuid.NewString()
	def.Version = initialVersion
	def.Active = true
	nowTS := s.now().UTC()
	def.CreatedAt = nowTS
	def.UpdatedAt = nowTS

	if err := s.validateDefinition(&def); err != nil {
		s.bus.PublishError("create", def.ID, err)
		return nil, err
	}

	s.mu.Lock()
	s.templates[def.ID] = def.Clone()
	var history []model.TemplateVersion
	if s.cfg.Versioning {
		history = []model.TemplateVersion{{
			Version:   def.Version,
			Content:   def.Content,
			Variables: append([]model.DeclaredVariable(nil), def.Variables...),
			Changelog: "Initial version",
			Author:    def.CreatedBy,
			CreatedAt: nowTS,
		}}
		s.versions[def.ID] = history
	}
	s.mu.Unlock()

	if err := s.persist(ctx, &def, history); err != nil {
		return nil, err
	}

	s.bus.Publish(model.Event{
		Type:       model.EventTemplateCreated,
		TemplateID: def.ID,
		Payload:    map[string]any{"name": def.Name, "version": def.Version},
	})
	if s.cfg.Versioning {
		s.bus.Publish(model.Event{
			Type:       model.EventVersionCreated,
			TemplateID: def.ID,
			Payload:    map[string]any{"version": def.Version},
		})
	}
	return def.Clone(), nil
}

// Update merges the partial fields onto the existing record, increments
// the patch version, and re-validates the merged result before anything
// is written — a validation failure leaves the original untouched.
//
// Exactly one version snapshot is written per update: the post-update
// state. (The create call already snapshotted the initial state, so
// history stays gap-free.)
func (s *Store) Update(ctx context.Context, id string, upd model.TemplateUpdate, changelog string) (*model.TemplateDefinition, error) {
	s.mu.RLock()
	existing, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: update %s: %w", id, ErrNotFound)
	}

	merged := existing.Clone()
	applyUpdate(merged, upd)
	merged.Version = nextVersion(existing.Version)
	merged.UpdatedAt = s.now().UTC()

	if err := s.validateDefinition(merged); err != nil {
		s.bus.PublishError("update", id, err)
		return nil, err
	}

	var history []model.TemplateVersion
	var pruned int
	s.mu.Lock()
	if s.cfg.Versioning {
		for _, v := range s.versions[id] {
			if v.Version == merged.Version {
				s.mu.Unlock()
				return nil, fmt.Errorf("store: update %s to %s: %w", id, merged.Version, ErrVersionConflict)
			}
		}
	}
	s.templates[id] = merged.Clone()
	if s.cfg.Versioning {
		history = append(s.versions[id], model.TemplateVersion{
			Version:   merged.Version,
			Content:   merged.Content,
			Variables: append([]model.DeclaredVariable(nil), merged.Variables...),
			Changelog: changelog,
			Author:    merged.CreatedBy,
			CreatedAt: merged.UpdatedAt,
		})
		history, pruned = trimHistory(history, s.cfg.HistoryLimit)
		s.versions[id] = history
	}
	s.mu.Unlock()

	if err := s.persist(ctx, merged, history); err != nil {
		return nil, err
	}

	s.bus.Publish(model.Event{
		Type:       model.EventTemplateUpdated,
		TemplateID: id,
		Payload:    map[string]any{"version": merged.Version, "changelog": changelog},
	})
	if s.cfg.Versioning {
		s.bus.Publish(model.Event{
			Type:       model.EventVersionCreated,
			TemplateID: id,
			Payload:    map[string]any{"version": merged.Version},
		})
		if pruned > 0 {
			s.bus.Publish(model.Event{
				Type:       model.EventVersionsPruned,
				TemplateID: id,
				Payload:    map[string]any{"pruned": pruned},
			})
		}
	}
	return merged.Clone(), nil
}

// Get returns the live record, or a historical view when version is
// non-empty. Historical views overlay the archived content and variable
// schema onto the live record; name, tags, and the other unversioned
// fields stay current.
func (s *Store) Get(ctx context.Context, id, version string) (*model.TemplateDefinition, error) {
	s.mu.RLock()
	live, ok := s.templates[id]
	var history []model.TemplateVersion
	if ok {
		history = s.versions[id]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: get %s: %w", id, ErrNotFound)
	}

	out := live.Clone()
	if version == "" || version == live.Version {
		return out, nil
	}
	for _, v := range history {
		if v.Version == version {
			out.Version = v.Version
			out.Content = v.Content
			out.Variables = append([]model.DeclaredVariable(nil), v.Variables...)
			return out, nil
		}
	}
	return nil, fmt.Errorf("store: get %s version %s: %w", id, version, ErrNotFound)
}

// Versions returns the template's history, oldest first.
func (s *Store) Versions(ctx context.Context, id string) ([]model.TemplateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.templates[id]; !ok {
		return nil, fmt.Errorf("store: versions %s: %w", id, ErrNotFound)
	}
	return append([]model.TemplateVersion(nil), s.versions[id]...), nil
}

// Delete soft-deletes: the record stays retrievable with Active=false.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	def, ok := s.templates[id]
	if ok {
		def.Active = false
		def.UpdatedAt = s.now().UTC()
		def = def.Clone()
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("store: delete %s: %w", id, ErrNotFound)
	}

	if err := s.persist(ctx, def, nil); err != nil {
		return err
	}
	s.bus.Publish(model.Event{
		Type:       model.EventTemplateDeleted,
		TemplateID: id,
	})
	return nil
}

// Compile resolves the record (historical view when version is set) and
// delegates to the compiler. The emitted audit event carries only the
// compiled-output length, never the content.
func (s *Store) Compile(ctx context.Context, id string, bindings map[string]any, version string) (string, error) {
	def, err := s.Get(ctx, id, version)
	if err != nil {
		return "", err
	}
	out, err := s.comp.Compile(def.Content, def.Variables, bindings)
	if err != nil {
		s.bus.PublishError("compile", id, err)
		return "", err
	}
	s.bus.Publish(model.Event{
		Type:       model.EventTemplateCompiled,
		TemplateID: id,
		Payload:    map[string]any{"version": def.Version, "output_length": len(out)},
	})
	return out, nil
}

// Validate runs compiler validation for a stored template against the
// given bindings.
func (s *Store) Validate(ctx context.Context, id string, bindings map[string]any) (compiler.ValidationResult, error) {
	def, err := s.Get(ctx, id, "")
	if err != nil {
		return compiler.ValidationResult{}, err
	}
	return s.comp.Validate(def.Content, def.Variables, bindings), nil
}

// validateDefinition checks a definition against its own schema:
// declared defaults must satisfy their types and constraints. Binding
// presence is checked at compile time, not here.
func (s *Store) validateDefinition(def *model.TemplateDefinition) error {
	res := s.comp.ValidateDefinition(def.Content, def.Variables)
	if !res.Valid {
		return &ValidationError{TemplateID: def.ID, Messages: res.Errors}
	}
	return nil
}

// persist writes the template record and, when non-nil, its history.
// Save failures are not swallowed: losing a write silently would violate
// the durability contract implied by the API.
func (s *Store) persist(ctx context.Context, def *model.TemplateDefinition, history []model.TemplateVersion) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("store: encode template %s: %w", def.ID, err)
	}
	if err := s.blob.Set(ctx, storage.NamespaceTemplates, def.ID, raw); err != nil {
		s.bus.PublishError("persist", def.ID, err)
		return fmt.Errorf("store: persist template %s: %w", def.ID, err)
	}
	if history != nil {
		vraw, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("store: encode versions %s: %w", def.ID, err)
		}
		if err := s.blob.Set(ctx, storage.NamespaceVersions, def.ID, vraw); err != nil {
			s.bus.PublishError("persist", def.ID, err)
			return fmt.Errorf("store: persist versions %s: %w", def.ID, err)
		}
	}
	return nil
}

// applyUpdate copies the non-nil fields of upd onto def.
func applyUpdate(def *model.TemplateDefinition, upd model.TemplateUpdate) {
	if upd.Name != nil {
		def.Name = *upd.Name
	}
	if upd.Description != nil {
		def.Description = *upd.Description
	}
	if upd.Category != nil {
		def.Category = *upd.Category
	}
	if upd.Content != nil {
		def.Content = *upd.Content
	}
	if upd.Variables != nil {
		def.Variables = append([]model.DeclaredVariable(nil), *upd.Variables...)
	}
	if upd.Tags != nil {
		def.Tags = append([]string(nil), *upd.Tags...)
	}
	if upd.Metadata != nil {
		def.Metadata = make(map[string]any, len(*upd.Metadata))
		for k, v := range *upd.Metadata {
			def.Metadata[k] = v
		}
	}
}

// trimHistory keeps the most recent limit entries by creation time and
// reports how many were pruned.
func trimHistory(history []model.TemplateVersion, limit int) ([]model.TemplateVersion, int) {
	if len(history) <= limit {
		return history, 0
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})
	pruned := len(history) - limit
	return append([]model.TemplateVersion(nil), history[pruned:]...), pruned
}
