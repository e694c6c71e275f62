package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vespera-ai/quill/internal/compiler"
	"github.com/vespera-ai/quill/internal/events"
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// eventSink records every published event, in order.
type eventSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *eventSink) record(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func newTestStore(t *testing.T, cfg Config) (*Store, *eventSink) {
	t.Helper()
	logger := testLogger()
	bus := events.NewBus(logger)
	sink := &eventSink{}
	bus.Subscribe(sink.record)
	st := New(storage.NewMemory(), compiler.New(compiler.DefaultOptions()), bus, logger, nil, cfg, nil)
	return st, sink
}

func greetingDef() model.TemplateDefinition {
	return model.TemplateDefinition{
		Name:    "greeting",
		Content: "Hello {{name}}!",
		Variables: []model.DeclaredVariable{
			{Name: "name", Type: model.VariableString, Required: true, Default: "world"},
		},
		Category:  "onboarding",
		Tags:      []string{"demo"},
		CreatedBy: "tester",
	}
}

func TestCreateAssignsIDAndInitialVersion(t *testing.T) {
	st, sink := newTestStore(t, Config{Versioning: true})

	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "1.0.0", created.Version)
	assert.True(t, created.Active)
	assert.False(t, created.CreatedAt.IsZero())

	history, err := st.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "1.0.0", history[0].Version)
	assert.Equal(t, "Initial version", history[0].Changelog)
	assert.Equal(t, "tester", history[0].Author)

	assert.Equal(t, []model.EventType{model.EventTemplateCreated, model.EventVersionCreated}, sink.types())
}

func TestCreateRejectsInvalidDefinition(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})

	def := greetingDef()
	def.Variables = []model.DeclaredVariable{
		{Name: "name", Type: model.VariableNumber, Default: "not a number"},
	}
	_, err := st.Create(context.Background(), def)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotEmpty(t, verr.Messages)
}

func TestUpdateIncrementsPatchVersion(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	id := created.ID
	for i := 1; i <= 5; i++ {
		content := fmt.Sprintf("Hello {{name}}! (rev %d)", i)
		updated, err := st.Update(context.Background(), id, model.TemplateUpdate{Content: &content}, "tweak")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("1.0.%d", i), updated.Version)
	}

	history, err := st.Versions(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, "1.0.0", history[0].Version)
	assert.Equal(t, "1.0.5", history[5].Version)
	assert.Equal(t, "tweak", history[5].Changelog)
}

func TestUpdateValidationFailureLeavesOriginal(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	badVars := []model.DeclaredVariable{
		{Name: "name", Type: model.VariableNumber, Default: "oops"},
	}
	_, err = st.Update(context.Background(), created.ID, model.TemplateUpdate{Variables: &badVars}, "break it")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	// Stored record and history are exactly as before the failed update.
	got, err := st.Get(context.Background(), created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Equal(t, created.Content, got.Content)

	history, err := st.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpdateMergesPartialFields(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	name := "renamed"
	tags := []string{"a", "b"}
	updated, err := st.Update(context.Background(), created.ID, model.TemplateUpdate{
		Name: &name,
		Tags: &tags,
	}, "rename")
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, []string{"a", "b"}, updated.Tags)
	// Untouched fields survive.
	assert.Equal(t, created.Content, updated.Content)
	assert.Equal(t, created.Category, updated.Category)
}

func TestUpdateMissingTemplate(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	name := "x"
	_, err := st.Update(context.Background(), "nope", model.TemplateUpdate{Name: &name}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetHistoricalVersionOverlay(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	v2 := "Goodbye {{name}}!"
	newName := "farewell"
	_, err = st.Update(context.Background(), created.ID, model.TemplateUpdate{Content: &v2, Name: &newName}, "flip")
	require.NoError(t, err)

	old, err := st.Get(context.Background(), created.ID, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", old.Version)
	assert.Equal(t, "Hello {{name}}!", old.Content)
	// Unversioned fields reflect the live record.
	assert.Equal(t, "farewell", old.Name)

	_, err = st.Get(context.Background(), created.ID, "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsSoft(t *testing.T) {
	st, sink := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	require.NoError(t, st.Delete(context.Background(), created.ID))

	got, err := st.Get(context.Background(), created.ID, "")
	require.NoError(t, err)
	assert.False(t, got.Active)

	// History survives the delete.
	history, err := st.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	assert.Contains(t, sink.types(), model.EventTemplateDeleted)
	assert.ErrorIs(t, st.Delete(context.Background(), "nope"), ErrNotFound)
}

func TestHistoryTrimDropsOldestFirst(t *testing.T) {
	st, sink := newTestStore(t, Config{Versioning: true, HistoryLimit: 3})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		content := fmt.Sprintf("Hello {{name}} v%d", i)
		_, err := st.Update(context.Background(), created.ID, model.TemplateUpdate{Content: &content}, "")
		require.NoError(t, err)
	}

	history, err := st.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "1.0.3", history[0].Version)
	assert.Equal(t, "1.0.5", history[2].Version)
	assert.Contains(t, sink.types(), model.EventVersionsPruned)
}

func TestVersioningDisabled(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: false})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	content := "Hi {{name}}"
	updated, err := st.Update(context.Background(), created.ID, model.TemplateUpdate{Content: &content}, "")
	require.NoError(t, err)
	// The version string still advances; only the snapshots are skipped.
	assert.Equal(t, "1.0.1", updated.Version)

	history, err := st.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCompileStoredTemplate(t *testing.T) {
	st, sink := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	out, err := st.Compile(context.Background(), created.ID, map[string]any{"name": "Ada"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)

	// Default kicks in when the binding is absent.
	out, err = st.Compile(context.Background(), created.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world!", out)

	assert.Contains(t, sink.types(), model.EventTemplateCompiled)
}

func TestCompileHistoricalVersion(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	v2 := "Goodbye {{name}}!"
	_, err = st.Update(context.Background(), created.ID, model.TemplateUpdate{Content: &v2}, "")
	require.NoError(t, err)

	out, err := st.Compile(context.Background(), created.ID, map[string]any{"name": "Ada"}, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", out)

	out, err = st.Compile(context.Background(), created.ID, map[string]any{"name": "Ada"}, "")
	require.NoError(t, err)
	assert.Equal(t, "Goodbye Ada!", out)
}

func TestCompileStrictFailurePublishesError(t *testing.T) {
	st, sink := newTestStore(t, Config{Versioning: true})
	def := greetingDef()
	def.Content = "Hello {{name}}, meet {{other}}!"
	def.Variables = append(def.Variables, model.DeclaredVariable{Name: "other", Type: model.VariableString})
	created, err := st.Create(context.Background(), def)
	require.NoError(t, err)

	_, err = st.Compile(context.Background(), created.ID, map[string]any{"name": "Ada"}, "")
	require.Error(t, err)
	var cerr *compiler.CompilationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"other"}, cerr.Missing)
	assert.Contains(t, sink.types(), model.EventError)
}

func TestValidateStoredTemplate(t *testing.T) {
	st, _ := newTestStore(t, Config{Versioning: true})
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)

	res, err := st.Validate(context.Background(), created.ID, map[string]any{"name": 42})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, `variable "name": expected string, got number`)

	_, err = st.Validate(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistenceRoundTrip(t *testing.T) {
	blob := storage.NewMemory()
	logger := testLogger()
	bus := events.NewBus(logger)
	comp := compiler.New(compiler.DefaultOptions())

	st := New(blob, comp, bus, logger, nil, Config{Versioning: true}, nil)
	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)
	content := "Hi {{name}}"
	_, err = st.Update(context.Background(), created.ID, model.TemplateUpdate{Content: &content}, "v2")
	require.NoError(t, err)

	// A fresh store over the same blob sees the full state.
	st2 := New(blob, comp, bus, logger, nil, Config{Versioning: true}, nil)
	st2.Load(context.Background())

	got, err := st2.Get(context.Background(), created.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", got.Version)
	assert.Equal(t, "Hi {{name}}", got.Content)

	history, err := st2.Versions(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMalformedVersionFallsBack(t *testing.T) {
	assert.Equal(t, "1.0.1", nextVersion("1.0.0"))
	assert.Equal(t, "2.3.5", nextVersion("2.3.4"))
	assert.Equal(t, "1.0.1", nextVersion("garbage"))
	assert.Equal(t, "1.0.1", nextVersion(""))
}

func TestClockInjection(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := testLogger()
	bus := events.NewBus(logger)
	st := New(storage.NewMemory(), compiler.New(compiler.DefaultOptions()), bus, logger, nil,
		Config{Versioning: true}, func() time.Time { return fixed })

	created, err := st.Create(context.Background(), greetingDef())
	require.NoError(t, err)
	assert.Equal(t, fixed, created.CreatedAt)
	assert.Equal(t, fixed, created.UpdatedAt)
}
