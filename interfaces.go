package quill

import (
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/model"
)

// Namespace partitions the repository key space. The engine uses one
// namespace per record family.
type Namespace = storage.Namespace

const (
	NamespaceTemplates  = storage.NamespaceTemplates
	NamespaceVersions   = storage.NamespaceVersions
	NamespaceExecutions = storage.NamespaceExecutions
)

// Repository is the persistence collaborator: a durable key/value store
// over the engine's namespaces. Values are opaque JSON blobs.
// Implementations must be safe for concurrent use.
//
// The engine ships two implementations (SQLite and in-memory); supply
// your own via WithRepository to persist elsewhere.
type Repository = storage.Blob

// EventHook receives engine lifecycle events: template creation,
// updates, compilation, execution ingestion, anomaly detection, and so
// on. Hooks are invoked synchronously in registration order, so a slow
// hook slows the mutating call that triggered it. A panicking hook is
// recovered and logged; it does not take the engine down.
type EventHook interface {
	HandleEvent(ev model.Event)
}

// EventHookFunc adapts a function to the EventHook interface.
type EventHookFunc func(ev model.Event)

func (f EventHookFunc) HandleEvent(ev model.Event) { f(ev) }
