// Package storage provides the persistence collaborator for the engine:
// a key-addressed blob store over three namespaces (templates, versions,
// executions). Values are opaque JSON blobs; the store imposes no schema
// beyond "serializable value in, value out".
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("storage: not found")

// Namespace partitions the key space.
type Namespace string

const (
	// NamespaceTemplates holds one entry per template id: the current state.
	NamespaceTemplates Namespace = "templates"
	// NamespaceVersions holds one entry per template id: the ordered
	// array of version snapshots.
	NamespaceVersions Namespace = "versions"
	// NamespaceExecutions holds one entry per template id: the capped
	// array of execution records.
	NamespaceExecutions Namespace = "executions"
)

// Blob is a durable key/value store. Implementations must be safe for
// concurrent use.
type Blob interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)

	// Set writes the value for key, replacing any existing value.
	Set(ctx context.Context, ns Namespace, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Keys lists all keys in the namespace, in unspecified order.
	Keys(ctx context.Context, ns Namespace) ([]string, error)

	// Close releases underlying resources.
	Close() error
}
