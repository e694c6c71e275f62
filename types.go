package quill

import (
	"github.com/vespera-ai/quill/internal/compiler"
	"github.com/vespera-ai/quill/internal/storage"
	"github.com/vespera-ai/quill/internal/store"
)

// The domain types (TemplateDefinition, ExecutionRecord, the analytics
// structs, Event) live in the public model package. The aliases below
// re-export the operational types from the internal packages so callers
// can name criteria, options, and errors without reaching into
// internal/*. Aliases, not copies: errors.As and errors.Is work across
// the boundary.

// SearchCriteria filters, sorts, and paginates template searches.
type SearchCriteria = store.SearchCriteria

// SortKey selects the ordering of search results.
type SortKey = store.SortKey

const (
	SortCreatedAt   = store.SortCreatedAt
	SortUpdatedAt   = store.SortUpdatedAt
	SortName        = store.SortName
	SortUsage       = store.SortUsage
	SortPerformance = store.SortPerformance
)

// CompilerOptions tunes template compilation.
type CompilerOptions = compiler.Options

// ValidationResult carries every validation error and warning found for
// one compile check.
type ValidationResult = compiler.ValidationResult

// CompilationError reports the variables a strict-mode compile could not
// resolve.
type CompilationError = compiler.CompilationError

// ValidationError aggregates every validation failure for one template
// definition.
type ValidationError = store.ValidationError

// Sentinel errors returned by Engine methods. Test with errors.Is.
var (
	// ErrNotFound reports a missing template or version.
	ErrNotFound = store.ErrNotFound
	// ErrVersionConflict reports an attempt to write a version snapshot
	// that already exists.
	ErrVersionConflict = store.ErrVersionConflict
	// ErrRepositoryNotFound reports a missing repository key. Only
	// Repository implementers need it.
	ErrRepositoryNotFound = storage.ErrNotFound
)
