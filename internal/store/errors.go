package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a template or version does not exist.
var ErrNotFound = errors.New("store: template not found")

// ErrVersionConflict is returned when a version snapshot that already
// exists would be written again for the same template.
var ErrVersionConflict = errors.New("store: version already exists")

// ValidationError aggregates every validation failure for one template.
// Callers must not assume a single failure reason.
type ValidationError struct {
	TemplateID string
	Messages   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: template %s failed validation: %s",
		e.TemplateID, strings.Join(e.Messages, "; "))
}
