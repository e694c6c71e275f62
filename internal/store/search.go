package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vespera-ai/quill/model"
)

// SortKey selects the ordering of search results.
type SortKey string

const (
	SortCreatedAt   SortKey = "created_at"
	SortUpdatedAt   SortKey = "updated_at"
	SortName        SortKey = "name"
	SortUsage       SortKey = "usage"       // execution count, most first
	SortPerformance SortKey = "performance" // success-rate/latency composite, best first
)

// SearchCriteria filters, sorts, and paginates the template catalog.
// Zero-valued fields do not filter.
type SearchCriteria struct {
	// Query matches case-insensitively as a substring over name,
	// description, and template body.
	Query         string
	Category      string
	Tags          []string // any-of membership
	CreatedBy     string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Active        *bool
	HasVariables  *bool

	SortBy     SortKey
	Descending bool

	// Offset/Limit paginate after sorting. Limit <= 0 means no limit.
	Offset int
	Limit  int
}

// Search filters the catalog by the criteria, sorts, then paginates.
func (s *Store) Search(ctx context.Context, criteria SearchCriteria) ([]*model.TemplateDefinition, error) {
	s.mu.RLock()
	all := make([]*model.TemplateDefinition, 0, len(s.templates))
	for _, def := range s.templates {
		all = append(all, def.Clone())
	}
	s.mu.RUnlock()

	matched := all[:0]
	for _, def := range all {
		if matches(def, criteria) {
			matched = append(matched, def)
		}
	}

	s.sortResults(matched, criteria)

	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			return []*model.TemplateDefinition{}, nil
		}
		matched = matched[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(matched) {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

func matches(def *model.TemplateDefinition, c SearchCriteria) bool {
	if c.Query != "" {
		q := strings.ToLower(c.Query)
		if !strings.Contains(strings.ToLower(def.Name), q) &&
			!strings.Contains(strings.ToLower(def.Description), q) &&
			!strings.Contains(strings.ToLower(def.Content), q) {
			return false
		}
	}
	if c.Category != "" && def.Category != c.Category {
		return false
	}
	if len(c.Tags) > 0 {
		any := false
		for _, tag := range c.Tags {
			if def.HasTag(tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if c.CreatedBy != "" && def.CreatedBy != c.CreatedBy {
		return false
	}
	if c.CreatedAfter != nil && def.CreatedAt.Before(*c.CreatedAfter) {
		return false
	}
	if c.CreatedBefore != nil && def.CreatedAt.After(*c.CreatedBefore) {
		return false
	}
	if c.Active != nil && def.Active != *c.Active {
		return false
	}
	if c.HasVariables != nil && (len(def.Variables) > 0) != *c.HasVariables {
		return false
	}
	return true
}

func (s *Store) sortResults(defs []*model.TemplateDefinition, c SearchCriteria) {
	var less func(a, b *model.TemplateDefinition) bool
	switch c.SortBy {
	case SortUpdatedAt:
		less = func(a, b *model.TemplateDefinition) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	case SortName:
		less = func(a, b *model.TemplateDefinition) bool {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
	case SortUsage:
		less = func(a, b *model.TemplateDefinition) bool {
			return s.executionCount(a.ID) < s.executionCount(b.ID)
		}
	case SortPerformance:
		less = func(a, b *model.TemplateDefinition) bool {
			return s.performanceScore(a.ID) < s.performanceScore(b.ID)
		}
	default: // SortCreatedAt
		less = func(a, b *model.TemplateDefinition) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if c.Descending {
			return less(defs[j], defs[i])
		}
		return less(defs[i], defs[j])
	})
}

func (s *Store) executionCount(id string) int {
	if s.metrics == nil {
		return 0
	}
	return s.metrics.Metrics(id).TotalExecutions
}

// performanceScore ranks templates by a success-rate-dominant composite
// with a latency penalty: one point of success rate outweighs a second
// of average response time a hundredfold.
func (s *Store) performanceScore(id string) float64 {
	if s.metrics == nil {
		return 0
	}
	m := s.metrics.Metrics(id)
	if m.TotalExecutions == 0 {
		return 0
	}
	return m.SuccessRate*100 - m.AverageResponseTime.Seconds()
}
