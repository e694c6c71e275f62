package model

import "time"

// TokenUsage breaks a single model invocation's token counts down by role.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ExecutionRecord captures one compile-and-invoke event against a template.
// Immutable once recorded. The engine never calls a provider itself; the
// caller hands in the finished record.
type ExecutionRecord struct {
	ID           string         `json:"id"`
	TemplateID   string         `json:"template_id"`
	Version      string         `json:"version"`
	Bindings     map[string]any `json:"bindings,omitempty"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Response     string         `json:"response,omitempty"`
	ResponseTime time.Duration  `json:"response_time"`
	Tokens       TokenUsage     `json:"tokens"`
	Cost         float64        `json:"cost"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	QualityScore *float64       `json:"quality_score,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// TemplateMetrics is the pull-based summary over a template's buffered
// executions. Averages cover successful executions only; LastExecutedAt
// covers all of them, failures included.
type TemplateMetrics struct {
	TemplateID          string        `json:"template_id"`
	TotalExecutions     int           `json:"total_executions"`
	SuccessRate         float64       `json:"success_rate"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	AverageTokens       float64       `json:"average_tokens"`
	AverageCost         float64       `json:"average_cost"`
	TotalCost           float64       `json:"total_cost"`
	LastExecutedAt      time.Time     `json:"last_executed_at"`
	AverageQuality      *float64      `json:"average_quality,omitempty"`
}
