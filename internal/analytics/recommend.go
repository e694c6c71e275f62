package analytics

import (
	"fmt"
	"time"

	"github.com/vespera-ai/quill/model"
)

// Rule thresholds. Fixed rather than configurable: the rules are
// heuristics, and tuning them per deployment has not been needed.
const (
	slowResponseThreshold = 5 * time.Second
	lowSuccessRate        = 0.95
	costShiftPercent      = 20.0
	anomalyBurstCount     = 5
	anomalyBurstWindow    = 24 * time.Hour
	lowQualityThreshold   = 0.7
)

// Recommendations derives rule-based suggestions from the summary
// metrics, trends, and recent anomalies for one template.
func (e *Engine) Recommendations(id string, summary model.TemplateMetrics, trends []model.Trend) []model.Recommendation {
	var out []model.Recommendation

	if summary.TotalExecutions > 0 && summary.AverageResponseTime > slowResponseThreshold {
		out = append(out, model.Recommendation{
			TemplateID: id,
			Priority:   model.PriorityHigh,
			Rule:       "slow_response",
			Rationale: fmt.Sprintf("average response time %s exceeds the %s latency threshold",
				summary.AverageResponseTime.Round(time.Millisecond), slowResponseThreshold),
			Action: "shorten the template or switch to a faster model",
		})
	}

	if summary.TotalExecutions > 0 && summary.SuccessRate < lowSuccessRate {
		out = append(out, model.Recommendation{
			TemplateID: id,
			Priority:   model.PriorityHigh,
			Rule:       "low_success_rate",
			Rationale: fmt.Sprintf("success rate %.1f%% is below the %.0f%% target",
				summary.SuccessRate*100, lowSuccessRate*100),
			Action: "inspect recent failures and tighten the variable schema",
		})
	}

	for _, t := range trends {
		if t.Metric != "cost" {
			continue
		}
		switch {
		case t.Direction == model.TrendDeclining && t.PercentChange < -costShiftPercent:
			out = append(out, model.Recommendation{
				TemplateID: id,
				Priority:   model.PriorityMedium,
				Rule:       "cost_declining",
				Rationale: fmt.Sprintf("cost per execution fell %.1f%% over the period",
					-t.PercentChange),
				Action: "confirm output quality has not regressed alongside the cost drop",
			})
		case t.Direction == model.TrendImproving && t.PercentChange > costShiftPercent:
			out = append(out, model.Recommendation{
				TemplateID: id,
				Priority:   model.PriorityMedium,
				Rule:       "cost_rising",
				Rationale: fmt.Sprintf("cost per execution rose %.1f%% over the period",
					t.PercentChange),
				Action: "review prompt length and model selection for cost regressions",
			})
		}
	}

	now := e.now().UTC()
	recent := e.Anomalies(id, now.Add(-anomalyBurstWindow), now)
	if len(recent) > anomalyBurstCount {
		out = append(out, model.Recommendation{
			TemplateID: id,
			Priority:   model.PriorityHigh,
			Rule:       "anomaly_burst",
			Rationale: fmt.Sprintf("%d anomalies detected in the last 24 hours",
				len(recent)),
			Action: "check provider status and recent template changes",
		})
	}

	if summary.AverageQuality != nil && *summary.AverageQuality < lowQualityThreshold {
		out = append(out, model.Recommendation{
			TemplateID: id,
			Priority:   model.PriorityMedium,
			Rule:       "low_quality",
			Rationale: fmt.Sprintf("average quality score %.2f is below the %.1f threshold",
				*summary.AverageQuality, lowQualityThreshold),
			Action: "revise the template wording or add few-shot examples",
		})
	}

	return out
}
