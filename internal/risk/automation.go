package risk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"log/slog"
)

const (
	TriggerHighRiskScore = "high_risk_score"

	ActionSuspendDriver = "suspend_driver"
	ActionFlagReview    = "flag_review"
)

// Rule is one automation rule. Rules are loaded from configuration, not
// compiled in, so the enforcement policy changes without a deploy.
type Rule struct {
	Name      string
	Trigger   string
	Threshold int
	Action    string
}

// Suspender executes the suspension under the automation identity.
type Suspender interface {
	AutoSuspendDriver(ctx context.Context, driverID uuid.UUID, reason string) error
}

// Engine evaluates automation rules against a driver's risk analysis.
type Engine struct {
	rules     []Rule
	suspender Suspender
	logger    *slog.Logger
}

func NewEngine(rules []Rule, suspender Suspender, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, suspender: suspender, logger: logger}
}

// Evaluate runs every rule in order and reports whether any rule took an
// action. A suspend action short-circuits: once the driver is suspended
// there is nothing further to enforce.
func (e *Engine) Evaluate(ctx context.Context, driverID uuid.UUID, analysis Analysis) (bool, error) {
	for _, rule := range e.rules {
		if rule.Trigger != TriggerHighRiskScore || analysis.Score <= rule.Threshold {
			continue
		}
		switch rule.Action {
		case ActionSuspendDriver:
			reason := fmt.Sprintf("Automated: %s", rule.Name)
			if err := e.suspender.AutoSuspendDriver(ctx, driverID, reason); err != nil {
				return false, fmt.Errorf("rule %q: %w", rule.Name, err)
			}
			e.logger.Info("automation rule suspended driver",
				"driver_id", driverID.String(),
				"rule", rule.Name,
				"score", analysis.Score,
			)
			return true, nil
		case ActionFlagReview:
			e.logger.Warn("driver flagged for manual review",
				"driver_id", driverID.String(),
				"rule", rule.Name,
				"score", analysis.Score,
				"factors", analysis.Factors,
			)
			return true, nil
		default:
			e.logger.Error("unknown automation action", "rule", rule.Name, "action", rule.Action)
		}
	}
	return false, nil
}
