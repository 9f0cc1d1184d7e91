package pipeline

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

// RiskStage classifies the selected tool and raises a security alert for
// critical-risk selections. Runs after routing, before execution. The stage
// never blocks a request; blocking is the approval gate's job.
type RiskStage struct{}

// Name implements Stage.
func (RiskStage) Name() string {
	return "risk_classify"
}

// Process implements Stage.
func (RiskStage) Process(_ context.Context, st *State) error {
	if st.Decision == nil || st.Decision.SelectedTool == nil {
		return nil
	}
	def := st.Decision.SelectedTool
	level := tool.Classify(*def)
	def.RiskLevel = level

	if level == tool.RiskLevelCritical {
		st.AddAlert(Alert{
			Summary:  "critical-risk tool selected: " + def.ID,
			Severity: audit.SeverityCritical,
			Details: map[string]interface{}{
				"tool":       def.ID,
				"risk_level": string(level),
				"action":     st.Request.Intent.Action,
			},
		})
	}
	return nil
}

// Compile-time check that RiskStage implements Stage.
var _ Stage = RiskStage{}
