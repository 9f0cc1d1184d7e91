package pipeline

import (
	"context"
	"strings"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
)

// secretMask replaces leaked secret material in tool output.
const secretMask = "***REDACTED***"

// OutputScanStage checks tool output for the secret values that were
// resolved for the execution. A leak is redacted in place and raised as a
// security alert; the execution itself still succeeds. Runs after execution.
type OutputScanStage struct{}

// Name implements Stage.
func (OutputScanStage) Name() string {
	return "output_scan"
}

// Process implements Stage.
func (OutputScanStage) Process(_ context.Context, st *State) error {
	if st.Execution == nil || st.Execution.Output == nil || len(st.Secrets) == 0 {
		return nil
	}

	values := make([]string, 0, len(st.Secrets))
	for _, sec := range st.Secrets {
		if sec.Value != "" {
			values = append(values, sec.Value)
		}
	}
	if len(values) == 0 {
		return nil
	}

	leaked := map[string]bool{}
	st.Execution.Output = scrub(st.Execution.Output, values, func(id int) {
		leaked[st.Secrets[id].ID] = true
	})

	if len(leaked) > 0 {
		ids := make([]string, 0, len(leaked))
		for id := range leaked {
			ids = append(ids, id)
		}
		st.AddAlert(Alert{
			Summary:  "tool output contained resolved secret material",
			Severity: audit.SeverityCritical,
			Details: map[string]interface{}{
				"tool":           toolID(st),
				"credential_ids": ids,
			},
		})
	}
	return nil
}

// scrub walks JSON-shaped output and masks every occurrence of a secret
// value inside strings. onLeak is invoked with the index of each secret
// found at least once.
func scrub(v interface{}, secrets []string, onLeak func(int)) interface{} {
	switch val := v.(type) {
	case string:
		out := val
		for i, s := range secrets {
			if strings.Contains(out, s) {
				onLeak(i)
				out = strings.ReplaceAll(out, s, secretMask)
			}
		}
		return out
	case map[string]interface{}:
		for k, item := range val {
			val[k] = scrub(item, secrets, onLeak)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = scrub(item, secrets, onLeak)
		}
		return val
	default:
		return v
	}
}

func toolID(st *State) string {
	if st.Decision != nil && st.Decision.SelectedTool != nil {
		return st.Decision.SelectedTool.ID
	}
	return ""
}

// Compile-time check that OutputScanStage implements Stage.
var _ Stage = OutputScanStage{}
