package cel

import (
	"path/filepath"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

// newConstraintEnvironment builds the CEL environment routing constraints
// compile against. Variables describe the candidate tool and the normalized
// intent being routed:
//   - Tool: tool_id, tool_name, tool_description, tool_protocol, tool_cost,
//     tool_latency_ms, tool_risk
//   - Intent: intent_category, intent_action, intent_target, parameters
//   - Custom functions: glob, param, param_contains
func newConstraintEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_id", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_description", cel.StringType),
		cel.Variable("tool_protocol", cel.StringType),
		cel.Variable("tool_cost", cel.DoubleType),
		cel.Variable("tool_latency_ms", cel.IntType),
		cel.Variable("tool_risk", cel.StringType),

		cel.Variable("intent_category", cel.StringType),
		cel.Variable("intent_action", cel.StringType),
		cel.Variable("intent_target", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),

		// glob: pattern matching for tool ids and names.
		// Usage: glob("fs_*", tool_id)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// param: extract one intent parameter by key, null when absent.
		// Usage: param(parameters, "path")
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if m, ok := mapVal.Value().(map[ref.Val]ref.Val); ok {
						if v, found := m[types.String(key)]; found {
							return v
						}
						return types.NullValue
					}
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		// param_contains: true when any string parameter value contains the
		// substring. Usage: param_contains(parameters, "..")
		cel.Function("param_contains",
			cel.Overload("param_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := substrVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						for _, v := range m {
							if s, ok := v.(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					case map[ref.Val]ref.Val:
						for _, v := range m {
							if s, ok := v.Value().(string); ok && strings.Contains(s, substr) {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// buildActivation maps a candidate tool and normalized intent onto the
// environment's variables. Nil maps become empty maps so CEL never sees a
// null where a map is declared.
func buildActivation(def *tool.Definition, in *intent.NormalizedIntent) map[string]any {
	params := in.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	return map[string]any{
		"tool_id":          def.ID,
		"tool_name":        def.Name,
		"tool_description": def.Description,
		"tool_protocol":    def.Protocol,
		"tool_cost":        def.Cost(),
		"tool_latency_ms":  def.LatencyMs(),
		"tool_risk":        string(def.RiskLevel),

		"intent_category": in.Category.String(),
		"intent_action":   in.Action,
		"intent_target":   in.Target,
		"parameters":      params,
	}
}
