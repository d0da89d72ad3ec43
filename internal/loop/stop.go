package loop

import (
	"encoding/json"
	"fmt"
)

// StopEvalInput carries everything stop-condition evaluation may reference.
type StopEvalInput struct {
	Policy      *Policy
	CurrentStep StepRecord
	AllSteps    []StepRecord

	// ExecutableByToolName gates hasToolCall matching: a call to a name the
	// hosting process cannot execute (a hallucinated tool) does not stop the
	// loop, unless the name is the declared done tool.
	ExecutableByToolName map[string]bool

	Bindings Bindings
}

// EvaluateStopConditions walks the stopWhen list in declared order; the
// first satisfied condition stops the loop. With no conditions declared the
// loop is bounded only by the caller's max-iterations guard.
func EvaluateStopConditions(in StopEvalInput, eval Evaluator) (StopDecision, error) {
	for i, cond := range in.Policy.StopWhen {
		switch cond.Kind {
		case StopHasToolCall:
			if hasExecutableCall(in, cond.ToolName) {
				return StopDecision{
					ShouldStop: true,
					Kind:       StopHasToolCall,
					Reason:     fmt.Sprintf("tool call %q requested", cond.ToolName),
				}, nil
			}
		case StopCELExpression:
			activation := map[string]interface{}{
				"workflow":    in.Bindings.Workflow,
				"state":       in.Bindings.State,
				"input":       in.Bindings.Input,
				"currentStep": stepToMap(in.CurrentStep),
				"allSteps":    stepsToMaps(in.AllSteps),
			}
			ok, err := eval.EvalBool(cond.Expression, activation)
			if err != nil {
				return StopDecision{}, fmt.Errorf("stop condition %d: %w", i, err)
			}
			if ok {
				return StopDecision{
					ShouldStop: true,
					Kind:       StopCELExpression,
					Reason:     fmt.Sprintf("expression %q satisfied", cond.Expression),
				}, nil
			}
		}
	}
	return StopDecision{}, nil
}

func hasExecutableCall(in StopEvalInput, toolName string) bool {
	doneName := ""
	if in.Policy.DoneTool != nil {
		doneName = in.Policy.DoneTool.Name
	}
	for _, call := range in.CurrentStep.ToolCalls {
		if call.Function.Name != toolName {
			continue
		}
		if toolName == doneName || in.ExecutableByToolName[toolName] {
			return true
		}
	}
	return false
}

// stepToMap exposes a step record to CEL as plain maps.
func stepToMap(s StepRecord) map[string]interface{} {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func stepsToMaps(steps []StepRecord) []interface{} {
	out := make([]interface{}, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepToMap(s))
	}
	return out
}

// CumulativeUsage sums usage across all recorded steps, the common operand
// of budget-shaped stop expressions.
func CumulativeUsage(steps []StepRecord) Usage {
	var total Usage
	for _, s := range steps {
		total.Add(s.Usage)
	}
	return total
}
