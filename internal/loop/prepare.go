package loop

import (
	"fmt"
)

// PrepareStepDecision resolves the model, tool choice, and tool allow-lists
// for the given step number. It scans the declared rules in order and keeps
// the last one whose FromStep threshold applies and whose optional CEL guard
// holds; when no rule applies the top-level defaults win.
//
// This is a pure function: the evaluator runs over the supplied bindings
// only, so the decision replays deterministically.
func PrepareStepDecision(p *Policy, stepNumber int, bindings Bindings, eval Evaluator) (StepPlan, error) {
	plan := StepPlan{
		ModelSpec:            p.PrepareStep.ModelSpec,
		ToolChoice:           p.PrepareStep.ToolChoice,
		ActiveTools:          p.PrepareStep.ActiveTools,
		DeclarationOnlyTools: p.PrepareStep.DeclarationOnlyTools,
	}

	activation := map[string]interface{}{
		"workflow": bindings.Workflow,
		"state":    bindings.State,
		"input":    bindings.Input,
	}

	var matched *StepRule
	for i := range p.PrepareStep.Rules {
		r := &p.PrepareStep.Rules[i]
		if r.FromStep > stepNumber {
			continue
		}
		if r.When != "" {
			ok, err := eval.EvalBool(r.When, activation)
			if err != nil {
				return StepPlan{}, fmt.Errorf("rule %d guard: %w", i, err)
			}
			if !ok {
				continue
			}
		}
		matched = r
	}

	if matched != nil {
		if matched.ModelSpec != "" {
			plan.ModelSpec = matched.ModelSpec
		}
		if matched.ToolChoice != "" {
			plan.ToolChoice = matched.ToolChoice
		}
		if matched.ActiveTools != nil {
			plan.ActiveTools = matched.ActiveTools
		}
		if matched.DeclarationOnlyTools != nil {
			plan.DeclarationOnlyTools = matched.DeclarationOnlyTools
		}
	}

	// The done tool stays visible to the model regardless of rule overrides.
	if p.DoneTool != nil && !contains(plan.DeclarationOnlyTools, p.DoneTool.Name) {
		plan.DeclarationOnlyTools = append(plan.DeclarationOnlyTools, p.DoneTool.Name)
	}

	return plan, nil
}
