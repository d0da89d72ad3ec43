package loop

import (
	"testing"
)

func testEvaluator(t *testing.T) *CELEvaluator {
	t.Helper()
	eval, err := NewCELEvaluator()
	if err != nil {
		t.Fatalf("NewCELEvaluator failed: %v", err)
	}
	return eval
}

func rulePolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := NormalizePolicy(&Policy{
		PrepareStep: PrepareStep{
			ModelSpec:  "openai/gpt-4o-mini",
			ToolChoice: ToolChoiceAuto,
			Rules: []StepRule{
				{FromStep: 1, ModelSpec: "openai/gpt-4o", ActiveTools: []string{"search"}},
				{FromStep: 3, When: "state.stepCount >= 1", ModelSpec: "anthropic/claude-sonnet", ToolChoice: ToolChoiceRequired},
			},
		},
	})
	if err != nil {
		t.Fatalf("NormalizePolicy failed: %v", err)
	}
	return p
}

func bindingsWithStepCount(n int) Bindings {
	return Bindings{
		Workflow: map[string]interface{}{},
		State:    map[string]interface{}{"stepCount": n},
		Input:    map[string]interface{}{},
	}
}

func TestPrepareStepFirstRuleApplies(t *testing.T) {
	p := rulePolicy(t)
	eval := testEvaluator(t)

	plan, err := PrepareStepDecision(p, 1, bindingsWithStepCount(0), eval)
	if err != nil {
		t.Fatalf("PrepareStepDecision failed: %v", err)
	}
	if plan.ModelSpec != "openai/gpt-4o" {
		t.Fatalf("expected first rule's model at step 1, got %q", plan.ModelSpec)
	}
	if len(plan.ActiveTools) != 1 || plan.ActiveTools[0] != "search" {
		t.Fatalf("expected first rule's tools, got %v", plan.ActiveTools)
	}
	// Unset rule fields fall through to the defaults.
	if plan.ToolChoice != ToolChoiceAuto {
		t.Fatalf("expected default tool choice, got %q", plan.ToolChoice)
	}
}

func TestPrepareStepLaterRuleWinsWhenGuardHolds(t *testing.T) {
	p := rulePolicy(t)
	eval := testEvaluator(t)

	plan, err := PrepareStepDecision(p, 3, bindingsWithStepCount(1), eval)
	if err != nil {
		t.Fatalf("PrepareStepDecision failed: %v", err)
	}
	if plan.ModelSpec != "anthropic/claude-sonnet" {
		t.Fatalf("expected second rule's model, got %q", plan.ModelSpec)
	}
	if plan.ToolChoice != ToolChoiceRequired {
		t.Fatalf("expected second rule's tool choice, got %q", plan.ToolChoice)
	}
	// ActiveTools is unset on the second rule; the earlier matching rule
	// does not bleed through, only the top-level defaults do.
	if len(plan.ActiveTools) != 0 {
		t.Fatalf("expected default (empty) active tools, got %v", plan.ActiveTools)
	}
}

func TestPrepareStepGuardFalseFallsBack(t *testing.T) {
	p := rulePolicy(t)
	eval := testEvaluator(t)

	plan, err := PrepareStepDecision(p, 3, bindingsWithStepCount(0), eval)
	if err != nil {
		t.Fatalf("PrepareStepDecision failed: %v", err)
	}
	// The guarded rule is skipped; the first rule still applies at step 3.
	if plan.ModelSpec != "openai/gpt-4o" {
		t.Fatalf("expected first rule's model when the guard is false, got %q", plan.ModelSpec)
	}
}

func TestPrepareStepNoRulesUsesDefaults(t *testing.T) {
	p, err := NormalizePolicy(&Policy{})
	if err != nil {
		t.Fatalf("NormalizePolicy failed: %v", err)
	}
	eval := testEvaluator(t)

	plan, err := PrepareStepDecision(p, 1, bindingsWithStepCount(0), eval)
	if err != nil {
		t.Fatalf("PrepareStepDecision failed: %v", err)
	}
	if plan.ModelSpec != DefaultModelSpec {
		t.Fatalf("expected default model spec, got %q", plan.ModelSpec)
	}
	if plan.ToolChoice != ToolChoiceAuto {
		t.Fatalf("expected auto tool choice, got %q", plan.ToolChoice)
	}
}

func TestNormalizePolicySynthesizesDoneToolStop(t *testing.T) {
	p, err := NormalizePolicy(&Policy{
		DoneTool: &DoneTool{Name: "finish"},
	})
	if err != nil {
		t.Fatalf("NormalizePolicy failed: %v", err)
	}

	foundStop := false
	for _, c := range p.StopWhen {
		if c.Kind == StopHasToolCall && c.ToolName == "finish" {
			foundStop = true
		}
	}
	if !foundStop {
		t.Fatal("expected synthesized hasToolCall stop condition for the done tool")
	}
	if !contains(p.PrepareStep.DeclarationOnlyTools, "finish") {
		t.Fatal("expected done tool added to declaration-only tools")
	}
	if p.DoneTool.InputSchema == nil {
		t.Fatal("expected default input schema for the done tool")
	}
}

func TestNormalizePolicyRejectsInvalidConditions(t *testing.T) {
	if _, err := NormalizePolicy(&Policy{
		StopWhen: []StopCondition{{Kind: StopHasToolCall}},
	}); err == nil {
		t.Fatal("expected error for hasToolCall without tool_name")
	}
	if _, err := NormalizePolicy(&Policy{
		StopWhen: []StopCondition{{Kind: "astrology"}},
	}); err == nil {
		t.Fatal("expected error for unknown stop kind")
	}
}
