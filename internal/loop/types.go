// Package loop implements the tool-calling loop policy: per-step model and
// tool-choice decisions and stop-condition evaluation. Everything here is
// pure computation over the step number and runtime bindings, so the
// decisions replay deterministically inside a workflow.
package loop

import (
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

// ToolChoice controls how the model may select tools on a step.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// DoneTool declares an explicit termination tool. It is surfaced to the
// model like any other tool but never executed; a call to it ends the loop.
type DoneTool struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"input_schema" yaml:"input_schema"`
}

// StepRule overrides the step defaults from a given step number onward,
// optionally gated by a CEL expression over the runtime bindings.
type StepRule struct {
	FromStep             int        `json:"from_step" yaml:"from_step"`
	When                 string     `json:"when,omitempty" yaml:"when,omitempty"`
	ModelSpec            string     `json:"model_spec,omitempty" yaml:"model_spec,omitempty"`
	ToolChoice           ToolChoice `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	ActiveTools          []string   `json:"active_tools,omitempty" yaml:"active_tools,omitempty"`
	DeclarationOnlyTools []string   `json:"declaration_only_tools,omitempty" yaml:"declaration_only_tools,omitempty"`
}

// PrepareStep holds the per-step defaults plus the ordered override rules.
// Rule order is caller-declared and preserved: the last applicable rule wins.
type PrepareStep struct {
	ModelSpec            string     `json:"model_spec" yaml:"model_spec"`
	ToolChoice           ToolChoice `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	ActiveTools          []string   `json:"active_tools,omitempty" yaml:"active_tools,omitempty"`
	DeclarationOnlyTools []string   `json:"declaration_only_tools,omitempty" yaml:"declaration_only_tools,omitempty"`
	Rules                []StepRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// StopKind identifies a stop-condition evaluator.
type StopKind string

const (
	StopHasToolCall   StopKind = "hasToolCall"
	StopCELExpression StopKind = "celExpression"
)

// StopCondition is one entry in the ordered stopWhen list.
type StopCondition struct {
	Kind       StopKind `json:"kind" yaml:"kind"`
	ToolName   string   `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Policy is the normalized loop execution policy.
type Policy struct {
	DoneTool    *DoneTool       `json:"done_tool,omitempty" yaml:"done_tool,omitempty"`
	PrepareStep PrepareStep     `json:"prepare_step" yaml:"prepare_step"`
	StopWhen    []StopCondition `json:"stop_when,omitempty" yaml:"stop_when,omitempty"`
}

// Usage counts tokens consumed by one generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// StepRecord captures one executed loop step for stop-condition evaluation.
type StepRecord struct {
	StepNumber    int              `json:"step_number"`
	AssistantText string           `json:"assistant_text"`
	ToolCalls     []state.ToolCall `json:"tool_calls"`
	Usage         Usage            `json:"usage"`
}

// StepPlan is the resolved decision for one upcoming step.
type StepPlan struct {
	ModelSpec            string     `json:"model_spec"`
	ToolChoice           ToolChoice `json:"tool_choice"`
	ActiveTools          []string   `json:"active_tools"`
	DeclarationOnlyTools []string   `json:"declaration_only_tools"`
}

// StopDecision is the outcome of evaluating the stopWhen list for one step.
type StopDecision struct {
	ShouldStop bool     `json:"should_stop"`
	Kind       StopKind `json:"kind,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Bindings are the runtime values exposed to CEL expressions.
type Bindings struct {
	Workflow map[string]interface{}
	State    map[string]interface{}
	Input    map[string]interface{}
}
