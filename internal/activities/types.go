// Package activities implements the durable execution engine's activity
// surface. Every activity body is idempotent or side-effect-deduplicated:
// the hosting substrate re-executes activities on transient failures, so a
// second run of any activity must converge on the same durable state.
package activities

import (
	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

// RecordInitialEntryInput identifies a new workflow instance.
type RecordInitialEntryInput struct {
	InstanceID   string `json:"instance_id"`
	InputValue   string `json:"input_value"`
	SessionID    string `json:"session_id,omitempty"`
	Source       string `json:"source,omitempty"`
	TraceContext string `json:"trace_context,omitempty"`
}

// RecordInitialEntryResult echoes the created (or pre-existing) entry.
type RecordInitialEntryResult struct {
	Entry   *state.Entry `json:"entry"`
	Created bool         `json:"created"`
}

// GenerateStepInput is one model turn for an instance.
type GenerateStepInput struct {
	InstanceID string          `json:"instance_id"`
	SessionID  string          `json:"session_id,omitempty"`
	StepNumber int             `json:"step_number"`
	Plan       loop.StepPlan   `json:"plan"`
	DoneTool   *loop.DoneTool  `json:"done_tool,omitempty"`
	Messages   []state.Message `json:"messages"`
}

// GenerateStepResult carries the model's output plus the assistant message
// already shaped for persistence.
type GenerateStepResult struct {
	AssistantMessage state.Message    `json:"assistant_message"`
	Text             string           `json:"text"`
	ToolCalls        []state.ToolCall `json:"tool_calls,omitempty"`
	Usage            loop.Usage       `json:"usage"`
}

// RunToolInput is one tool invocation requested by the model.
type RunToolInput struct {
	InstanceID string         `json:"instance_id"`
	SessionID  string         `json:"session_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	StepNumber int            `json:"step_number"`
	ToolCall   state.ToolCall `json:"tool_call"`
}

// RunToolResult pairs the tool-role message with its raw audit record.
type RunToolResult struct {
	Message state.Message             `json:"message"`
	Record  state.ToolExecutionRecord `json:"record"`
}

// SaveToolResultsInput is the joined outcome of one loop step: the
// assistant turn plus every tool result it fanned out to.
type SaveToolResultsInput struct {
	InstanceID       string          `json:"instance_id"`
	SessionID        string          `json:"session_id,omitempty"`
	AssistantMessage *state.Message  `json:"assistant_message,omitempty"`
	Results          []RunToolResult `json:"results"`
}

// SaveToolResultsResult reports how the batch was absorbed.
type SaveToolResultsResult struct {
	Appended int `json:"appended"`
	Skipped  int `json:"skipped"`
}

// FinalizeWorkflowInput sets the terminal status for an instance. StopKind
// names what ended the loop (a stop-condition kind, "no_tool_calls", or
// "max_iterations") and feeds the termination metric.
type FinalizeWorkflowInput struct {
	InstanceID  string `json:"instance_id"`
	FinalOutput string `json:"final_output"`
	StopKind    string `json:"stop_kind,omitempty"`
}

// FinalizeWorkflowResult echoes the terminal status reached.
type FinalizeWorkflowResult struct {
	Status state.Status `json:"status"`
}
