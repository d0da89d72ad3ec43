// Package workflows contains the durable orchestration functions. Workflow
// code never performs I/O directly: every side effect goes through an
// activity, and every in-workflow decision is a pure function of the inputs
// and recorded activity results, so histories replay deterministically.
package workflows

import (
	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

// Activity names as registered on the worker (struct-method activities are
// registered under their method names).
const (
	ActivityRecordInitialEntry = "RecordInitialEntry"
	ActivityGenerateStep       = "GenerateStep"
	ActivityRunTool            = "RunTool"
	ActivitySaveToolResults    = "SaveToolResults"
	ActivityFinalizeWorkflow   = "FinalizeWorkflow"
)

// AgentLoopInput parameterizes one agent loop run.
type AgentLoopInput struct {
	// InstanceID defaults to the workflow id when empty.
	InstanceID string `json:"instance_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Source     string `json:"source,omitempty"`

	// Input is the user task driving the loop.
	Input string `json:"input"`

	// Policy is the raw loop policy; it is normalized on entry.
	Policy *loop.Policy `json:"policy,omitempty"`

	// ExecutableTools is the hosting process's registered tool set, captured
	// at dispatch time so stop evaluation replays deterministically.
	ExecutableTools map[string]bool `json:"executable_tools,omitempty"`

	// MaxIterations bounds the loop regardless of stop conditions.
	MaxIterations int `json:"max_iterations,omitempty"`

	TraceContext string `json:"trace_context,omitempty"`
}

// AgentLoopResult is the terminal outcome of one run.
type AgentLoopResult struct {
	InstanceID string       `json:"instance_id"`
	Status     state.Status `json:"status"`
	Output     string       `json:"output,omitempty"`
	Steps      int          `json:"steps"`
	StopReason string       `json:"stop_reason,omitempty"`
	Usage      loop.Usage   `json:"usage"`
}
