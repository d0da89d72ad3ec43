package state

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a workflow instance entry.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ToolCallFunction is the function portion of a model-requested tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON as emitted by the model
}

// ToolCall is one tool invocation requested by an assistant message.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // always "function" today
	Function ToolCallFunction `json:"function"`
}

// Message is one turn in an instance's conversation history.
// Messages are immutable once appended.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    *string    `json:"content"` // nullable: assistant tool-call turns may carry no text
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool-result messages only
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolExecutionRecord is the raw audit form of one tool invocation outcome.
type ToolExecutionRecord struct {
	ToolCallID string    `json:"tool_call_id"`
	ToolName   string    `json:"tool_name"`
	Arguments  string    `json:"arguments"`
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Entry is the durable record of one workflow instance.
// Entries are created and mutated only by activities; the workflow itself
// never touches them directly, which keeps replay deterministic.
type Entry struct {
	WorkflowInstanceID string                `json:"workflow_instance_id"`
	SessionID          string                `json:"session_id,omitempty"`
	Source             string                `json:"source,omitempty"`
	TraceContext       string                `json:"trace_context,omitempty"` // W3C traceparent captured at entry creation
	InputValue         string                `json:"input_value"`
	Output             *string               `json:"output"` // nil until finalized
	StartTime          time.Time             `json:"start_time"`
	EndTime            *time.Time            `json:"end_time"`
	Messages           []Message             `json:"messages"`
	ToolHistory        []ToolExecutionRecord `json:"tool_history"`
	Status             Status                `json:"status"`
}

// HasMessageForToolCall reports whether a tool-result message for the given
// tool call id has already been appended. Used to deduplicate replayed
// activity executions.
func (e *Entry) HasMessageForToolCall(toolCallID string) bool {
	for i := range e.Messages {
		if e.Messages[i].Role == RoleTool && e.Messages[i].ToolCallID == toolCallID {
			return true
		}
	}
	return false
}

// State is the top-level durable object: all instance entries owned by one
// agent process, keyed by workflow instance id. Loaded and saved wholesale
// per activity invocation.
type State struct {
	Instances map[string]*Entry `json:"instances"`
}

// NewState returns an empty state blob.
func NewState() *State {
	return &State{Instances: make(map[string]*Entry)}
}
