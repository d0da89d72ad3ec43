package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/policy"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/tools"
)

// ToolActivities executes model-requested tool calls.
type ToolActivities struct {
	registry *tools.Registry
	gate     *policy.Engine
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewToolActivities creates tool activities. gate may be nil when the tool
// policy is disabled; limiter may be nil to run unthrottled.
func NewToolActivities(registry *tools.Registry, gate *policy.Engine, limiter *rate.Limiter, logger *zap.Logger) *ToolActivities {
	return &ToolActivities{registry: registry, gate: gate, limiter: limiter, logger: logger}
}

// RunTool executes one tool call and always returns a tool-role message.
// Unknown tools, denied calls, bad arguments, and tool failures are normal
// recoverable outcomes shaped as {"error": ...} content the model can react
// to on the next step; only infrastructure faults fail the activity.
func (a *ToolActivities) RunTool(ctx context.Context, in RunToolInput) (*RunToolResult, error) {
	name := in.ToolCall.Function.Name
	start := time.Now()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tool dispatch rate limit: %w", err)
		}
	}

	args, argsErr := parseToolArguments(in.ToolCall.Function.Arguments)

	if a.gate != nil && argsErr == nil {
		decision, err := a.gate.Evaluate(ctx, &policy.Input{
			AgentID:   in.AgentID,
			SessionID: in.SessionID,
			ToolName:  name,
			Arguments: args,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("tool policy evaluation: %w", err)
		}
		if !decision.Allow {
			a.logger.Warn("Tool call denied by policy",
				zap.String("tool", name),
				zap.String("reason", decision.Reason),
			)
			return a.errorResult(in, start, fmt.Sprintf("Tool call denied by policy: %s", decision.Reason)), nil
		}
	}

	tool, ok := a.registry.Get(name)
	if !ok {
		return a.errorResult(in, start, fmt.Sprintf("Unknown tool: %s", name)), nil
	}
	if argsErr != nil {
		return a.errorResult(in, start, fmt.Sprintf("Invalid tool arguments: %s", argsErr)), nil
	}

	result, execErr := executeSafely(ctx, tool, args)
	if execErr != nil {
		a.logger.Warn("Tool execution failed",
			zap.String("tool", name),
			zap.String("tool_call_id", in.ToolCall.ID),
			zap.Error(execErr),
		)
		return a.errorResult(in, start, execErr.Error()), nil
	}

	content, err := json.Marshal(result)
	if err != nil {
		return a.errorResult(in, start, fmt.Sprintf("Tool result not serializable: %s", err)), nil
	}

	metrics.ToolExecutions.WithLabelValues(name, "ok").Inc()
	metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	return a.buildResult(in, start, string(content), true, ""), nil
}

// executeSafely invokes the tool, converting a panic into an error so a
// misbehaving tool cannot take the worker down.
func executeSafely(ctx context.Context, tool tools.Tool, args map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func parseToolArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

func (a *ToolActivities) errorResult(in RunToolInput, start time.Time, msg string) *RunToolResult {
	name := in.ToolCall.Function.Name
	metrics.ToolExecutions.WithLabelValues(name, "error").Inc()
	metrics.ToolExecutionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	content, _ := json.Marshal(map[string]string{"error": msg})
	res := a.buildResult(in, start, string(content), false, msg)
	return res
}

func (a *ToolActivities) buildResult(in RunToolInput, start time.Time, content string, success bool, errMsg string) *RunToolResult {
	now := time.Now().UTC()
	return &RunToolResult{
		Message: state.Message{
			ID:         uuid.New().String(),
			Role:       state.RoleTool,
			Content:    &content,
			Name:       in.ToolCall.Function.Name,
			ToolCallID: in.ToolCall.ID,
			Timestamp:  now,
		},
		Record: state.ToolExecutionRecord{
			ToolCallID: in.ToolCall.ID,
			ToolName:   in.ToolCall.Function.Name,
			Arguments:  in.ToolCall.Function.Arguments,
			Output:     content,
			Success:    success,
			Error:      errMsg,
			DurationMs: time.Since(start).Milliseconds(),
			Timestamp:  now,
		},
	}
}
