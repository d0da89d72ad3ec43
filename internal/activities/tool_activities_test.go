package activities

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/tools"
)

func newToolActivities(t *testing.T) (*ToolActivities, *tools.Registry) {
	t.Helper()
	registry := tools.NewRegistry()
	return NewToolActivities(registry, nil, nil, zap.NewNop()), registry
}

func toolCall(id, name, args string) state.ToolCall {
	return state.ToolCall{
		ID:   id,
		Type: "function",
		Function: state.ToolCallFunction{
			Name:      name,
			Arguments: args,
		},
	}
}

func decodeContent(t *testing.T, msg state.Message) map[string]interface{} {
	t.Helper()
	if msg.Content == nil {
		t.Fatal("expected non-nil message content")
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(*msg.Content), &parsed); err != nil {
		t.Fatalf("content is not valid JSON: %v", err)
	}
	return parsed
}

func TestRunToolSuccess(t *testing.T) {
	act, registry := newToolActivities(t)
	err := registry.Register(tools.Func{
		Def: tools.Definition{Name: "echo", Description: "echoes input"},
		Fn: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"echoed": args["text"]}, nil
		},
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := act.RunTool(context.Background(), RunToolInput{
		InstanceID: "inst-1",
		StepNumber: 1,
		ToolCall:   toolCall("call_1", "echo", `{"text":"hello"}`),
	})
	if err != nil {
		t.Fatalf("RunTool failed: %v", err)
	}
	if res.Message.Role != state.RoleTool {
		t.Fatalf("expected tool role, got %s", res.Message.Role)
	}
	if res.Message.ToolCallID != "call_1" {
		t.Fatalf("expected tool_call_id echoed, got %q", res.Message.ToolCallID)
	}
	parsed := decodeContent(t, res.Message)
	if parsed["echoed"] != "hello" {
		t.Fatalf("expected tool return value in content, got %v", parsed)
	}
	if !res.Record.Success {
		t.Fatal("expected success recorded")
	}
}

func TestRunToolUnknownToolNeverFails(t *testing.T) {
	act, _ := newToolActivities(t)

	res, err := act.RunTool(context.Background(), RunToolInput{
		InstanceID: "inst-1",
		ToolCall:   toolCall("call_2", "does_not_exist", "{}"),
	})
	if err != nil {
		t.Fatalf("unknown tool must not fail the activity: %v", err)
	}
	parsed := decodeContent(t, res.Message)
	errMsg, _ := parsed["error"].(string)
	if !strings.Contains(errMsg, "Unknown tool: does_not_exist") {
		t.Fatalf("expected unknown-tool error payload, got %v", parsed)
	}
	if res.Record.Success {
		t.Fatal("expected failure recorded")
	}
}

func TestRunToolExecutionErrorIsRecoverable(t *testing.T) {
	act, registry := newToolActivities(t)
	registry.Register(tools.Func{
		Def: tools.Definition{Name: "flaky"},
		Fn: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return nil, errors.New("upstream timed out")
		},
	})

	res, err := act.RunTool(context.Background(), RunToolInput{
		ToolCall: toolCall("call_3", "flaky", "{}"),
	})
	if err != nil {
		t.Fatalf("tool error must not fail the activity: %v", err)
	}
	parsed := decodeContent(t, res.Message)
	if errMsg, _ := parsed["error"].(string); !strings.Contains(errMsg, "upstream timed out") {
		t.Fatalf("expected tool error surfaced in payload, got %v", parsed)
	}
}

func TestRunToolPanicIsRecoverable(t *testing.T) {
	act, registry := newToolActivities(t)
	registry.Register(tools.Func{
		Def: tools.Definition{Name: "boom"},
		Fn: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			panic("nil map write")
		},
	})

	res, err := act.RunTool(context.Background(), RunToolInput{
		ToolCall: toolCall("call_4", "boom", "{}"),
	})
	if err != nil {
		t.Fatalf("tool panic must not fail the activity: %v", err)
	}
	parsed := decodeContent(t, res.Message)
	if errMsg, _ := parsed["error"].(string); !strings.Contains(errMsg, "nil map write") {
		t.Fatalf("expected panic message in payload, got %v", parsed)
	}
}

func TestRunToolInvalidArguments(t *testing.T) {
	act, registry := newToolActivities(t)
	registry.Register(tools.Func{
		Def: tools.Definition{Name: "echo"},
		Fn: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return args, nil
		},
	})

	res, err := act.RunTool(context.Background(), RunToolInput{
		ToolCall: toolCall("call_5", "echo", "{not json"),
	})
	if err != nil {
		t.Fatalf("bad arguments must not fail the activity: %v", err)
	}
	parsed := decodeContent(t, res.Message)
	if errMsg, _ := parsed["error"].(string); !strings.Contains(errMsg, "Invalid tool arguments") {
		t.Fatalf("expected invalid-arguments payload, got %v", parsed)
	}
}
