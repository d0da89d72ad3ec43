package planner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/llm"
)

const testSchema = `{
	"type": "object",
	"required": ["tasks"],
	"properties": {
		"tasks": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "description"],
				"properties": {
					"id": {"type": "string"},
					"description": {"type": "string"},
					"depends_on": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}
}`

// scriptedGenerator returns canned responses in order and records the
// requests it saw.
type scriptedGenerator struct {
	responses []string
	requests  []llm.StepRequest
}

func (g *scriptedGenerator) GenerateStep(_ context.Context, req llm.StepRequest) (*llm.StepResult, error) {
	g.requests = append(g.requests, req)
	if len(g.requests) > len(g.responses) {
		return nil, errors.New("no more scripted responses")
	}
	return &llm.StepResult{Text: g.responses[len(g.requests)-1]}, nil
}

func newPlanner(t *testing.T, gen llm.Generator) *Planner {
	t.Helper()
	p, err := New(gen, []byte(testSchema), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestGeneratePlanFirstAttemptValid(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"tasks":[{"id":"t1","description":"gather sources"}]}`,
	}}
	p := newPlanner(t, gen)

	plan, err := p.GeneratePlan(context.Background(), Input{
		ExecutionID: "exec-1",
		Strategy:    "task_graph",
		Task:        "research the topic",
	})
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	tasks, ok := plan["tasks"].([]interface{})
	if !ok || len(tasks) != 1 {
		t.Fatalf("unexpected plan shape: %v", plan)
	}
	if len(gen.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(gen.requests))
	}
}

func TestGeneratePlanFeedsIssuesIntoRetry(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"tasks":[]}`, // fails minItems
		`{"tasks":[{"id":"t1","description":"fixed"}]}`,
	}}
	p := newPlanner(t, gen)

	plan, err := p.GeneratePlan(context.Background(), Input{Strategy: "task_graph", Task: "plan it"})
	if err != nil {
		t.Fatalf("GeneratePlan failed: %v", err)
	}
	if plan == nil {
		t.Fatal("expected a plan from the second attempt")
	}
	if len(gen.requests) != 2 {
		t.Fatalf("expected two attempts, got %d", len(gen.requests))
	}

	// The retry prompt must carry the prior validation issues.
	retry := gen.requests[1]
	last := retry.Messages[len(retry.Messages)-1]
	if last.Content == nil || !strings.Contains(*last.Content, "failed schema validation") {
		t.Fatalf("expected correction message in retry, got %v", last.Content)
	}
}

func TestGeneratePlanExhaustion(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`not json at all`,
		`{"tasks":[]}`,
	}}
	p := newPlanner(t, gen)
	p.attempts = 2

	_, err := p.GeneratePlan(context.Background(), Input{Strategy: "task_graph", Task: "plan it"})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}

	var exhausted *ValidationExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ValidationExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 2 || exhausted.Strategy != "task_graph" {
		t.Fatalf("unexpected error detail: %+v", exhausted)
	}
	if len(exhausted.LastIssues) == 0 {
		t.Fatal("expected last validation issues carried in the error")
	}
}

func TestGeneratePlanGeneratorFailureIsNotRetried(t *testing.T) {
	gen := &scriptedGenerator{} // returns an error immediately
	p := newPlanner(t, gen)

	_, err := p.GeneratePlan(context.Background(), Input{Task: "plan it"})
	if err == nil {
		t.Fatal("expected generator error to propagate")
	}
	var exhausted *ValidationExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("generator failures must not be reported as validation exhaustion")
	}
}
