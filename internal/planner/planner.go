// Package planner generates structured execution plans and refuses to hand
// back anything that does not validate against the plan schema. A plan that
// never validates cannot be executed safely, so exhausting the retry budget
// is a fatal, caller-visible failure.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/llm"
	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

const (
	defaultAttempts = 3
	baseBackoff     = 500 * time.Millisecond
)

// ValidationExhaustedError reports that every generation attempt produced a
// plan the schema rejected.
type ValidationExhaustedError struct {
	Attempts   int
	Strategy   string
	LastIssues []string
}

func (e *ValidationExhaustedError) Error() string {
	return fmt.Sprintf("plan validation exhausted after %d attempts (strategy %s): %s",
		e.Attempts, e.Strategy, strings.Join(e.LastIssues, "; "))
}

// Input describes one plan request.
type Input struct {
	ExecutionID string
	Strategy    string
	ModelSpec   string
	Task        string
}

// Planner drives plan generation with bounded validation retry.
type Planner struct {
	generator llm.Generator
	schema    *jsonschema.Schema
	logger    *zap.Logger
	attempts  int
}

// New compiles the plan schema once up front. A schema that does not
// compile is a programming error surfaced immediately.
func New(generator llm.Generator, schemaBytes []byte, logger *zap.Logger) (*Planner, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("plan-schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	schema, err := c.Compile("plan-schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &Planner{
		generator: generator,
		schema:    schema,
		logger:    logger,
		attempts:  defaultAttempts,
	}, nil
}

// GeneratePlan asks the model for a plan and validates it, feeding prior
// validation issues back into each retry so the model can correct itself.
// Backoff between attempts is exponential from a fixed base.
func (p *Planner) GeneratePlan(ctx context.Context, in Input) (map[string]interface{}, error) {
	if in.ModelSpec == "" {
		in.ModelSpec = loop.DefaultModelSpec
	}

	var lastIssues []string
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			backoff := baseBackoff * (1 << (attempt - 2))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := p.generator.GenerateStep(ctx, llm.StepRequest{
			ModelSpec:  in.ModelSpec,
			Messages:   p.buildMessages(in, lastIssues),
			ToolChoice: loop.ToolChoiceNone,
		})
		if err != nil {
			return nil, fmt.Errorf("plan generation attempt %d: %w", attempt, err)
		}

		plan, issues := p.validate(out.Text)
		if len(issues) == 0 {
			p.logger.Info("Generated valid plan",
				zap.String("execution_id", in.ExecutionID),
				zap.String("strategy", in.Strategy),
				zap.Int("attempt", attempt),
			)
			return plan, nil
		}

		lastIssues = issues
		p.logger.Warn("Plan failed validation",
			zap.String("execution_id", in.ExecutionID),
			zap.Int("attempt", attempt),
			zap.Strings("issues", issues),
		)
	}

	return nil, &ValidationExhaustedError{
		Attempts:   p.attempts,
		Strategy:   in.Strategy,
		LastIssues: lastIssues,
	}
}

func (p *Planner) buildMessages(in Input, priorIssues []string) []state.Message {
	system := "You are a planning assistant. Respond with a single JSON object describing the task graph. Emit JSON only, no prose."
	task := in.Task

	msgs := []state.Message{
		{Role: state.RoleSystem, Content: &system},
		{Role: state.RoleUser, Content: &task},
	}
	if len(priorIssues) > 0 {
		correction := "The previous plan failed schema validation. Fix these issues and respond with corrected JSON only:\n- " +
			strings.Join(priorIssues, "\n- ")
		msgs = append(msgs, state.Message{Role: state.RoleUser, Content: &correction})
	}
	return msgs
}

// validate parses and schema-checks one model response, returning the plan
// on success or the flattened validation issues on failure.
func (p *Planner) validate(text string) (map[string]interface{}, []string) {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil {
		return nil, []string{fmt.Sprintf("response is not valid JSON: %s", err)}
	}

	if err := p.schema.Validate(doc); err != nil {
		return nil, flattenIssues(err)
	}

	plan, ok := doc.(map[string]interface{})
	if !ok {
		return nil, []string{"plan must be a JSON object"}
	}
	return plan, nil
}

// flattenIssues splits a validation error into its reported problems so the
// retry prompt lists concrete issues instead of one opaque blob.
func flattenIssues(err error) []string {
	var issues []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			issues = append(issues, line)
		}
	}
	if len(issues) == 0 {
		issues = []string{err.Error()}
	}
	return issues
}
