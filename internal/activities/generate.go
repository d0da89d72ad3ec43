package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/llm"
	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/tools"
)

// GenerationActivities calls the model collaborator.
type GenerationActivities struct {
	generator llm.Generator
	registry  *tools.Registry
	logger    *zap.Logger
}

// NewGenerationActivities creates generation activities.
func NewGenerationActivities(generator llm.Generator, registry *tools.Registry, logger *zap.Logger) *GenerationActivities {
	return &GenerationActivities{generator: generator, registry: registry, logger: logger}
}

// GenerateStep runs one model turn with the step plan's model routing and
// tool exposure. The done tool rides along as a declaration-only extra so
// the model can call it without it ever being executable.
func (a *GenerationActivities) GenerateStep(ctx context.Context, in GenerateStepInput) (*GenerateStepResult, error) {
	var extras []tools.Definition
	if in.DoneTool != nil && containsName(in.Plan.DeclarationOnlyTools, in.DoneTool.Name) {
		extras = append(extras, tools.Definition{
			Name:        in.DoneTool.Name,
			Description: in.DoneTool.Description,
			InputSchema: in.DoneTool.InputSchema,
		})
	}

	out, err := a.generator.GenerateStep(ctx, llm.StepRequest{
		ModelSpec:  in.Plan.ModelSpec,
		Messages:   in.Messages,
		Tools:      a.registry.Definitions(in.Plan.ActiveTools, extras),
		ToolChoice: in.Plan.ToolChoice,
	})
	if err != nil {
		return nil, fmt.Errorf("generate step %d: %w", in.StepNumber, err)
	}

	metrics.LoopSteps.Inc()
	a.logger.Debug("Generated loop step",
		zap.String("instance_id", in.InstanceID),
		zap.Int("step", in.StepNumber),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Int("tokens", out.Usage.TotalTokens),
	)

	msg := state.Message{
		ID:        uuid.New().String(),
		Role:      state.RoleAssistant,
		ToolCalls: out.ToolCalls,
		Timestamp: time.Now().UTC(),
	}
	if out.Text != "" {
		text := out.Text
		msg.Content = &text
	}

	return &GenerateStepResult{
		AssistantMessage: msg,
		Text:             out.Text,
		ToolCalls:        out.ToolCalls,
		Usage:            out.Usage,
	}, nil
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
