package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/threadline-ai/threadline/go/engine/internal/activities"
	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
)

const defaultMaxIterations = 10

// AgentLoopWorkflow runs the tool-calling loop for one instance: record the
// entry, then per step resolve the policy decision, generate, fan out the
// requested tool calls, join and persist the results, and evaluate stop
// conditions. Activities own all I/O; the loop decisions here are pure.
func AgentLoopWorkflow(ctx workflow.Context, input AgentLoopInput) (AgentLoopResult, error) {
	logger := workflow.GetLogger(ctx)

	instanceID := input.InstanceID
	if instanceID == "" {
		instanceID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	maxIterations := input.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	policy, err := loop.NormalizePolicy(input.Policy)
	if err != nil {
		return AgentLoopResult{}, fmt.Errorf("invalid loop policy: %w", err)
	}
	evaluator, err := loop.NewCELEvaluator()
	if err != nil {
		return AgentLoopResult{}, fmt.Errorf("build expression evaluator: %w", err)
	}

	logger.Info("Starting agent loop",
		"instance_id", instanceID,
		"session_id", input.SessionID,
		"max_iterations", maxIterations,
	)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var recorded activities.RecordInitialEntryResult
	err = workflow.ExecuteActivity(ctx, ActivityRecordInitialEntry, activities.RecordInitialEntryInput{
		InstanceID:   instanceID,
		InputValue:   input.Input,
		SessionID:    input.SessionID,
		Source:       input.Source,
		TraceContext: input.TraceContext,
	}).Get(ctx, &recorded)
	if err != nil {
		return AgentLoopResult{}, fmt.Errorf("record initial entry: %w", err)
	}

	userText := input.Input
	conversation := []state.Message{{
		ID:      instanceID + "-user",
		Role:    state.RoleUser,
		Content: &userText,
	}}

	var (
		steps      []loop.StepRecord
		usage      loop.Usage
		stopReason string
		stopKind   string
		lastText   string
		doneOutput string
	)

	doneName := ""
	if policy.DoneTool != nil {
		doneName = policy.DoneTool.Name
	}

	for step := 1; step <= maxIterations; step++ {
		bindings := loop.Bindings{
			Workflow: map[string]interface{}{
				"id":          workflow.GetInfo(ctx).WorkflowExecution.ID,
				"instance_id": instanceID,
			},
			State: map[string]interface{}{
				"stepCount":   len(steps),
				"totalTokens": usage.TotalTokens,
			},
			Input: map[string]interface{}{
				"value": input.Input,
			},
		}

		plan, err := loop.PrepareStepDecision(policy, step, bindings, evaluator)
		if err != nil {
			return AgentLoopResult{}, fmt.Errorf("prepare step %d: %w", step, err)
		}

		var generated activities.GenerateStepResult
		err = workflow.ExecuteActivity(ctx, ActivityGenerateStep, activities.GenerateStepInput{
			InstanceID: instanceID,
			SessionID:  input.SessionID,
			StepNumber: step,
			Plan:       plan,
			DoneTool:   policy.DoneTool,
			Messages:   conversation,
		}).Get(ctx, &generated)
		if err != nil {
			return AgentLoopResult{}, fmt.Errorf("generate step %d: %w", step, err)
		}

		conversation = append(conversation, generated.AssistantMessage)
		if generated.Text != "" {
			lastText = generated.Text
		}

		// Fan out the executable tool calls; the done tool is declaration
		// only and never dispatched.
		var futures []workflow.Future
		var dispatched []state.ToolCall
		for _, call := range generated.ToolCalls {
			if call.Function.Name == doneName {
				doneOutput = call.Function.Arguments
				continue
			}
			futures = append(futures, workflow.ExecuteActivity(ctx, ActivityRunTool, activities.RunToolInput{
				InstanceID: instanceID,
				SessionID:  input.SessionID,
				AgentID:    input.AgentID,
				StepNumber: step,
				ToolCall:   call,
			}))
			dispatched = append(dispatched, call)
		}

		results := make([]activities.RunToolResult, 0, len(futures))
		for i, f := range futures {
			var res activities.RunToolResult
			if err := f.Get(ctx, &res); err != nil {
				return AgentLoopResult{}, fmt.Errorf("run tool %s: %w", dispatched[i].Function.Name, err)
			}
			results = append(results, res)
		}

		if _, err := saveStep(ctx, instanceID, input.SessionID, generated.AssistantMessage, results); err != nil {
			return AgentLoopResult{}, fmt.Errorf("save step %d results: %w", step, err)
		}
		for _, res := range results {
			conversation = append(conversation, res.Message)
		}

		record := loop.StepRecord{
			StepNumber:    step,
			AssistantText: generated.Text,
			ToolCalls:     generated.ToolCalls,
			Usage:         generated.Usage,
		}
		steps = append(steps, record)
		usage = loop.CumulativeUsage(steps)

		stop, err := loop.EvaluateStopConditions(loop.StopEvalInput{
			Policy:               policy,
			CurrentStep:          record,
			AllSteps:             steps,
			ExecutableByToolName: input.ExecutableTools,
			Bindings: loop.Bindings{
				Workflow: bindings.Workflow,
				State: map[string]interface{}{
					"stepCount":   len(steps),
					"totalTokens": usage.TotalTokens,
				},
				Input: bindings.Input,
			},
		}, evaluator)
		if err != nil {
			return AgentLoopResult{}, fmt.Errorf("evaluate stop conditions: %w", err)
		}
		if stop.ShouldStop {
			stopReason = stop.Reason
			stopKind = string(stop.Kind)
			break
		}

		if len(generated.ToolCalls) == 0 {
			// Nothing left to act on; the text answer stands.
			stopReason = "no tool calls requested"
			stopKind = "no_tool_calls"
			break
		}
	}

	if stopReason == "" {
		stopReason = fmt.Sprintf("max iterations (%d) reached", maxIterations)
		stopKind = "max_iterations"
	}

	finalOutput := doneOutput
	if finalOutput == "" {
		finalOutput = lastText
	}

	var finalized activities.FinalizeWorkflowResult
	err = workflow.ExecuteActivity(ctx, ActivityFinalizeWorkflow, activities.FinalizeWorkflowInput{
		InstanceID:  instanceID,
		FinalOutput: finalOutput,
		StopKind:    stopKind,
	}).Get(ctx, &finalized)
	if err != nil {
		return AgentLoopResult{}, fmt.Errorf("finalize workflow: %w", err)
	}

	logger.Info("Agent loop finished",
		"instance_id", instanceID,
		"status", string(finalized.Status),
		"steps", len(steps),
		"stop_reason", stopReason,
	)

	return AgentLoopResult{
		InstanceID: instanceID,
		Status:     finalized.Status,
		Output:     finalOutput,
		Steps:      len(steps),
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func saveStep(ctx workflow.Context, instanceID, sessionID string, assistant state.Message, results []activities.RunToolResult) (activities.SaveToolResultsResult, error) {
	var saved activities.SaveToolResultsResult
	err := workflow.ExecuteActivity(ctx, ActivitySaveToolResults, activities.SaveToolResultsInput{
		InstanceID:       instanceID,
		SessionID:        sessionID,
		AssistantMessage: &assistant,
		Results:          results,
	}).Get(ctx, &saved)
	return saved, err
}
