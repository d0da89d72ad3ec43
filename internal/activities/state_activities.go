package activities

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/memory"
	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/tracing"
)

// StateActivities owns the durable workflow state transitions.
type StateActivities struct {
	manager *state.Manager
	memory  *memory.Manager
	logger  *zap.Logger
}

// NewStateActivities creates state activities. memory may be nil when no
// short-term memory collaborator is configured.
func NewStateActivities(manager *state.Manager, mem *memory.Manager, logger *zap.Logger) *StateActivities {
	return &StateActivities{manager: manager, memory: mem, logger: logger}
}

// RecordInitialEntry creates the instance entry if absent. Always safe to
// replay: an existing entry is returned unchanged.
func (a *StateActivities) RecordInitialEntry(ctx context.Context, in RecordInitialEntryInput) (*RecordInitialEntryResult, error) {
	ctx = tracing.Extract(ctx, in.TraceContext)

	existing, _, err := a.manager.LoadState(ctx)
	if err != nil {
		return nil, err
	}
	_, alreadyPresent := existing.Instances[in.InstanceID]

	entry, err := a.manager.EnsureInstance(ctx, state.EnsureInstanceInput{
		InstanceID:   in.InstanceID,
		InputValue:   in.InputValue,
		SessionID:    in.SessionID,
		Source:       in.Source,
		TraceContext: in.TraceContext,
	})
	if err != nil {
		return nil, err
	}

	if !alreadyPresent {
		source := in.Source
		if source == "" {
			source = "unknown"
		}
		metrics.WorkflowsStarted.WithLabelValues(source).Inc()
		a.logger.Info("Recorded initial workflow entry",
			zap.String("instance_id", in.InstanceID),
			zap.String("session_id", in.SessionID),
			zap.String("trace_id", tracing.TraceID(ctx)),
		)
	}
	return &RecordInitialEntryResult{Entry: entry, Created: !alreadyPresent}, nil
}

// SaveToolResults absorbs one step's joined outcome into the instance entry.
// Tool messages are deduplicated by tool_call_id and the assistant message
// by its id, so a replayed execution appends nothing. Accepted messages are
// mirrored into short-term memory before the state save: a retry after a
// memory failure re-attempts both, and the dedupe keeps that convergent.
// Mirrored ids are tracked across CAS retries so a conflicting save does not
// duplicate entries in the memory window.
func (a *StateActivities) SaveToolResults(ctx context.Context, in SaveToolResultsInput) (*SaveToolResultsResult, error) {
	out := &SaveToolResultsResult{}
	mirrored := make(map[string]bool)

	_, err := a.manager.Update(ctx, func(st *state.State) (bool, error) {
		entry, ok := st.Instances[in.InstanceID]
		if !ok {
			return false, fmt.Errorf("unknown workflow instance %s", in.InstanceID)
		}

		out.Appended, out.Skipped = 0, 0
		var accepted []state.Message

		if in.AssistantMessage != nil {
			if hasMessageID(entry, in.AssistantMessage.ID) {
				out.Skipped++
			} else {
				entry.Messages = append(entry.Messages, *in.AssistantMessage)
				accepted = append(accepted, *in.AssistantMessage)
				out.Appended++
			}
		}

		for _, res := range in.Results {
			if entry.HasMessageForToolCall(res.Message.ToolCallID) {
				out.Skipped++
				continue
			}
			entry.Messages = append(entry.Messages, res.Message)
			entry.ToolHistory = append(entry.ToolHistory, res.Record)
			accepted = append(accepted, res.Message)
			out.Appended++
		}

		if out.Appended == 0 {
			return false, nil
		}

		if a.memory != nil {
			for _, msg := range accepted {
				if mirrored[msg.ID] {
					continue
				}
				if err := a.memory.Mirror(ctx, in.SessionID, msg); err != nil {
					return false, fmt.Errorf("mirror step messages: %w", err)
				}
				mirrored[msg.ID] = true
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if out.Skipped > 0 {
		a.logger.Debug("Skipped duplicate step messages",
			zap.String("instance_id", in.InstanceID),
			zap.Int("skipped", out.Skipped),
		)
	}
	return out, nil
}

// FinalizeWorkflow is the single terminal transition. Non-empty output
// means completed; absence of output is failure, not "unknown". An entry
// already finalized stays exactly as it is.
func (a *StateActivities) FinalizeWorkflow(ctx context.Context, in FinalizeWorkflowInput) (*FinalizeWorkflowResult, error) {
	out := &FinalizeWorkflowResult{}

	_, err := a.manager.Update(ctx, func(st *state.State) (bool, error) {
		entry, ok := st.Instances[in.InstanceID]
		if !ok {
			return false, fmt.Errorf("unknown workflow instance %s", in.InstanceID)
		}
		if entry.Status.Terminal() {
			out.Status = entry.Status
			return false, nil
		}

		now := time.Now().UTC()
		entry.EndTime = &now
		if in.FinalOutput != "" {
			output := in.FinalOutput
			entry.Output = &output
			entry.Status = state.StatusCompleted
		} else {
			entry.Status = state.StatusFailed
		}
		out.Status = entry.Status
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowsFinalized.WithLabelValues(string(out.Status)).Inc()
	if in.StopKind != "" {
		metrics.LoopStopReasons.WithLabelValues(in.StopKind).Inc()
	}
	a.logger.Info("Finalized workflow instance",
		zap.String("instance_id", in.InstanceID),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func hasMessageID(entry *state.Entry, id string) bool {
	if id == "" {
		return false
	}
	for i := range entry.Messages {
		if entry.Messages[i].ID == id {
			return true
		}
	}
	return false
}
