// Package reconcile re-delivers sub-agent completion notifications the
// parent workflow may have missed. "The sub-agent finished" and "the parent
// has been told" are separate facts; the run tracker records them in two
// phases and this sweep closes the gap between them.
package reconcile

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/db"
	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
)

const (
	defaultInterval  = 60 * time.Second
	defaultBatchSize = 50

	// CompletionSignal is the signal name parents listen on for sub-agent
	// completion events.
	CompletionSignal = "agent-run-completion"
)

// CompletionEvent is the signal payload delivered to the parent workflow.
type CompletionEvent struct {
	RunID           string `json:"run_id"`
	AgentWorkflowID string `json:"agent_workflow_id"`
	Success         bool   `json:"success"`
	Result          string `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	Redelivered     bool   `json:"redelivered"`
}

// signaler is the slice of the Temporal client the reconciler needs.
type signaler interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
}

var _ signaler = (client.Client)(nil)

// Reconciler periodically sweeps unpublished runs and re-signals parents.
type Reconciler struct {
	readDB   *sqlx.DB
	tracker  *db.Client
	temporal signaler
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

// New creates a reconciler. readDB is a sqlx handle over the same pool the
// tracker writes through.
func New(readDB *sqlx.DB, tracker *db.Client, temporal signaler, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		readDB:   readDB,
		tracker:  tracker,
		temporal: temporal,
		logger:   logger,
		interval: defaultInterval,
		batch:    defaultBatchSize,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Warn("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep inspects one batch of unpublished runs. Completed runs get their
// completion event re-signalled to the parent and are marked published on
// success; everything else is only touched, so the next sweep can tell
// stale rows from freshly inspected ones.
func (r *Reconciler) Sweep(ctx context.Context) error {
	metrics.ReconcilerSweeps.Inc()

	var runs []db.TrackedAgentRun
	err := r.readDB.SelectContext(ctx, &runs, `
		SELECT id, parent_execution_id, agent_workflow_id, durable_instance_id,
		       mode, status, result, error_message,
		       scheduled_at, completed_at, event_published_at, last_reconciled_at
		FROM agent_runs
		WHERE event_published_at IS NULL
		ORDER BY scheduled_at ASC
		LIMIT $1`, r.batch)
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]
		if run.CompletedAt == nil {
			// Still in flight; just record that we looked.
			if err := r.tracker.MarkReconciled(ctx, run.ID); err != nil {
				r.logger.Warn("Failed to touch in-flight run", zap.String("run_id", run.ID), zap.Error(err))
			}
			continue
		}
		r.redeliver(ctx, run)
	}
	return nil
}

func (r *Reconciler) redeliver(ctx context.Context, run *db.TrackedAgentRun) {
	event := CompletionEvent{
		RunID:           run.ID,
		AgentWorkflowID: run.AgentWorkflowID,
		Success:         run.Status == db.RunStatusCompleted,
		Redelivered:     true,
	}
	if run.Result != nil {
		event.Result = *run.Result
	}
	if run.ErrorMessage != nil {
		event.Error = *run.ErrorMessage
	}

	if err := r.temporal.SignalWorkflow(ctx, run.ParentExecutionID, "", CompletionSignal, event); err != nil {
		metrics.ReconcilerRedeliveries.WithLabelValues("error").Inc()
		r.logger.Warn("Completion redelivery failed",
			zap.String("run_id", run.ID),
			zap.String("parent_execution_id", run.ParentExecutionID),
			zap.Error(err),
		)
		if markErr := r.tracker.MarkReconciled(ctx, run.ID); markErr != nil {
			r.logger.Warn("Failed to mark run reconciled", zap.String("run_id", run.ID), zap.Error(markErr))
		}
		return
	}

	metrics.ReconcilerRedeliveries.WithLabelValues("ok").Inc()
	r.logger.Info("Redelivered completion event",
		zap.String("run_id", run.ID),
		zap.String("parent_execution_id", run.ParentExecutionID),
	)
	if err := r.tracker.MarkEventPublished(ctx, run.ID); err != nil {
		// The signal landed; the next sweep will retry the bookkeeping.
		r.logger.Warn("Failed to mark event published", zap.String("run_id", run.ID), zap.Error(err))
	}
}
