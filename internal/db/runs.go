package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
)

// TrackScheduled records a sub-agent dispatch. The insert is idempotent on
// the run id: a replayed dispatch activity finds its row already present
// and must not reset a status the run has since moved past.
func (c *Client) TrackScheduled(ctx context.Context, run *TrackedAgentRun) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.ScheduledAt.IsZero() {
		run.ScheduledAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusScheduled
	}
	if run.Mode == "" {
		run.Mode = RunModeRun
	}

	query := `
		INSERT INTO agent_runs (
			id, parent_execution_id, agent_workflow_id, durable_instance_id,
			mode, status, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err = conn.ExecContext(ctx, query,
		run.ID, run.ParentExecutionID, run.AgentWorkflowID, run.DurableInstanceID,
		run.Mode, run.Status, run.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to track scheduled run: %w", err)
	}

	metrics.TrackedRunTransitions.WithLabelValues(string(RunStatusScheduled)).Inc()
	c.logger.Debug("Tracked scheduled run",
		zap.String("run_id", run.ID),
		zap.String("parent_execution_id", run.ParentExecutionID),
	)
	return nil
}

// MarkCompletedInput carries the completion outcome of a tracked run.
type MarkCompletedInput struct {
	ID      string
	Success bool
	Result  string
	Error   string
}

// MarkCompleted transitions a run to completed or failed.
func (c *Client) MarkCompleted(ctx context.Context, in MarkCompletedInput) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	status := RunStatusCompleted
	if !in.Success {
		status = RunStatusFailed
	}

	var result, errMsg interface{}
	if in.Result != "" {
		result = in.Result
	}
	if in.Error != "" {
		errMsg = in.Error
	}

	query := `
		UPDATE agent_runs
		SET status = $2, result = $3, error_message = $4, completed_at = $5
		WHERE id = $1`

	res, err := conn.ExecContext(ctx, query, in.ID, status, result, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", in.ID)
	}

	metrics.TrackedRunTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

// MarkEventPublished records that the parent workflow has been notified of
// the run's completion.
func (c *Client) MarkEventPublished(ctx context.Context, id string) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE agent_runs
		SET status = $2, event_published_at = $3
		WHERE id = $1`

	res, err := conn.ExecContext(ctx, query, id, RunStatusEventPublished, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", id)
	}

	metrics.TrackedRunTransitions.WithLabelValues(string(RunStatusEventPublished)).Inc()
	return nil
}

// MarkReconciled touches last_reconciled_at without changing status, so the
// periodic sweep can tell stale rows from freshly inspected ones.
func (c *Client) MarkReconciled(ctx context.Context, id string) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	query := `UPDATE agent_runs SET last_reconciled_at = $2 WHERE id = $1`
	if _, err := conn.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark run reconciled: %w", err)
	}
	return nil
}

// ListPending returns runs whose completion event has not been confirmed
// delivered, oldest first. These are redelivery candidates: the sub-agent
// may have finished while the parent was not listening.
func (c *Client) ListPending(ctx context.Context, limit int) ([]TrackedAgentRun, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, parent_execution_id, agent_workflow_id, durable_instance_id,
		       mode, status, result, error_message,
		       scheduled_at, completed_at, event_published_at, last_reconciled_at
		FROM agent_runs
		WHERE event_published_at IS NULL
		ORDER BY scheduled_at ASC
		LIMIT $1`

	rows, err := conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer rows.Close()

	var runs []TrackedAgentRun
	for rows.Next() {
		var r TrackedAgentRun
		var result, errMsg sql.NullString
		var completedAt, publishedAt, reconciledAt sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.ParentExecutionID, &r.AgentWorkflowID, &r.DurableInstanceID,
			&r.Mode, &r.Status, &result, &errMsg,
			&r.ScheduledAt, &completedAt, &publishedAt, &reconciledAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending run: %w", err)
		}
		if result.Valid {
			r.Result = &result.String
		}
		if errMsg.Valid {
			r.ErrorMessage = &errMsg.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			r.EventPublishedAt = &t
		}
		if reconciledAt.Valid {
			t := reconciledAt.Time
			r.LastReconciledAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
