package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertWorkspaceSessionInput binds a sandbox workspace to an execution.
type UpsertWorkspaceSessionInput struct {
	ExecutionID       string
	DurableInstanceID string
	ClonePath         string
}

// UpsertWorkspaceSession records a workspace for an execution, updating the
// existing row when the execution already has one so agents landing on the
// same checkout reuse it instead of cloning again.
func (c *Client) UpsertWorkspaceSession(ctx context.Context, in UpsertWorkspaceSessionInput) (*WorkspaceSession, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ws := &WorkspaceSession{
		ID:                uuid.New().String(),
		ExecutionID:       in.ExecutionID,
		DurableInstanceID: in.DurableInstanceID,
		ClonePath:         in.ClonePath,
		Status:            WorkspaceStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	row, err := conn.QueryRowContext(ctx,
		`INSERT INTO workspace_sessions (
			id, execution_id, durable_instance_id, clone_path, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE SET
			durable_instance_id = EXCLUDED.durable_instance_id,
			clone_path = EXCLUDED.clone_path,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		ws.ID, ws.ExecutionID, ws.DurableInstanceID, ws.ClonePath, ws.Status, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert workspace session: %w", err)
	}
	if err := row.Scan(&ws.ID, &ws.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert workspace session: %w", err)
	}
	return ws, nil
}

// GetWorkspaceSession returns the workspace bound to an execution, or nil
// when none exists yet.
func (c *Client) GetWorkspaceSession(ctx context.Context, executionID string) (*WorkspaceSession, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	row, err := conn.QueryRowContext(ctx,
		`SELECT id, execution_id, durable_instance_id, clone_path, status, created_at, updated_at
		 FROM workspace_sessions WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace session: %w", err)
	}

	var ws WorkspaceSession
	if err := row.Scan(
		&ws.ID, &ws.ExecutionID, &ws.DurableInstanceID, &ws.ClonePath,
		&ws.Status, &ws.CreatedAt, &ws.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan workspace session: %w", err)
	}
	return &ws, nil
}

// MarkWorkspaceSessionStatus moves a workspace through its cleanup
// lifecycle.
func (c *Client) MarkWorkspaceSessionStatus(ctx context.Context, executionID string, status WorkspaceSessionStatus) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx,
		`UPDATE workspace_sessions SET status = $2, updated_at = $3 WHERE execution_id = $1`,
		executionID, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark workspace session status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("workspace session for execution %s not found", executionID)
	}
	return nil
}
