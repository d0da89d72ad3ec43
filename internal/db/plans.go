package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SavePlanArtifactInput identifies the planning node and carries the plan.
type SavePlanArtifactInput struct {
	ExecutionID string
	NodeName    string
	Plan        JSONB
}

// SavePlanArtifact persists a plan produced by a planning pass. Ownership
// (workflow, user) is resolved from the parent execution row. While a draft
// exists for the same (execution, workflow, node) the save updates it in
// place under the same artifact ref, so repeated planning attempts coalesce
// instead of accumulating rows. Only a status transition locks a version in.
//
// Draft coalescing assumes a single planner per node; there is no version
// check here. Concurrent planners for one node would interleave drafts.
func (c *Client) SavePlanArtifact(ctx context.Context, in SavePlanArtifactInput) (*PlanArtifact, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	// Resolve owning workflow and user from the parent execution.
	var workflowID string
	var userID sql.NullString
	row, err := conn.QueryRowContext(ctx,
		`SELECT workflow_id, user_id::text FROM workflow_executions WHERE execution_id = $1`,
		in.ExecutionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parent execution: %w", err)
	}
	if err := row.Scan(&workflowID, &userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("parent execution %s not found", in.ExecutionID)
		}
		return nil, fmt.Errorf("failed to resolve parent execution: %w", err)
	}

	now := time.Now().UTC()

	// Existing draft for this node?
	var existingRef string
	var existingVersion int
	row, err = conn.QueryRowContext(ctx,
		`SELECT artifact_ref, artifact_version FROM plan_artifacts
		 WHERE execution_id = $1 AND workflow_id = $2 AND node_name = $3 AND status = $4`,
		in.ExecutionID, workflowID, in.NodeName, PlanStatusDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to look up draft artifact: %w", err)
	}
	scanErr := row.Scan(&existingRef, &existingVersion)

	artifact := &PlanArtifact{
		ExecutionID: in.ExecutionID,
		WorkflowID:  workflowID,
		NodeName:    in.NodeName,
		Status:      PlanStatusDraft,
		Plan:        in.Plan,
		UpdatedAt:   now,
	}
	if userID.Valid {
		artifact.UserID = &userID.String
	}

	switch scanErr {
	case nil:
		// Update the draft in place, same ref, bumped version.
		artifact.ArtifactRef = existingRef
		artifact.ArtifactVersion = existingVersion + 1
		_, err = conn.ExecContext(ctx,
			`UPDATE plan_artifacts
			 SET plan = $2, artifact_version = $3, updated_at = $4
			 WHERE artifact_ref = $1`,
			existingRef, in.Plan, artifact.ArtifactVersion, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to update draft artifact: %w", err)
		}
		c.logger.Debug("Coalesced plan draft",
			zap.String("artifact_ref", existingRef),
			zap.Int("version", artifact.ArtifactVersion),
		)
	case sql.ErrNoRows:
		artifact.ArtifactRef = "plan_" + uuid.New().String()
		artifact.ArtifactVersion = 1
		artifact.CreatedAt = now
		_, err = conn.ExecContext(ctx,
			`INSERT INTO plan_artifacts (
				artifact_ref, execution_id, workflow_id, user_id, node_name,
				status, plan, artifact_version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			artifact.ArtifactRef, artifact.ExecutionID, artifact.WorkflowID,
			artifact.UserID, artifact.NodeName, artifact.Status, artifact.Plan,
			artifact.ArtifactVersion, artifact.CreatedAt, artifact.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert plan artifact: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to look up draft artifact: %w", scanErr)
	}

	return artifact, nil
}

// GetPlanArtifact fetches one artifact by ref.
func (c *Client) GetPlanArtifact(ctx context.Context, artifactRef string) (*PlanArtifact, error) {
	conn, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	row, err := conn.QueryRowContext(ctx,
		`SELECT artifact_ref, execution_id, workflow_id, user_id::text, node_name,
		        status, plan, artifact_version, created_at, updated_at
		 FROM plan_artifacts WHERE artifact_ref = $1`,
		artifactRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan artifact: %w", err)
	}

	var a PlanArtifact
	var userID sql.NullString
	if err := row.Scan(
		&a.ArtifactRef, &a.ExecutionID, &a.WorkflowID, &userID, &a.NodeName,
		&a.Status, &a.Plan, &a.ArtifactVersion, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("plan artifact %s not found", artifactRef)
		}
		return nil, fmt.Errorf("failed to scan plan artifact: %w", err)
	}
	if userID.Valid {
		a.UserID = &userID.String
	}
	return &a, nil
}

// MarkPlanArtifactStatus transitions an artifact out of (or between)
// lifecycle states; moving a draft to any other status locks its version in.
func (c *Client) MarkPlanArtifactStatus(ctx context.Context, artifactRef string, status PlanArtifactStatus) error {
	conn, err := c.conn(ctx)
	if err != nil {
		return err
	}

	res, err := conn.ExecContext(ctx,
		`UPDATE plan_artifacts SET status = $2, updated_at = $3 WHERE artifact_ref = $1`,
		artifactRef, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark plan artifact status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("plan artifact %s not found", artifactRef)
	}
	return nil
}
