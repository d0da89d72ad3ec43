package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// RunMode distinguishes how a sub-agent was invoked.
type RunMode string

const (
	RunModeRun         RunMode = "run"
	RunModePlan        RunMode = "plan"
	RunModeExecutePlan RunMode = "execute_plan"
)

// RunStatus is the two-phase lifecycle of a tracked sub-agent run:
// scheduled -> completed/failed -> event_published. "The sub-agent
// finished" and "the parent has been told" are distinct facts; conflating
// them loses completions when event delivery fails.
type RunStatus string

const (
	RunStatusScheduled      RunStatus = "scheduled"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusEventPublished RunStatus = "event_published"
)

// TrackedAgentRun is one sub-agent dispatch audit row.
type TrackedAgentRun struct {
	ID                string     `db:"id"`
	ParentExecutionID string     `db:"parent_execution_id"`
	AgentWorkflowID   string     `db:"agent_workflow_id"`
	DurableInstanceID string     `db:"durable_instance_id"`
	Mode              RunMode    `db:"mode"`
	Status            RunStatus  `db:"status"`
	Result            *string    `db:"result"`
	ErrorMessage      *string    `db:"error_message"`
	ScheduledAt       time.Time  `db:"scheduled_at"`
	CompletedAt       *time.Time `db:"completed_at"`
	EventPublishedAt  *time.Time `db:"event_published_at"`
	LastReconciledAt  *time.Time `db:"last_reconciled_at"`
}

// PlanArtifactStatus is the lifecycle of a persisted execution plan.
type PlanArtifactStatus string

const (
	PlanStatusDraft      PlanArtifactStatus = "draft"
	PlanStatusApproved   PlanArtifactStatus = "approved"
	PlanStatusExecuted   PlanArtifactStatus = "executed"
	PlanStatusFailed     PlanArtifactStatus = "failed"
	PlanStatusSuperseded PlanArtifactStatus = "superseded"
)

// PlanArtifact is a structured execution plan (task graph) produced by a
// planning pass, scoped to one (execution, workflow, node).
type PlanArtifact struct {
	ArtifactRef     string             `db:"artifact_ref"`
	ExecutionID     string             `db:"execution_id"`
	WorkflowID      string             `db:"workflow_id"`
	UserID          *string            `db:"user_id"`
	NodeName        string             `db:"node_name"`
	Status          PlanArtifactStatus `db:"status"`
	Plan            JSONB              `db:"plan"`
	ArtifactVersion int                `db:"artifact_version"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

// WorkspaceSessionStatus tracks sandbox workspace lifecycle.
type WorkspaceSessionStatus string

const (
	WorkspaceStatusActive  WorkspaceSessionStatus = "active"
	WorkspaceStatusCleaned WorkspaceSessionStatus = "cleaned"
	WorkspaceStatusError   WorkspaceSessionStatus = "error"
)

// WorkspaceSession is a sandboxed file/command workspace bound to one
// workflow execution, tracked for reuse and cleanup.
type WorkspaceSession struct {
	ID                string                 `db:"id"`
	ExecutionID       string                 `db:"execution_id"`
	DurableInstanceID string                 `db:"durable_instance_id"`
	ClonePath         string                 `db:"clone_path"`
	Status            WorkspaceSessionStatus `db:"status"`
	CreatedAt         time.Time              `db:"created_at"`
	UpdatedAt         time.Time              `db:"updated_at"`
}
