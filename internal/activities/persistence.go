package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/db"
)

// PersistenceActivities wraps the relational audit surfaces (run tracker,
// plan artifacts, workspace sessions) as activities.
type PersistenceActivities struct {
	dbClient *db.Client
	logger   *zap.Logger
}

// NewPersistenceActivities creates persistence activities.
func NewPersistenceActivities(dbClient *db.Client, logger *zap.Logger) *PersistenceActivities {
	return &PersistenceActivities{dbClient: dbClient, logger: logger}
}

// TrackScheduledRun records a sub-agent dispatch; replay-safe via its
// conflict clause.
func (a *PersistenceActivities) TrackScheduledRun(ctx context.Context, run *db.TrackedAgentRun) (*db.TrackedAgentRun, error) {
	if err := a.dbClient.TrackScheduled(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// MarkRunCompleted transitions a tracked run to completed or failed.
func (a *PersistenceActivities) MarkRunCompleted(ctx context.Context, in db.MarkCompletedInput) error {
	return a.dbClient.MarkCompleted(ctx, in)
}

// MarkRunEventPublished records that the parent has been notified.
func (a *PersistenceActivities) MarkRunEventPublished(ctx context.Context, runID string) error {
	return a.dbClient.MarkEventPublished(ctx, runID)
}

// SavePlanArtifact persists (or coalesces) a plan draft.
func (a *PersistenceActivities) SavePlanArtifact(ctx context.Context, in db.SavePlanArtifactInput) (*db.PlanArtifact, error) {
	return a.dbClient.SavePlanArtifact(ctx, in)
}

// MarkPlanArtifactStatus locks a plan version into a lifecycle state.
func (a *PersistenceActivities) MarkPlanArtifactStatus(ctx context.Context, artifactRef string, status db.PlanArtifactStatus) error {
	return a.dbClient.MarkPlanArtifactStatus(ctx, artifactRef, status)
}

// UpsertWorkspaceSession binds a sandbox workspace to an execution.
func (a *PersistenceActivities) UpsertWorkspaceSession(ctx context.Context, in db.UpsertWorkspaceSessionInput) (*db.WorkspaceSession, error) {
	return a.dbClient.UpsertWorkspaceSession(ctx, in)
}

// MarkWorkspaceSessionStatus moves a workspace through cleanup.
func (a *PersistenceActivities) MarkWorkspaceSessionStatus(ctx context.Context, executionID string, status db.WorkspaceSessionStatus) error {
	return a.dbClient.MarkWorkspaceSessionStatus(ctx, executionID, status)
}
