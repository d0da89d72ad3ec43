package db

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func expectParentExecution(mock sqlmock.Sqlmock, executionID, workflowID string, userID interface{}) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM workflow_executions")).
		WithArgs(executionID).
		WillReturnRows(sqlmock.NewRows([]string{"workflow_id", "user_id"}).
			AddRow(workflowID, userID))
}

func TestSavePlanArtifactInsertsWhenNoDraft(t *testing.T) {
	client, mock := newMockClient(t)

	expectParentExecution(mock, "exec-1", "wf-1", "user-1")
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_artifacts")).
		WithArgs("exec-1", "wf-1", "plan_node", PlanStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"artifact_ref", "artifact_version"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plan_artifacts")).
		WithArgs(sqlmock.AnyArg(), "exec-1", "wf-1", sqlmock.AnyArg(), "plan_node",
			PlanStatusDraft, sqlmock.AnyArg(), 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	artifact, err := client.SavePlanArtifact(context.Background(), SavePlanArtifactInput{
		ExecutionID: "exec-1",
		NodeName:    "plan_node",
		Plan:        JSONB{"tasks": []interface{}{"step one"}},
	})
	if err != nil {
		t.Fatalf("SavePlanArtifact failed: %v", err)
	}
	if !strings.HasPrefix(artifact.ArtifactRef, "plan_") {
		t.Fatalf("expected generated artifact ref, got %q", artifact.ArtifactRef)
	}
	if artifact.ArtifactVersion != 1 {
		t.Fatalf("expected version 1, got %d", artifact.ArtifactVersion)
	}
	if artifact.Status != PlanStatusDraft {
		t.Fatalf("expected draft status, got %s", artifact.Status)
	}
	if artifact.UserID == nil || *artifact.UserID != "user-1" {
		t.Fatalf("expected resolved user id, got %v", artifact.UserID)
	}
}

func TestSavePlanArtifactCoalescesExistingDraft(t *testing.T) {
	client, mock := newMockClient(t)

	expectParentExecution(mock, "exec-1", "wf-1", nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plan_artifacts")).
		WithArgs("exec-1", "wf-1", "plan_node", PlanStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"artifact_ref", "artifact_version"}).
			AddRow("plan_existing", 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plan_artifacts")).
		WithArgs("plan_existing", sqlmock.AnyArg(), 4, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	artifact, err := client.SavePlanArtifact(context.Background(), SavePlanArtifactInput{
		ExecutionID: "exec-1",
		NodeName:    "plan_node",
		Plan:        JSONB{"tasks": []interface{}{"revised"}},
	})
	if err != nil {
		t.Fatalf("SavePlanArtifact failed: %v", err)
	}
	if artifact.ArtifactRef != "plan_existing" {
		t.Fatalf("expected draft ref reused, got %q", artifact.ArtifactRef)
	}
	if artifact.ArtifactVersion != 4 {
		t.Fatalf("expected version bumped to 4, got %d", artifact.ArtifactVersion)
	}
	if artifact.UserID != nil {
		t.Fatalf("expected nil user id, got %v", artifact.UserID)
	}
}

func TestSavePlanArtifactUnknownExecution(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM workflow_executions")).
		WithArgs("exec-missing").
		WillReturnError(sql.ErrNoRows)

	_, err := client.SavePlanArtifact(context.Background(), SavePlanArtifactInput{
		ExecutionID: "exec-missing",
		NodeName:    "plan_node",
		Plan:        JSONB{},
	})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestMarkPlanArtifactStatus(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE plan_artifacts SET status")).
		WithArgs("plan_1", PlanStatusApproved, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := client.MarkPlanArtifactStatus(context.Background(), "plan_1", PlanStatusApproved); err != nil {
		t.Fatalf("MarkPlanArtifactStatus failed: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE plan_artifacts SET status")).
		WithArgs("plan_missing", PlanStatusSuperseded, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := client.MarkPlanArtifactStatus(context.Background(), "plan_missing", PlanStatusSuperseded)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpsertWorkspaceSession(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO workspace_sessions")).
		WithArgs(sqlmock.AnyArg(), "exec-1", "inst-1", "/tmp/ws/exec-1",
			WorkspaceStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
			AddRow("ws-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	ws, err := client.UpsertWorkspaceSession(context.Background(), UpsertWorkspaceSessionInput{
		ExecutionID:       "exec-1",
		DurableInstanceID: "inst-1",
		ClonePath:         "/tmp/ws/exec-1",
	})
	if err != nil {
		t.Fatalf("UpsertWorkspaceSession failed: %v", err)
	}
	if ws.ID != "ws-1" {
		t.Fatalf("expected id from returning clause, got %q", ws.ID)
	}
	if ws.Status != WorkspaceStatusActive {
		t.Fatalf("expected active status, got %s", ws.Status)
	}
}

func TestGetWorkspaceSessionAbsent(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM workspace_sessions")).
		WithArgs("exec-none").
		WillReturnError(sql.ErrNoRows)

	ws, err := client.GetWorkspaceSession(context.Background(), "exec-none")
	if err != nil {
		t.Fatalf("GetWorkspaceSession failed: %v", err)
	}
	if ws != nil {
		t.Fatalf("expected nil for absent session, got %+v", ws)
	}
}
