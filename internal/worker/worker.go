// Package worker assembles the engine's Temporal worker: it registers the
// workflows and the dependency-carrying activity structs on a task queue.
package worker

import (
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/activities"
	"github.com/threadline-ai/threadline/go/engine/internal/workflows"
)

// Registry wires workflows and activities onto a worker.
type Registry struct {
	stateActs       *activities.StateActivities
	toolActs        *activities.ToolActivities
	generationActs  *activities.GenerationActivities
	persistenceActs *activities.PersistenceActivities
	logger          *zap.Logger
}

// NewRegistry creates a registry. persistenceActs may be nil when no
// relational store is configured; the audit activities are then simply not
// registered.
func NewRegistry(
	stateActs *activities.StateActivities,
	toolActs *activities.ToolActivities,
	generationActs *activities.GenerationActivities,
	persistenceActs *activities.PersistenceActivities,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		stateActs:       stateActs,
		toolActs:        toolActs,
		generationActs:  generationActs,
		persistenceActs: persistenceActs,
		logger:          logger,
	}
}

// RegisterWorkflows registers all workflow functions.
func (r *Registry) RegisterWorkflows(w worker.Worker) {
	w.RegisterWorkflow(workflows.AgentLoopWorkflow)
	r.logger.Info("Registered workflows")
}

// RegisterActivities registers the activity structs; Temporal exposes each
// method under its method name.
func (r *Registry) RegisterActivities(w worker.Worker) {
	w.RegisterActivity(r.stateActs)
	w.RegisterActivity(r.toolActs)
	w.RegisterActivity(r.generationActs)
	if r.persistenceActs != nil {
		w.RegisterActivity(r.persistenceActs)
	}
	r.logger.Info("Registered activities",
		zap.Bool("persistence_enabled", r.persistenceActs != nil),
	)
}
