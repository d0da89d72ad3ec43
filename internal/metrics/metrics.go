package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_workflows_started_total",
			Help: "Total number of agent loop workflows started",
		},
		[]string{"source"},
	)

	WorkflowsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_workflows_finalized_total",
			Help: "Total number of workflows finalized by terminal status",
		},
		[]string{"status"},
	)

	LoopSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_loop_steps_total",
			Help: "Total number of executed loop steps",
		},
	)

	LoopStopReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_loop_stop_total",
			Help: "Loop terminations by stop-condition kind",
		},
		[]string{"kind"},
	)

	// Tool metrics
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_tool_executions_total",
			Help: "Tool executions by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threadline_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// State store metrics
	StateStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_state_store_ops_total",
			Help: "State store operations by op and result",
		},
		[]string{"op", "result"},
	)

	// Agent directory metrics
	DirectoryCASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_directory_cas_retries_total",
			Help: "Agent directory compare-and-swap retry attempts",
		},
	)

	DirectoryWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_directory_writes_total",
			Help: "Agent directory mutations by operation",
		},
		[]string{"op"},
	)

	// Run tracking metrics
	TrackedRunTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_tracked_run_transitions_total",
			Help: "Sub-agent run status transitions",
		},
		[]string{"status"},
	)

	ReconcilerSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threadline_reconciler_sweeps_total",
			Help: "Reconciliation sweeps executed",
		},
	)

	ReconcilerRedeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_reconciler_redeliveries_total",
			Help: "Completion redelivery attempts by result",
		},
		[]string{"result"},
	)

	// Policy gate metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_policy_decisions_total",
			Help: "Tool policy decisions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// Memory mirror metrics
	MemoryMirrorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threadline_memory_mirror_writes_total",
			Help: "Short-term memory mirror writes by result",
		},
		[]string{"result"},
	)
)
