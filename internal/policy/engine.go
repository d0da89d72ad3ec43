// Package policy gates tool execution behind OPA rego policies. The gate
// runs off, dry-run, or enforce; denials in enforce mode become structured
// tool results, never activity failures.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
)

const decisionQuery = "data.threadline.tools.decision"

// Input is the evaluation context for one tool call.
type Input struct {
	AgentID     string                 `json:"agent_id"`
	SessionID   string                 `json:"session_id,omitempty"`
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
	Environment string                 `json:"environment"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Decision is the policy evaluation result.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine evaluates tool calls against compiled rego policies.
type Engine struct {
	config *Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
	enabled  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewEngine creates the gate and compiles policies from the configured
// directory. In fail-open mode a load failure downgrades the gate to a
// no-op; fail-closed makes it a constructor error.
func NewEngine(config *Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		config:  config,
		logger:  logger,
		enabled: config.Enabled && config.Mode != ModeOff,
		done:    make(chan struct{}),
	}

	if e.enabled {
		if err := e.LoadPolicies(); err != nil {
			if config.FailClosed {
				return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
			}
			logger.Warn("Failed to load policies, running fail-open", zap.Error(err))
			e.enabled = false
		}
	}

	return e, nil
}

// Mode returns the configured enforcement mode.
func (e *Engine) Mode() Mode { return e.config.Mode }

// IsEnabled reports whether policies are loaded and active.
func (e *Engine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// LoadPolicies reads and compiles every .rego file under the policy path.
func (e *Engine) LoadPolicies() error {
	policies := make(map[string]string)

	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".rego") {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy file %s: %w", path, err)
			}
			relPath, _ := filepath.Rel(e.config.Path, path)
			policies[strings.TrimSuffix(relPath, ".rego")] = string(content)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk policy directory: %w", err)
	}

	if len(policies) == 0 {
		if e.config.FailClosed {
			return fmt.Errorf("no policies found in fail-closed mode")
		}
		e.logger.Warn("No policy files found", zap.String("path", e.config.Path))
		return nil
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for moduleName, content := range policies {
		opts = append(opts, rego.Module(moduleName, content))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	e.mu.Lock()
	e.compiled = &compiled
	e.enabled = true
	e.mu.Unlock()

	e.logger.Info("Tool policies compiled",
		zap.Int("policy_count", len(policies)),
		zap.String("query", decisionQuery),
	)
	return nil
}

// Evaluate decides whether the tool call is allowed. The zero-policy and
// disabled cases resolve according to fail-open/fail-closed.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	e.mu.RLock()
	compiled := e.compiled
	enabled := e.enabled
	e.mu.RUnlock()

	if !enabled || compiled == nil {
		d := &Decision{Allow: !e.config.FailClosed, Reason: "policy gate inactive"}
		metrics.PolicyDecisions.WithLabelValues(string(e.config.Mode), outcome(d.Allow)).Inc()
		return d, nil
	}

	if input.Environment == "" {
		input.Environment = e.config.Environment
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now().UTC()
	}

	inputMap, err := toMap(input)
	if err != nil {
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return &Decision{Allow: true, Reason: "input conversion failed, fail-open"}, nil
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		if e.config.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, nil
		}
		return &Decision{Allow: true, Reason: "policy evaluation error, fail-open"}, nil
	}

	decision := parseDecision(results)
	metrics.PolicyDecisions.WithLabelValues(string(e.config.Mode), outcome(decision.Allow)).Inc()

	if !decision.Allow && e.config.Mode == ModeDryRun {
		e.logger.Warn("Tool call would be denied (dry-run)",
			zap.String("tool", input.ToolName),
			zap.String("agent_id", input.AgentID),
			zap.String("reason", decision.Reason),
		)
		return &Decision{Allow: true, Reason: "dry-run: " + decision.Reason}, nil
	}

	return decision, nil
}

func parseDecision(results rego.ResultSet) *Decision {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Allow: false, Reason: "no decision produced"}
	}
	raw, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return &Decision{Allow: false, Reason: "malformed decision"}
	}
	d := &Decision{}
	if allow, ok := raw["allow"].(bool); ok {
		d.Allow = allow
	}
	if reason, ok := raw["reason"].(string); ok {
		d.Reason = reason
	}
	return d
}

func toMap(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func outcome(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}

// WatchForChanges reloads policies when files under the policy path change.
func (e *Engine) WatchForChanges() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(e.config.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch policy path: %w", err)
	}
	e.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 &&
					strings.HasSuffix(event.Name, ".rego") {
					e.logger.Info("Policy file changed, reloading", zap.String("file", event.Name))
					if err := e.LoadPolicies(); err != nil {
						e.logger.Error("Policy reload failed", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Error("Policy watcher error", zap.Error(err))
			case <-e.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (e *Engine) Close() error {
	close(e.done)
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}
