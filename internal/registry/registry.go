// Package registry is the team-scoped agent directory: each agent process
// publishes its metadata under the team key so peers can discover one
// another. Multiple processes write concurrently, so every mutation goes
// through a compare-and-swap loop against the state store's version token.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/statestore"
)

// casAttempts bounds the register/deregister retry loop. Exhaustion means
// sustained contention on one team key and is surfaced, not retried
// forever.
const casAttempts = 10

// ErrConcurrencyExhausted is returned when a directory mutation loses the
// CAS race on every attempt.
var ErrConcurrencyExhausted = errors.New("agent directory contention: retry attempts exhausted")

// Entry is the metadata one agent publishes about itself.
type Entry struct {
	Name         string            `json:"name"`
	Address      string            `json:"address,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Orchestrator bool              `json:"orchestrator,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// Directory is the team-scoped agent registry.
type Directory struct {
	store  statestore.Store
	key    string
	logger *zap.Logger
}

// NewDirectory creates a directory scoped to the given team key.
func NewDirectory(store statestore.Store, teamKey string, logger *zap.Logger) *Directory {
	return &Directory{
		store:  store,
		key:    "agent-directory:" + teamKey,
		logger: logger,
	}
}

func (d *Directory) load(ctx context.Context) (map[string]Entry, string, error) {
	data, etag, err := d.store.Get(ctx, d.key)
	if err == statestore.ErrNotFound {
		// Create-only etag: the first directory write must not clobber a
		// concurrent first registration.
		return map[string]Entry{}, statestore.EtagAbsent, nil
	} else if err != nil {
		return nil, "", fmt.Errorf("load agent directory: %w", err)
	}

	var agents map[string]Entry
	if err := json.Unmarshal(data, &agents); err != nil {
		return nil, "", fmt.Errorf("unmarshal agent directory: %w", err)
	}
	if agents == nil {
		agents = map[string]Entry{}
	}
	return agents, etag, nil
}

func (d *Directory) save(ctx context.Context, agents map[string]Entry, etag string) error {
	data, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("marshal agent directory: %w", err)
	}
	return d.store.Save(ctx, d.key, data, etag)
}

// mutate re-reads the latest directory immediately before computing its
// delta on every attempt, bounding the staleness window to one retry
// iteration. apply returns false when the directory already matches the
// desired shape, which short-circuits without a write.
func (d *Directory) mutate(ctx context.Context, op string, apply func(map[string]Entry) bool) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		agents, etag, err := d.load(ctx)
		if err != nil {
			return err
		}

		if !apply(agents) {
			return nil
		}

		err = d.save(ctx, agents, etag)
		if err == nil {
			metrics.DirectoryWrites.WithLabelValues(op).Inc()
			return nil
		}
		if !errors.Is(err, statestore.ErrVersionConflict) {
			return fmt.Errorf("save agent directory: %w", err)
		}

		metrics.DirectoryCASRetries.Inc()
		d.logger.Debug("Agent directory CAS conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
		)
		// Fixed base with jitter spreads herds of agents starting together.
		time.Sleep(10*time.Millisecond + time.Duration(rand.Intn(40))*time.Millisecond)
	}
	return fmt.Errorf("%s agent: %w", op, ErrConcurrencyExhausted)
}

// RegisterAgent publishes metadata under the agent name. Registering an
// entry deep-equal to the stored one performs zero writes.
func (d *Directory) RegisterAgent(ctx context.Context, name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("agent name is required")
	}
	entry.Name = name

	return d.mutate(ctx, "register", func(agents map[string]Entry) bool {
		if existing, ok := agents[name]; ok && entriesEqual(existing, entry) {
			return false
		}
		if entry.RegisteredAt.IsZero() {
			entry.RegisteredAt = time.Now().UTC()
		}
		agents[name] = entry
		return true
	})
}

// DeregisterAgent removes the agent's entry; a no-op when already absent.
func (d *Directory) DeregisterAgent(ctx context.Context, name string) error {
	return d.mutate(ctx, "deregister", func(agents map[string]Entry) bool {
		if _, ok := agents[name]; !ok {
			return false
		}
		delete(agents, name)
		return true
	})
}

// SnapshotFilter narrows a GetAgentsMetadata read.
type SnapshotFilter struct {
	ExcludeSelf         string
	ExcludeOrchestrator bool
}

// GetAgentsMetadata returns a filtered snapshot of the directory. Reads
// never mutate, so they bypass the CAS loop entirely.
func (d *Directory) GetAgentsMetadata(ctx context.Context, filter SnapshotFilter) ([]Entry, error) {
	agents, _, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(agents))
	for name, entry := range agents {
		if filter.ExcludeSelf != "" && name == filter.ExcludeSelf {
			continue
		}
		if filter.ExcludeOrchestrator && entry.Orchestrator {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// entriesEqual compares everything except the registration timestamp, so a
// restarted agent re-publishing identical metadata does not churn the
// directory version.
func entriesEqual(a, b Entry) bool {
	a.RegisteredAt = time.Time{}
	b.RegisteredAt = time.Time{}
	return reflect.DeepEqual(a, b)
}
