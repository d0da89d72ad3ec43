package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/threadline-ai/threadline/go/engine/internal/statestore"
)

func newDirectory(t *testing.T) (*Directory, *statestore.MemoryStore) {
	t.Helper()
	store := statestore.NewMemoryStore()
	return NewDirectory(store, "team-1", zap.NewNop()), store
}

func TestRegisterAgentEqualitySkipsWrite(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()

	entry := Entry{
		Address:      "worker-a:9090",
		Capabilities: []string{"search", "summarize"},
		Labels:       map[string]string{"pool": "default"},
	}

	if err := dir.RegisterAgent(ctx, "agent-a", entry); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	writes := store.SaveCount("agent-directory:team-1")
	if writes != 1 {
		t.Fatalf("expected exactly one write, got %d", writes)
	}

	// Same metadata again: the equality short-circuit must not write.
	if err := dir.RegisterAgent(ctx, "agent-a", entry); err != nil {
		t.Fatalf("re-RegisterAgent failed: %v", err)
	}
	if got := store.SaveCount("agent-directory:team-1"); got != writes {
		t.Fatalf("expected zero additional writes, got %d", got-writes)
	}

	// Changed metadata writes again.
	entry.Capabilities = append(entry.Capabilities, "plan")
	if err := dir.RegisterAgent(ctx, "agent-a", entry); err != nil {
		t.Fatalf("RegisterAgent with changed metadata failed: %v", err)
	}
	if got := store.SaveCount("agent-directory:team-1"); got != writes+1 {
		t.Fatalf("expected one more write after change, got %d", got-writes)
	}
}

// racingStore runs a hook just before the first write lands, modeling a
// second process whose first write wins the race.
type racingStore struct {
	statestore.Store
	hook func()
}

func (s *racingStore) Save(ctx context.Context, key string, value []byte, etag string) error {
	if s.hook != nil {
		h := s.hook
		s.hook = nil
		h()
	}
	return s.Store.Save(ctx, key, value, etag)
}

func TestRegisterAgentFirstWriteRaceKeepsBothEntries(t *testing.T) {
	inner := statestore.NewMemoryStore()
	other := NewDirectory(inner, "team-1", zap.NewNop())
	ctx := context.Background()

	store := &racingStore{Store: inner, hook: func() {
		// agent-b's first registration lands between agent-a's load of the
		// absent directory and its save.
		if err := other.RegisterAgent(ctx, "agent-b", Entry{Address: "b:1"}); err != nil {
			t.Fatalf("concurrent RegisterAgent failed: %v", err)
		}
	}}
	dir := NewDirectory(store, "team-1", zap.NewNop())

	if err := dir.RegisterAgent(ctx, "agent-a", Entry{Address: "a:1"}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	agents, err := dir.GetAgentsMetadata(ctx, SnapshotFilter{})
	if err != nil {
		t.Fatalf("GetAgentsMetadata failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("first-write race erased a registration: %+v", agents)
	}
}

func TestDeregisterAgentNoOpWhenAbsent(t *testing.T) {
	dir, store := newDirectory(t)
	ctx := context.Background()

	if err := dir.DeregisterAgent(ctx, "never-registered"); err != nil {
		t.Fatalf("DeregisterAgent of absent agent failed: %v", err)
	}
	if got := store.SaveCount("agent-directory:team-1"); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}

	if err := dir.RegisterAgent(ctx, "agent-a", Entry{Address: "a:1"}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := dir.DeregisterAgent(ctx, "agent-a"); err != nil {
		t.Fatalf("DeregisterAgent failed: %v", err)
	}

	agents, err := dir.GetAgentsMetadata(ctx, SnapshotFilter{})
	if err != nil {
		t.Fatalf("GetAgentsMetadata failed: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("expected empty directory, got %d entries", len(agents))
	}
}

func TestGetAgentsMetadataFilters(t *testing.T) {
	dir, _ := newDirectory(t)
	ctx := context.Background()

	if err := dir.RegisterAgent(ctx, "orchestrator", Entry{Orchestrator: true}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := dir.RegisterAgent(ctx, "agent-a", Entry{Address: "a:1"}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
	if err := dir.RegisterAgent(ctx, "agent-b", Entry{Address: "b:1"}); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	all, err := dir.GetAgentsMetadata(ctx, SnapshotFilter{})
	if err != nil {
		t.Fatalf("GetAgentsMetadata failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}

	peers, err := dir.GetAgentsMetadata(ctx, SnapshotFilter{
		ExcludeSelf:         "agent-a",
		ExcludeOrchestrator: true,
	})
	if err != nil {
		t.Fatalf("filtered GetAgentsMetadata failed: %v", err)
	}
	if len(peers) != 1 || peers[0].Name != "agent-b" {
		t.Fatalf("expected only agent-b, got %+v", peers)
	}
}

func TestRegisterAgentRequiresName(t *testing.T) {
	dir, _ := newDirectory(t)
	if err := dir.RegisterAgent(context.Background(), "", Entry{}); err == nil {
		t.Fatal("expected error for empty agent name")
	}
}
