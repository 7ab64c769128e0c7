package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
)

func rec(session string, ns Namespace, typ entity.Type, placeholder, original string) MappingRecord {
	return MappingRecord{
		Session:     session,
		Namespace:   ns,
		EntityType:  typ,
		Placeholder: placeholder,
		Original:    original,
	}
}

func TestMemoryUpsert_IdempotentPerOriginal(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	first, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, "<<TICKET_aaaa1111bbbb2222>>", "PROJ-1234"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Re-upsert with a different proposed placeholder; the existing one wins.
	second, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, "<<TICKET_cccc3333dddd4444>>", "PROJ-1234"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first != second {
		t.Errorf("re-upsert returned new placeholder %q, want existing %q", second, first)
	}
}

func TestMemoryUpsert_PlaceholderCollision(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	ph := "<<HOST_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeHost, ph, "jenkins.internal")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Same placeholder, same type, different original: rejected.
	_, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeHost, ph, "grafana.internal"))
	if !errors.Is(err, ErrPlaceholderTaken) {
		t.Fatalf("expected ErrPlaceholderTaken, got %v", err)
	}

	// Same placeholder text under a different type is a distinct mapping.
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeEmail, ph, "ops@bigcorp.io")); err != nil {
		t.Errorf("cross-type upsert should succeed, got %v", err)
	}
}

func TestMemoryResolve_NamespacePrecedence(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	ph := "<<HOST_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeHost, ph, "from-input")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, rec("s1", NamespaceToolArgs, entity.TypeHost, ph, "from-args")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := s.Resolve(ctx, "s1", ph, RestoreOrder())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Original != "from-args" {
		t.Errorf("tool_arguments should win the restore order, got %q from %s", res.Original, res.Namespace)
	}

	// Narrowing the order skips earlier namespaces.
	res, err = s.Resolve(ctx, "s1", ph, []Namespace{NamespaceInput})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Original != "from-input" {
		t.Errorf("input-only order resolved %q", res.Original)
	}
}

func TestMemoryResolve_SessionIsolation(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	ph := "<<TICKET_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, ph, "PROJ-1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := s.Resolve(ctx, "s2", ph, RestoreOrder()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-session resolve must fail, got %v", err)
	}
}

func TestMemoryPurge_Session(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	ph := "<<TICKET_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, ph, "PROJ-1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Purge(ctx, "s1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := s.Resolve(ctx, "s1", ph, RestoreOrder()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolve after purge must fail, got %v", err)
	}
}

func TestMemoryPurge_SingleNamespace(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	phA := "<<TICKET_aaaa1111bbbb2222>>"
	phB := "<<HOST_cccc3333dddd4444>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, phA, "PROJ-1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, rec("s1", NamespaceToolResults, entity.TypeHost, phB, "db.internal")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.Purge(ctx, "s1", NamespaceToolResults); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if _, err := s.Resolve(ctx, "s1", phB, RestoreOrder()); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged namespace still resolves, err=%v", err)
	}
	if _, err := s.Resolve(ctx, "s1", phA, RestoreOrder()); err != nil {
		t.Errorf("untouched namespace lost its record: %v", err)
	}
}

func TestMemoryRetention_ReadTimeExpiry(t *testing.T) {
	s := NewMemoryStore(RetentionConfig{
		NamespaceInput:       time.Minute,
		NamespaceToolArgs:    time.Hour,
		NamespaceToolResults: time.Hour,
		NamespaceOutput:      time.Hour,
	})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }
	ctx := context.Background()

	ph := "<<TICKET_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, ph, "PROJ-1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := s.Resolve(ctx, "s1", ph, RestoreOrder()); err != nil {
		t.Fatalf("fresh record should resolve: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Resolve(ctx, "s1", ph, RestoreOrder()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record must be unreachable before sweep, got %v", err)
	}
}

func TestMemorySweep_RemovesExpired(t *testing.T) {
	s := NewMemoryStore(RetentionConfig{
		NamespaceInput:       time.Minute,
		NamespaceToolArgs:    time.Hour,
		NamespaceToolResults: time.Hour,
		NamespaceOutput:      time.Hour,
	})
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return start }
	ctx := context.Background()

	if _, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, "<<TICKET_aaaa1111bbbb2222>>", "PROJ-1")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, rec("s1", NamespaceToolArgs, entity.TypeHost, "<<HOST_cccc3333dddd4444>>", "db.internal")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	removed, err := s.Sweep(ctx, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Resolve(ctx, "s1", "<<HOST_cccc3333dddd4444>>", RestoreOrder()); err != nil {
		t.Errorf("unexpired record removed by sweep: %v", err)
	}

	removed, err = s.Sweep(ctx, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed on second sweep, got %d", removed)
	}
}

func TestMemoryUpsert_ConcurrentConvergence(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	const workers = 16
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ph, err := s.Upsert(ctx, rec("s1", NamespaceInput, entity.TypeTicket, "<<TICKET_aaaa1111bbbb2222>>", "PROJ-1234"))
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = ph
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("workers diverged: %q vs %q", results[i], results[0])
		}
	}
}
