package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/triage-ai/cloak/internal/entity"
)

// newTestPostgresStore connects to the database named by
// CLOAK_TEST_VAULT_DSN, skipping when none is configured. Each call gets
// a distinct session namespace so tests do not step on each other's rows.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()

	dsn := os.Getenv("CLOAK_TEST_VAULT_DSN")
	if dsn == "" {
		t.Skip("CLOAK_TEST_VAULT_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresStore(db, nil)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func testSession(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestPostgresUpsert_PlaceholderCollision(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	sess := testSession(t)
	t.Cleanup(func() { _ = s.Purge(context.Background(), sess) })

	ph := "<<HOST_aaaa1111bbbb2222>>"
	if _, err := s.Upsert(ctx, rec(sess, NamespaceInput, entity.TypeHost, ph, "jenkins.internal")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	_, err := s.Upsert(ctx, rec(sess, NamespaceInput, entity.TypeHost, ph, "grafana.internal"))
	if !errors.Is(err, ErrPlaceholderTaken) {
		t.Fatalf("expected ErrPlaceholderTaken, got %v", err)
	}

	// The same original keeps its placeholder in another namespace, so
	// the collision rule must not reject cross-namespace reuse.
	if _, err := s.Upsert(ctx, rec(sess, NamespaceToolResults, entity.TypeHost, ph, "jenkins.internal")); err != nil {
		t.Errorf("cross-namespace reuse should succeed, got %v", err)
	}
}

func TestPostgresUpsert_ConcurrentCollisionSingleWinner(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	sess := testSession(t)
	t.Cleanup(func() { _ = s.Purge(context.Background(), sess) })

	// Concurrent writers race distinct originals onto one placeholder.
	// Exactly one may win; every other writer must see the collision.
	const workers = 8
	ph := "<<TICKET_aaaa1111bbbb2222>>"
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			original := fmt.Sprintf("PROJ-%04d", i)
			_, errs[i] = s.Upsert(ctx, rec(sess, NamespaceInput, entity.TypeTicket, ph, original))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrPlaceholderTaken):
		default:
			t.Fatalf("worker %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d writers claimed the placeholder, want exactly 1", winners)
	}
}

func TestPostgresUpsert_ConcurrentConvergence(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	sess := testSession(t)
	t.Cleanup(func() { _ = s.Purge(context.Background(), sess) })

	const workers = 8
	results := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ph, err := s.Upsert(ctx, rec(sess, NamespaceInput, entity.TypeTicket, "<<TICKET_cccc3333dddd4444>>", "PROJ-1234"))
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

func TestPostgresUpsertResolve_RoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	sess := testSession(t)
	t.Cleanup(func() { _ = s.Purge(context.Background(), sess) })

	ph := "<<EMAIL_eeee5555ffff6666>>"
	if _, err := s.Upsert(ctx, rec(sess, NamespaceInput, entity.TypeEmail, ph, "alice@bigcorp.io")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	res, err := s.Resolve(ctx, sess, ph, Namespaces())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Original != "alice@bigcorp.io" || res.Namespace != NamespaceInput {
		t.Errorf("unexpected resolution: %+v", res)
	}
}
