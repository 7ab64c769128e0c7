package vault

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
)

// PostgresStore is the durable vault backend. One row per
// (session, namespace, entity_type, placeholder) tuple holding the original
// value and created_at; no other state is persisted.
type PostgresStore struct {
	db        *sql.DB
	retention RetentionConfig
}

// NewPostgresStore creates a Postgres-backed vault using an existing
// connection pool. A nil retention config uses DefaultRetention.
func NewPostgresStore(db *sql.DB, retention RetentionConfig) *PostgresStore {
	if retention == nil {
		retention = DefaultRetention()
	}
	return &PostgresStore{db: db, retention: retention}
}

// EnsureSchema creates the mappings table and indexes if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cloak_mappings (
    session_id  TEXT NOT NULL,
    namespace   TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    placeholder TEXT NOT NULL,
    original    TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, namespace, entity_type, original)
);
CREATE INDEX IF NOT EXISTS cloak_mappings_placeholder_idx
    ON cloak_mappings (session_id, placeholder);
CREATE INDEX IF NOT EXISTS cloak_mappings_retention_idx
    ON cloak_mappings (namespace, created_at);`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("vault schema: %w", err)
	}
	return nil
}

// Upsert records a mapping. The whole clash-check / insert / read-back
// sequence runs in one transaction holding a per-session advisory lock,
// so concurrent writers for the same session serialize and two distinct
// originals can never both claim the same placeholder. This is the same
// per-session write serialization the in-memory store gets from its
// shard mutex. A unique index cannot enforce the invariant: the same
// original legitimately shares its placeholder across namespaces.
func (s *PostgresStore) Upsert(ctx context.Context, rec MappingRecord) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	// Transaction-scoped lock, released automatically on commit/rollback.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, rec.Session,
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var clash int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM cloak_mappings
		  WHERE session_id = $1 AND entity_type = $2 AND placeholder = $3 AND original <> $4
		  LIMIT 1`,
		rec.Session, rec.EntityType.String(), rec.Placeholder, rec.Original,
	).Scan(&clash)
	if err == nil {
		return "", ErrPlaceholderTaken
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cloak_mappings (session_id, namespace, entity_type, placeholder, original, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id, namespace, entity_type, original) DO NOTHING`,
		rec.Session, string(rec.Namespace), rec.EntityType.String(), rec.Placeholder, rec.Original, createdAt,
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var placeholder string
	err = tx.QueryRowContext(ctx,
		`SELECT placeholder FROM cloak_mappings
		  WHERE session_id = $1 AND namespace = $2 AND entity_type = $3 AND original = $4`,
		rec.Session, string(rec.Namespace), rec.EntityType.String(), rec.Original,
	).Scan(&placeholder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return placeholder, nil
}

// Resolve fetches every row for the placeholder and applies namespace
// precedence and retention in memory — the row set per placeholder is at
// most one per namespace.
func (s *PostgresStore) Resolve(ctx context.Context, session, placeholder string, order []Namespace) (*Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT namespace, entity_type, original, created_at
		   FROM cloak_mappings
		  WHERE session_id = $1 AND placeholder = $2`,
		session, placeholder,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	found := make(map[Namespace]*Resolution)
	for rows.Next() {
		var ns, typ, original string
		var createdAt time.Time
		if err := rows.Scan(&ns, &typ, &original, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		namespace := Namespace(ns)
		if now.Sub(createdAt) > s.retention.Window(namespace) {
			continue
		}
		found[namespace] = &Resolution{
			Original:   original,
			Namespace:  namespace,
			EntityType: entity.TypeFromToken(typ),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	for _, ns := range order {
		if res, ok := found[ns]; ok {
			return res, nil
		}
	}
	return nil, ErrNotFound
}

// Purge deletes all rows for the session, or only the given namespaces.
func (s *PostgresStore) Purge(ctx context.Context, session string, namespaces ...Namespace) error {
	if len(namespaces) == 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM cloak_mappings WHERE session_id = $1`, session,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	for _, ns := range namespaces {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM cloak_mappings WHERE session_id = $1 AND namespace = $2`,
			session, string(ns),
		); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Sweep deletes rows past their namespace retention window.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, ns := range Namespaces() {
		cutoff := now.Add(-s.retention.Window(ns))
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM cloak_mappings WHERE namespace = $1 AND created_at < $2`,
			string(ns), cutoff,
		)
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	return removed, nil
}

// Close is a no-op; the *sql.DB pool is owned by the caller.
func (s *PostgresStore) Close() {}

var _ Store = (*PostgresStore)(nil)
