// Package vault is the ephemeral, session-partitioned store of
// placeholder↔original mappings. Records are append-only per session except
// for full purge, and every record expires under a per-namespace retention
// window regardless of explicit cleanup.
package vault

import (
	"context"
	"errors"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
)

// Namespace partitions a session's mappings by pipeline stage. Each
// namespace carries its own retention window.
type Namespace string

const (
	NamespaceInput       Namespace = "incoming_input"
	NamespaceToolArgs    Namespace = "tool_arguments"
	NamespaceToolResults Namespace = "tool_results"
	NamespaceOutput      Namespace = "final_output"
)

// Namespaces lists every namespace, for sweep iteration.
func Namespaces() []Namespace {
	return []Namespace{NamespaceInput, NamespaceToolArgs, NamespaceToolResults, NamespaceOutput}
}

// RestoreOrder is the fixed lookup precedence at a tool boundary: a value
// most recently introduced by the current call context wins over stale
// values from earlier stages.
func RestoreOrder() []Namespace {
	return []Namespace{NamespaceToolArgs, NamespaceInput, NamespaceToolResults, NamespaceOutput}
}

// MappingRecord is one placeholder↔original mapping.
type MappingRecord struct {
	Session     string
	Namespace   Namespace
	EntityType  entity.Type
	Placeholder string
	Original    string
	CreatedAt   time.Time
}

// Resolution is the outcome of a placeholder lookup.
type Resolution struct {
	Original   string
	Namespace  Namespace
	EntityType entity.Type
}

var (
	// ErrNotFound is returned when a placeholder resolves to nothing in any
	// of the searched namespaces.
	ErrNotFound = errors.New("mapping not found")

	// ErrPlaceholderTaken is returned by Upsert when the proposed
	// placeholder already maps to a different original within the same
	// session and entity type. The mint reacts by re-deriving with a salt.
	ErrPlaceholderTaken = errors.New("placeholder already maps to a different original")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// Callers must fail closed: deny restoration, never guess.
	ErrUnavailable = errors.New("vault unavailable")
)

// Store is the vault contract shared by the in-memory and Postgres
// implementations.
type Store interface {
	// Upsert records a mapping. Idempotent: if a record for the same
	// (session, namespace, entity type, original) already exists, the
	// existing placeholder is returned and no new record is created.
	Upsert(ctx context.Context, rec MappingRecord) (placeholder string, err error)

	// Resolve searches the given namespaces in order and returns the first
	// match, or ErrNotFound.
	Resolve(ctx context.Context, session, placeholder string, order []Namespace) (*Resolution, error)

	// Purge deletes all records for the session, or only the given
	// namespace when one is supplied. Deletion is all-or-nothing.
	Purge(ctx context.Context, session string, namespaces ...Namespace) error

	// Sweep deletes every record whose namespace retention window has
	// elapsed at the given instant, returning the number removed. This is
	// the durable cleanup guarantee; explicit purges are best-effort.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases backing resources.
	Close()
}

// RetentionConfig maps each namespace to its retention window.
type RetentionConfig map[Namespace]time.Duration

// DefaultRetention returns the default per-namespace windows. The exact
// values are deployment configuration; these are only fallbacks.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		NamespaceInput:       15 * time.Minute,
		NamespaceToolArgs:    15 * time.Minute,
		NamespaceToolResults: 15 * time.Minute,
		NamespaceOutput:      15 * time.Minute,
	}
}

// Window returns the retention window for a namespace, falling back to the
// longest configured window for unknown namespaces.
func (rc RetentionConfig) Window(ns Namespace) time.Duration {
	if d, ok := rc[ns]; ok {
		return d
	}
	var max time.Duration
	for _, d := range rc {
		if d > max {
			max = d
		}
	}
	return max
}
