package vault

import (
	"context"
	"sync"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
)

// originKey is the idempotency key for Upsert.
type originKey struct {
	ns       Namespace
	typ      entity.Type
	original string
}

// sessionShard holds one session's mappings. Writes are serialized by the
// shard mutex; reads proceed concurrently and re-check under the write lock
// before inserting (upsert-or-fetch-existing).
type sessionShard struct {
	mu            sync.RWMutex
	byOriginal    map[originKey]*MappingRecord
	byPlaceholder map[string][]*MappingRecord
}

func newSessionShard() *sessionShard {
	return &sessionShard{
		byOriginal:    make(map[originKey]*MappingRecord),
		byPlaceholder: make(map[string][]*MappingRecord),
	}
}

// MemoryStore is the in-memory vault. Sessions are partitioned into
// independent shards so unrelated sessions never contend.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*sessionShard
	retention RetentionConfig
	clock     func() time.Time
}

// NewMemoryStore creates an in-memory vault with the given retention
// windows. A nil config uses DefaultRetention.
func NewMemoryStore(retention RetentionConfig) *MemoryStore {
	if retention == nil {
		retention = DefaultRetention()
	}
	return &MemoryStore{
		sessions:  make(map[string]*sessionShard),
		retention: retention,
		clock:     time.Now,
	}
}

func (s *MemoryStore) shard(session string, create bool) *sessionShard {
	s.mu.RLock()
	sh := s.sessions[session]
	s.mu.RUnlock()
	if sh != nil || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh = s.sessions[session]; sh == nil {
		sh = newSessionShard()
		s.sessions[session] = sh
	}
	return sh
}

// expired reports whether a record's namespace retention window has elapsed.
func (s *MemoryStore) expired(rec *MappingRecord, now time.Time) bool {
	return now.Sub(rec.CreatedAt) > s.retention.Window(rec.Namespace)
}

// Upsert records a mapping, returning the existing placeholder when the
// same (namespace, entity type, original) was already minted for the
// session.
func (s *MemoryStore) Upsert(ctx context.Context, rec MappingRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sh := s.shard(rec.Session, true)
	key := originKey{ns: rec.Namespace, typ: rec.EntityType, original: rec.Original}

	// Fast path: concurrent readers may observe an already-committed write.
	sh.mu.RLock()
	if existing, ok := sh.byOriginal[key]; ok {
		sh.mu.RUnlock()
		return existing.Placeholder, nil
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Re-check: an in-flight write may have committed between the read
	// unlock and the write lock. Fetch it rather than duplicate.
	if existing, ok := sh.byOriginal[key]; ok {
		return existing.Placeholder, nil
	}

	for _, other := range sh.byPlaceholder[rec.Placeholder] {
		if other.EntityType == rec.EntityType && other.Original != rec.Original {
			return "", ErrPlaceholderTaken
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}
	stored := rec
	sh.byOriginal[key] = &stored
	sh.byPlaceholder[rec.Placeholder] = append(sh.byPlaceholder[rec.Placeholder], &stored)
	return rec.Placeholder, nil
}

// Resolve searches the namespaces in order and returns the first live
// match. Records past their retention window are unreachable even before
// the sweeper removes them.
func (s *MemoryStore) Resolve(ctx context.Context, session, placeholder string, order []Namespace) (*Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(session, false)
	if sh == nil {
		return nil, ErrNotFound
	}

	now := s.clock()
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	candidates := sh.byPlaceholder[placeholder]
	for _, ns := range order {
		for _, rec := range candidates {
			if rec.Namespace != ns || s.expired(rec, now) {
				continue
			}
			return &Resolution{
				Original:   rec.Original,
				Namespace:  rec.Namespace,
				EntityType: rec.EntityType,
			}, nil
		}
	}
	return nil, ErrNotFound
}

// Purge deletes the whole session, or only the given namespaces.
func (s *MemoryStore) Purge(ctx context.Context, session string, namespaces ...Namespace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(namespaces) == 0 {
		s.mu.Lock()
		delete(s.sessions, session)
		s.mu.Unlock()
		return nil
	}

	sh := s.shard(session, false)
	if sh == nil {
		return nil
	}

	drop := make(map[Namespace]bool, len(namespaces))
	for _, ns := range namespaces {
		drop[ns] = true
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	for key, rec := range sh.byOriginal {
		if !drop[rec.Namespace] {
			continue
		}
		delete(sh.byOriginal, key)
		sh.byPlaceholder[rec.Placeholder] = removeRecord(sh.byPlaceholder[rec.Placeholder], rec)
		if len(sh.byPlaceholder[rec.Placeholder]) == 0 {
			delete(sh.byPlaceholder, rec.Placeholder)
		}
	}
	return nil
}

// Sweep removes every expired record and drops empty sessions.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for session, sh := range s.sessions {
		sh.mu.Lock()
		for key, rec := range sh.byOriginal {
			if !s.expired(rec, now) {
				continue
			}
			delete(sh.byOriginal, key)
			sh.byPlaceholder[rec.Placeholder] = removeRecord(sh.byPlaceholder[rec.Placeholder], rec)
			if len(sh.byPlaceholder[rec.Placeholder]) == 0 {
				delete(sh.byPlaceholder, rec.Placeholder)
			}
			removed++
		}
		empty := len(sh.byOriginal) == 0
		sh.mu.Unlock()
		if empty {
			delete(s.sessions, session)
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

func removeRecord(recs []*MappingRecord, target *MappingRecord) []*MappingRecord {
	for i, r := range recs {
		if r == target {
			return append(recs[:i], recs[i+1:]...)
		}
	}
	return recs
}

var _ Store = (*MemoryStore)(nil)
