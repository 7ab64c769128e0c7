package guard

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ToolSchema declares a tool's input contract: the argument keys it
// accepts, and where to reach it. Keys outside the contract are stripped
// before invocation so internal tracking fields never leave the process.
type ToolSchema struct {
	Name     string   `json:"name"`
	ArgKeys  []string `json:"arg_keys"`
	Endpoint string   `json:"endpoint"`
}

// SchemaStore abstracts schema persistence behind the registry.
type SchemaStore interface {
	// LookupTool returns the schema for a tool name, or nil when the tool
	// is not registered.
	LookupTool(ctx context.Context, name string) (*ToolSchema, error)

	// SaveTool adds or replaces a tool schema.
	SaveTool(ctx context.Context, schema ToolSchema) error

	// ListTools returns the registered tool names.
	ListTools(ctx context.Context) ([]string, error)
}

// Registry serves tool schemas from a backing store through a TTL cache.
// Lookups on the tool-call hot path hit the cache; expired entries are
// served stale while one goroutine refreshes in the background.
type Registry struct {
	store  SchemaStore
	cache  *schemaCache
	logger *zap.Logger
}

// NewRegistry creates a registry over the given store. A zero TTL uses a
// 60-second default.
func NewRegistry(store SchemaStore, cacheTTL time.Duration, logger *zap.Logger) *Registry {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &Registry{
		store:  store,
		cache:  newSchemaCache(cacheTTL),
		logger: logger,
	}
}

// Lookup returns the schema for a tool name, or nil when unknown.
// Unknown tools are negatively cached so repeated lookups for a bad name
// do not hammer the store.
func (r *Registry) Lookup(ctx context.Context, name string) (*ToolSchema, error) {
	res := r.cache.Get(name)
	if res.Hit {
		if res.NeedsRefresh {
			go r.refreshInBackground(name)
		}
		return res.Schema, nil
	}

	schema, err := r.store.LookupTool(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache.Set(name, schema)
	return schema, nil
}

// Register adds or replaces a tool schema, write-through to the cache.
func (r *Registry) Register(ctx context.Context, schema ToolSchema) error {
	if err := r.store.SaveTool(ctx, schema); err != nil {
		return err
	}
	r.cache.Set(schema.Name, &schema)
	return nil
}

// Names returns the registered tool names from the store.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	return r.store.ListTools(ctx)
}

func (r *Registry) refreshInBackground(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema, err := r.store.LookupTool(ctx, name)
	if err != nil {
		r.logger.Warn("background tool schema refresh failed",
			zap.String("tool", name),
			zap.Error(err),
		)
		return
	}
	r.cache.Set(name, schema)
}

// schemaCache is a TTL cache with stale-while-revalidate. sync.Map keeps
// reads lock-free on the tool-call hot path; a nil schema is a negative
// entry for an unknown tool.
type schemaCache struct {
	store sync.Map // map[string]*schemaCacheEntry
	ttl   time.Duration
}

type schemaCacheEntry struct {
	schema     *ToolSchema
	expiresAt  time.Time
	refreshing atomic.Bool
}

// schemaCacheResult is the outcome of a cache lookup.
type schemaCacheResult struct {
	Schema       *ToolSchema // nil on miss or negative entry
	Hit          bool
	NeedsRefresh bool // expired entry; caller should refresh in background
}

func newSchemaCache(ttl time.Duration) *schemaCache {
	return &schemaCache{ttl: ttl}
}

// Get performs a non-blocking lookup, returning stale entries with
// NeedsRefresh set for exactly one caller.
func (c *schemaCache) Get(name string) schemaCacheResult {
	val, ok := c.store.Load(name)
	if !ok {
		return schemaCacheResult{}
	}

	entry := val.(*schemaCacheEntry)
	if time.Now().Before(entry.expiresAt) {
		return schemaCacheResult{Schema: entry.schema, Hit: true}
	}

	// Stale hit; the CAS picks the one goroutine that refreshes.
	return schemaCacheResult{
		Schema:       entry.schema,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a schema with a fresh TTL. A nil schema records a negative
// entry.
func (c *schemaCache) Set(name string, schema *ToolSchema) {
	c.store.Store(name, &schemaCacheEntry{
		schema:    schema,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// MemorySchemaStore is the in-process SchemaStore used when no registry
// DSN is configured.
type MemorySchemaStore struct {
	mu    sync.RWMutex
	tools map[string]ToolSchema
}

// NewMemorySchemaStore creates an empty in-memory store.
func NewMemorySchemaStore() *MemorySchemaStore {
	return &MemorySchemaStore{tools: make(map[string]ToolSchema)}
}

func (s *MemorySchemaStore) LookupTool(ctx context.Context, name string) (*ToolSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.tools[name]
	if !ok {
		return nil, nil
	}
	return &schema, nil
}

func (s *MemorySchemaStore) SaveTool(ctx context.Context, schema ToolSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[schema.Name] = schema
	return nil
}

func (s *MemorySchemaStore) ListTools(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var _ SchemaStore = (*MemorySchemaStore)(nil)
