// Package memory provides in-process implementations of the store ports.
// They back tests and single-node development runs where PostgreSQL and
// Redis are not available. All types are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"math"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/call"
	"github.com/voxloop-ai/voxloop/internal/store"
)

// Compile-time interface checks.
var (
	_ store.CallRepository  = (*CallRepository)(nil)
	_ store.AgentRepository = (*AgentRepository)(nil)
	_ store.TranscriptStore = (*TranscriptStore)(nil)
	_ store.Cache           = (*Cache)(nil)
	_ store.KnowledgeStore  = (*KnowledgeStore)(nil)
)

// CallRepository keeps call records in a map keyed by call ID.
type CallRepository struct {
	mu    sync.RWMutex
	calls map[string]*call.Call
}

// NewCallRepository creates an empty in-memory call repository.
func NewCallRepository() *CallRepository {
	return &CallRepository{calls: map[string]*call.Call{}}
}

func (r *CallRepository) Save(ctx context.Context, c *call.Call) error {
	if c.ID == "" {
		return fmt.Errorf("memory: save call: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	return nil
}

func (r *CallRepository) GetByID(ctx context.Context, id string) (*call.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return nil, fmt.Errorf("memory: call %s: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (r *CallRepository) List(ctx context.Context, opts store.ListOpts) ([]*call.Call, int, error) {
	r.mu.RLock()
	var all []*call.Call
	for _, c := range r.calls {
		if opts.ClientType != "" && c.ClientType != opts.ClientType {
			continue
		}
		all = append(all, c)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].StartTime.After(all[j].StartTime)
	})

	total := len(all)
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *CallRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[id]; !ok {
		return fmt.Errorf("memory: call %s: %w", id, store.ErrNotFound)
	}
	delete(r.calls, id)
	return nil
}

func (r *CallRepository) Clear(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.calls)
	r.calls = map[string]*call.Call{}
	return n, nil
}

// AgentRepository keeps agent definitions in maps keyed by UUID and name.
type AgentRepository struct {
	mu     sync.RWMutex
	byUUID map[string]*agent.Agent
	byName map[string]string // name → uuid
}

// NewAgentRepository creates an empty in-memory agent repository.
func NewAgentRepository() *AgentRepository {
	return &AgentRepository{
		byUUID: map[string]*agent.Agent{},
		byName: map[string]string{},
	}
}

// Seed inserts agents that do not yet exist by name. Used at startup to load
// YAML-defined agents without clobbering ones edited over the API.
func (r *AgentRepository) Seed(ctx context.Context, agents []*agent.Agent) error {
	for _, a := range agents {
		r.mu.RLock()
		_, exists := r.byName[a.Name]
		r.mu.RUnlock()
		if exists {
			continue
		}
		if _, err := r.Create(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *AgentRepository) Create(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[a.Name]; ok {
		return nil, fmt.Errorf("memory: agent name %q already exists: %w", a.Name, store.ErrConflict)
	}
	c := a.Clone()
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Active {
		r.deactivateAllLocked()
	}
	r.byUUID[c.UUID] = c
	r.byName[c.Name] = c.UUID
	return c.Clone(), nil
}

func (r *AgentRepository) GetByUUID(ctx context.Context, id string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("memory: agent %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (r *AgentRepository) GetByName(ctx context.Context, name string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("memory: agent %q: %w", name, store.ErrNotFound)
	}
	return r.byUUID[id].Clone(), nil
}

func (r *AgentRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*agent.Agent, 0, len(r.byUUID))
	for _, a := range r.byUUID {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *AgentRepository) Update(ctx context.Context, a *agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byUUID[a.UUID]
	if !ok {
		return fmt.Errorf("memory: agent %s: %w", a.UUID, store.ErrNotFound)
	}
	if a.Name != old.Name {
		if _, taken := r.byName[a.Name]; taken {
			return fmt.Errorf("memory: agent name %q already exists: %w", a.Name, store.ErrConflict)
		}
		delete(r.byName, old.Name)
		r.byName[a.Name] = a.UUID
	}
	c := a.Clone()
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now()
	if c.Active && !old.Active {
		r.deactivateAllLocked()
		c.Active = true
	}
	r.byUUID[a.UUID] = c
	return nil
}

func (r *AgentRepository) SetActive(ctx context.Context, id string) (*agent.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("memory: agent %s: %w", id, store.ErrNotFound)
	}
	r.deactivateAllLocked()
	a.Active = true
	a.UpdatedAt = time.Now()
	return a.Clone(), nil
}

func (r *AgentRepository) GetActive(ctx context.Context) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byUUID {
		if a.Active {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("memory: no active agent: %w", store.ErrNotFound)
}

func (r *AgentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byUUID[id]
	if !ok {
		return fmt.Errorf("memory: agent %s: %w", id, store.ErrNotFound)
	}
	delete(r.byName, a.Name)
	delete(r.byUUID, id)
	return nil
}

func (r *AgentRepository) deactivateAllLocked() {
	for _, a := range r.byUUID {
		a.Active = false
	}
}

// TranscriptStore appends transcript lines to an in-memory slice.
type TranscriptStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []store.TranscriptEntry
}

// NewTranscriptStore creates an empty in-memory transcript store.
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{}
}

func (t *TranscriptStore) Append(ctx context.Context, e store.TranscriptEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	e.ID = t.nextID
	t.entries = append(t.entries, e)
	return nil
}

func (t *TranscriptStore) ListByCall(ctx context.Context, callID string) ([]store.TranscriptEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []store.TranscriptEntry
	for _, e := range t.entries {
		if e.CallID == callID {
			out = append(out, e)
		}
	}
	return out, nil
}

// cacheItem is a value with its expiry.
type cacheItem struct {
	value   string
	expires time.Time
}

// Cache is a TTL map. Expired entries are evicted lazily on Get.
type Cache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
}

// NewCache creates an empty in-memory cache.
func NewCache() *Cache {
	return &Cache{items: map[string]cacheItem{}}
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", false
	}
	return item.value, true
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	item := cacheItem{value: value}
	if ttl > 0 {
		item.expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
}

func (c *Cache) Invalidate(ctx context.Context, pattern string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.items, key)
		}
	}
}

func (c *Cache) Close() error { return nil }

// KnowledgeStore performs brute-force cosine similarity over an in-memory
// snippet list. Fine for tests and small agents; production uses pgvector.
type KnowledgeStore struct {
	mu       sync.RWMutex
	nextID   int64
	snippets []store.KnowledgeSnippet
}

// NewKnowledgeStore creates an empty in-memory knowledge store.
func NewKnowledgeStore() *KnowledgeStore {
	return &KnowledgeStore{}
}

func (k *KnowledgeStore) Add(ctx context.Context, s store.KnowledgeSnippet) error {
	if len(s.Embedding) == 0 {
		return fmt.Errorf("memory: knowledge snippet needs an embedding")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextID++
	s.ID = k.nextID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	k.snippets = append(k.snippets, s)
	return nil
}

func (k *KnowledgeStore) Search(ctx context.Context, agentUUID string, embedding []float32, limit int) ([]store.KnowledgeSnippet, error) {
	if limit <= 0 {
		limit = 5
	}
	k.mu.RLock()
	var scored []store.KnowledgeSnippet
	for _, s := range k.snippets {
		if s.AgentUUID != agentUUID {
			continue
		}
		s.Score = cosine(embedding, s.Embedding)
		scored = append(scored, s)
	}
	k.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (k *KnowledgeStore) DeleteByAgent(ctx context.Context, agentUUID string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	kept := k.snippets[:0]
	removed := 0
	for _, s := range k.snippets {
		if s.AgentUUID == agentUUID {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	k.snippets = kept
	return removed, nil
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or the dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
