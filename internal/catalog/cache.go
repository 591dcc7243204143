package catalog

import (
	"encoding/json"
	"sort"
	"sync"
)

// snapshot is the fully-built state swapped in atomically by a refresh.
// After the swap only record embeddings change, through setEmbedding.
type snapshot struct {
	byKey map[Key]Record
	// byServer indexes records by server_id for fast per-server listing
	// (GET /{server_id}) without a full scan.
	byServer map[string][]Key
	// components holds each server's raw OpenAPI component schemas, by
	// schema name, as discovered, for merging into the emitted
	// document's components.schemas.
	components map[string]map[string]json.RawMessage
}

func newSnapshot() *snapshot {
	return &snapshot{
		byKey:      map[Key]Record{},
		byServer:   map[string][]Key{},
		components: map[string]map[string]json.RawMessage{},
	}
}

// Cache holds the current tool catalog behind a single RWMutex. Readers
// never block each other; a refresh holds the write lock only for the
// O(1) pointer swap.
type Cache struct {
	mu        sync.RWMutex
	current   *snapshot
	populated bool
}

func NewCache() *Cache {
	return &Cache{current: newSnapshot()}
}

// Populated reports whether at least one refresh has completed.
func (c *Cache) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// Get returns the record for key, if cached.
func (c *Cache) Get(key Key) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.current.byKey[key]
	return r, ok
}

// ForServer returns every cached record for serverID.
func (c *Cache) ForServer(serverID string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := c.current.byServer[serverID]
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.current.byKey[k])
	}
	return out
}

// All returns every cached record, in no particular order.
func (c *Cache) All() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.current.byKey))
	for _, r := range c.current.byKey {
		out = append(out, r)
	}
	return out
}

// Size returns the number of cached records (for metrics).
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.current.byKey)
}

// ComponentsForServers merges the component schemas contributed by each
// of serverIDs, deduplicated by name; a name collision across servers is
// resolved by prefixing the later occurrence with its server_id.
// Iteration order is the sorted server_id order so prefixing is
// deterministic across requests.
func (c *Cache) ComponentsForServers(serverIDs []string) map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sorted := make([]string, len(serverIDs))
	copy(sorted, serverIDs)
	sort.Strings(sorted)

	out := make(map[string]json.RawMessage)
	for _, serverID := range sorted {
		for name, schema := range c.current.components[serverID] {
			key := name
			if _, collides := out[key]; collides {
				key = serverID + "_" + name
			}
			out[key] = schema
		}
	}
	return out
}

// merger accumulates per-server discovery results into a new snapshot
// before the atomic swap, starting from the prior snapshot so that
// servers whose discovery failed this round keep their old records.
type merger struct {
	base *snapshot
	next *snapshot
}

func newMerger(base *snapshot) *merger {
	return &merger{base: base, next: newSnapshot()}
}

// keepPrevious copies serverID's existing records into the new
// snapshot unchanged.
func (m *merger) keepPrevious(serverID string) {
	for _, k := range m.base.byServer[serverID] {
		r := m.base.byKey[k]
		m.next.byKey[k] = r
		m.next.byServer[serverID] = append(m.next.byServer[serverID], k)
	}
	if comps, ok := m.base.components[serverID]; ok {
		m.next.components[serverID] = comps
	}
}

// replace installs a freshly discovered record set for serverID,
// discarding whatever that server had before, including the empty set
// for an upstream that advertised nothing.
func (m *merger) replace(serverID string, result DiscoveryResult) {
	keys := make([]Key, 0, len(result.Records))
	for _, r := range result.Records {
		m.next.byKey[r.Key] = r
		keys = append(keys, r.Key)
	}
	m.next.byServer[serverID] = keys
	if len(result.ComponentSchemas) > 0 {
		m.next.components[serverID] = result.ComponentSchemas
	}
}

// commit atomically installs the merged snapshot as current.
func (c *Cache) commit(m *merger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = m.next
	c.populated = true
}

// setEmbedding updates a single record's embedding in place on the
// *current* snapshot. Called after the cache swap, so it never races a
// concurrent refresh's compile phase; it takes the write lock briefly.
func (c *Cache) setEmbedding(key Key, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.current.byKey[key]
	if !ok {
		return
	}
	r.Embedding = embedding
	c.current.byKey[key] = r
}
