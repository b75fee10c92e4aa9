// Package askcache deduplicates ask responses: a TTL-bounded in-process map
// keyed by the normalized question, the active dataset id, and the sorted
// clarifications. Entries store the serialized response so repeated hits are
// byte-identical, and bytes are copied on both write and read.
package askcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
	payload   []byte
}

// Cache is a process-local response cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New builds an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func normalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(question))), " ")
}

type keyPayload struct {
	Clarifications map[string]string `json:"clarifications"`
	DatasetID      string            `json:"dataset_id"`
	Question       string            `json:"question"`
}

// BuildKey derives the deterministic cache key: SHA-256 hex of the canonical
// JSON of normalized question, dataset id, and clarifications (maps marshal
// with sorted keys).
func BuildKey(question, datasetID string, clarifications map[string]string) string {
	if clarifications == nil {
		clarifications = map[string]string{}
	}
	encoded, err := json.Marshal(keyPayload{
		Clarifications: clarifications,
		DatasetID:      datasetID,
		Question:       normalizeQuestion(question),
	})
	if err != nil {
		// keyPayload contains only marshalable types.
		panic(err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached payload, evicting lazily on expiry.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !cached.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	payload := make([]byte, len(cached.payload))
	copy(payload, cached.payload)
	return payload, true
}

// Set stores a copy of payload under key for ttl. A non-positive ttl
// disables caching.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		expiresAt: c.now().Add(ttl),
		payload:   stored,
	}
}

// Clear drops every entry; used by tests.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}
