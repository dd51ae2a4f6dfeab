package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type memCollection struct {
	schema  []byte
	records map[string]json.RawMessage
	order   []string
}

// MemoryStore keeps collections in process. It is the default backend for a
// relay without cloud credentials, and what the tests run against.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	guard       SchemaGuard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryStore) CreateCollection(_ context.Context, name string, schema []byte) error {
	if _, err := m.guard.Compile(schema); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		c.schema = append([]byte(nil), schema...)
		return nil
	}
	m.collections[name] = &memCollection{
		schema:  append([]byte(nil), schema...),
		records: make(map[string]json.RawMessage),
	}
	return nil
}

func (m *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, name string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err := m.guard.Check(c.schema, records); err != nil {
		return err
	}
	for _, r := range records {
		if _, seen := c.records[r.ID]; !seen {
			c.order = append(c.order, r.ID)
		}
		c.records[r.ID] = append(json.RawMessage(nil), r.Payload...)
	}
	return nil
}

func (m *MemoryStore) Scroll(_ context.Context, name string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if limit <= 0 {
		return []Record{}, nil
	}
	out := make([]Record, 0, min(limit, len(c.order)))
	for _, id := range c.order {
		if len(out) >= limit {
			break
		}
		out = append(out, Record{ID: id, Payload: append(json.RawMessage(nil), c.records[id]...)})
	}
	return out, nil
}

// Len reports the number of records in name, zero if it does not exist.
func (m *MemoryStore) Len(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.records)
	}
	return 0
}
