package db

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store with the same node layout as
// Repository.  It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]map[string]json.RawMessage
	Clock *Clock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[string]map[string]json.RawMessage), Clock: NewClock()}
}

func (m *MemoryStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	parent, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.nodes[parent][key]; ok {
		return cloneRaw(v), nil
	}
	children := m.nodes[cleanParent(parent, key)]
	if len(children) == 0 {
		return nil, nil
	}
	return json.Marshal(children)
}

func (m *MemoryStore) Set(_ context.Context, path string, value any) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}
	doc, err := encodeDocument(value, m.Clock)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(parent, key, doc)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, path string, fields map[string]any) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}
	patch, err := encodeDocument(fields, m.Clock)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := map[string]json.RawMessage{}
	if existing, ok := m.nodes[parent][key]; ok {
		// A non-object document is replaced, matching jsonb || semantics
		// closely enough for the shapes this service writes.
		_ = json.Unmarshal(existing, &merged)
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(patch, &extra); err != nil {
		return err
	}
	for k, v := range extra {
		merged[k] = v
	}
	doc, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	m.put(parent, key, doc)
	return nil
}

func (m *MemoryStore) Push(_ context.Context, path string, value any) (string, error) {
	collection, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	key, err := newPushKey()
	if err != nil {
		return "", err
	}
	doc, err := encodeDocument(value, m.Clock)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(collection, key, doc)
	return key, nil
}

func (m *MemoryStore) QueryEqual(_ context.Context, path, field, value string) ([]Child, error) {
	collection, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Child
	for k, v := range m.nodes[collection] {
		var fields map[string]json.RawMessage
		if json.Unmarshal(v, &fields) != nil {
			continue
		}
		var s string
		if json.Unmarshal(fields[field], &s) != nil || s != value {
			continue
		}
		out = append(out, Child{Key: k, Value: cloneRaw(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) put(parent, key string, doc json.RawMessage) {
	if m.nodes[parent] == nil {
		m.nodes[parent] = make(map[string]json.RawMessage)
	}
	m.nodes[parent][key] = doc
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
