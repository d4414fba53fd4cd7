package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for empty paths or paths with empty segments.
var ErrInvalidPath = errors.New("db: invalid path")

// Store is a hierarchical JSON document space addressed by slash separated
// paths such as "users/<uid>".  A node is either a document written with
// Set/Update or a collection whose children were written below it.
//
// Get returns nil (and no error) when nothing exists at the path.  Children
// returned by QueryEqual are ordered by key so that first-match semantics are
// deterministic across implementations.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	QueryEqual(ctx context.Context, path, field, value string) ([]Child, error)
}

// Child is one entry of a collection.
type Child struct {
	Key   string
	Value json.RawMessage
}

// ServerTimestamp is a placeholder that stores replace with the current
// server time in milliseconds when it appears as a top-level field value.
var ServerTimestamp = serverValue{Kind: "timestamp"}

type serverValue struct {
	Kind string `json:".sv"`
}

// Join builds a store path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func splitPath(path string) (parent, key string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return "", "", ErrInvalidPath
		}
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path, nil
	}
	return path[:i], path[i+1:], nil
}

func cleanPath(path string) (string, error) {
	if _, _, err := splitPath(path); err != nil {
		return "", err
	}
	return strings.Trim(path, "/"), nil
}

// encodeDocument marshals value, replacing top-level server values using
// clock.  The result is what gets persisted.
func encodeDocument(value any, clock *Clock) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		// Not an object: nothing to resolve.
		return raw, nil
	}
	changed := false
	for k, v := range fields {
		var sv serverValue
		if json.Unmarshal(v, &sv) == nil && sv.Kind == ServerTimestamp.Kind {
			ts, _ := json.Marshal(clock.Now())
			fields[k] = ts
			changed = true
		}
	}
	if !changed {
		return raw, nil
	}
	return json.Marshal(fields)
}

// newPushKey returns a time-ordered key so that lexicographic key order
// matches insertion order.
func newPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Clock hands out strictly increasing millisecond timestamps within one
// process.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewClock() *Clock { return &Clock{now: time.Now} }

func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.now().UnixMilli()
	if ms <= c.last {
		ms = c.last + 1
	}
	c.last = ms
	return ms
}
