package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single round trip when the caller did not pick one.
const DefaultTimeout = 5 * time.Second

// Repository is the Postgres implementation of Store.  Every node is a row of
// the documents table keyed by (parent, key); a collection is the set of rows
// sharing a parent.
type Repository struct {
	DB      *sql.DB
	Timeout time.Duration
	Clock   *Clock
}

// NewRepository constructs a new Repository from an existing sql.DB.
// The caller is responsible for managing the DB connection lifecycle.
func NewRepository(db *sql.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Repository{DB: db, Timeout: timeout, Clock: NewClock()}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.Timeout)
}

// Get returns the document at path, or the collection of its children
// rendered as a JSON object keyed by child key.
func (r *Repository) Get(ctx context.Context, path string) (json.RawMessage, error) {
	parent, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var value []byte
	err = r.DB.QueryRowContext(ctx,
		`SELECT value FROM documents WHERE parent = $1 AND key = $2`,
		parent, key,
	).Scan(&value)
	if err == nil {
		return json.RawMessage(value), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}

	children, err := r.children(ctx, `SELECT key, value FROM documents WHERE parent = $1 ORDER BY key`, cleanParent(parent, key))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if len(children) == 0 {
		return nil, nil
	}
	obj := make(map[string]json.RawMessage, len(children))
	for _, c := range children {
		obj[c.Key] = c.Value
	}
	return json.Marshal(obj)
}

// Set replaces the document at path.
func (r *Repository) Set(ctx context.Context, path string, value any) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}
	doc, err := encodeDocument(value, r.Clock)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO documents (parent, key, value)
         VALUES ($1, $2, $3::jsonb)
         ON CONFLICT (parent, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		parent, key, string(doc),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

// Update merges fields into the top level of the document at path, creating
// it when missing.
func (r *Repository) Update(ctx context.Context, path string, fields map[string]any) error {
	parent, key, err := splitPath(path)
	if err != nil {
		return err
	}
	doc, err := encodeDocument(fields, r.Clock)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO documents (parent, key, value)
         VALUES ($1, $2, $3::jsonb)
         ON CONFLICT (parent, key) DO UPDATE SET value = documents.value || EXCLUDED.value, updated_at = NOW()`,
		parent, key, string(doc),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", path, err)
	}
	return nil
}

// Push adds value as a new child of the collection at path and returns the
// generated key.
func (r *Repository) Push(ctx context.Context, path string, value any) (string, error) {
	collection, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	key, err := newPushKey()
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	doc, err := encodeDocument(value, r.Clock)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO documents (parent, key, value) VALUES ($1, $2, $3::jsonb)`,
		collection, key, string(doc),
	)
	if err != nil {
		return "", fmt.Errorf("push %s: %w", path, err)
	}
	return key, nil
}

// QueryEqual returns the children of path whose top-level field equals value,
// ordered by key.
func (r *Repository) QueryEqual(ctx context.Context, path, field, value string) ([]Child, error) {
	collection, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	children, err := r.children(ctx,
		`SELECT key, value FROM documents WHERE parent = $1 AND value->>$2 = $3 ORDER BY key`,
		collection, field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s where %s: %w", path, field, err)
	}
	return children, nil
}

func (r *Repository) children(ctx context.Context, query string, args ...any) ([]Child, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Child
	for rows.Next() {
		var c Child
		var value []byte
		if err := rows.Scan(&c.Key, &value); err != nil {
			return nil, err
		}
		c.Value = json.RawMessage(value)
		out = append(out, c)
	}
	return out, rows.Err()
}

func cleanParent(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "/" + key
}
