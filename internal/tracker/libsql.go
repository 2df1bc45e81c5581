package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/castofly/remedy/pkg/schema"
)

// LibSQLTracker implements ItemTracker over a local libSQL database. It acts
// as the system of record in self-hosted deployments where no remote tracker
// exists. Push is not supported; Watch returns a no-op cancel.
type LibSQLTracker struct {
	db *sql.DB
}

// NewLibSQLTracker opens the database at the given path, e.g.
// "file:/var/lib/remedy/items.db".
func NewLibSQLTracker(dbPath string) (*LibSQLTracker, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows, so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLTracker{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (t *LibSQLTracker) DB() *sql.DB { return t.db }

// Close closes the database.
func (t *LibSQLTracker) Close() error { return t.db.Close() }

// Migrate applies pending schema migrations.
func (t *LibSQLTracker) Migrate(ctx context.Context) error {
	return runMigrations(ctx, t.db)
}

const itemColumns = `id, title, description, status, priority, labels, reporter, raw, created_at, updated_at`

func (t *LibSQLTracker) GetItem(ctx context.Context, id string) (*schema.WorkItem, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTracker, "get item %q: %s", id, err.Error()).WithCause(err)
	}
	return item, nil
}

func (t *LibSQLTracker) ListByStatus(ctx context.Context, status schema.ItemStatus) ([]*schema.WorkItem, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTracker, "list items by status %q: %s", status, err.Error()).WithCause(err)
	}
	defer rows.Close()

	var items []*schema.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeTracker, "scan item: %s", err.Error()).WithCause(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTracker, "iterate items: %s", err.Error()).WithCause(err)
	}
	return items, nil
}

// UpdateStatus is idempotent: setting an item to its current status succeeds.
func (t *LibSQLTracker) UpdateStatus(ctx context.Context, id string, status schema.ItemStatus) error {
	res, err := t.db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "update item %q status: %s", id, err.Error()).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "update item %q status: %s", id, err.Error()).WithCause(err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	return nil
}

func (t *LibSQLTracker) AddComment(ctx context.Context, id, body string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO item_comments (item_id, body) VALUES (?, ?)`, id, body)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "comment on item %q: %s", id, err.Error()).WithCause(err)
	}
	return nil
}

func (t *LibSQLTracker) SetProperty(ctx context.Context, id, key, value string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO item_properties (item_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(item_id, key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`,
		id, key, value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "set property %q on item %q: %s", key, id, err.Error()).WithCause(err)
	}
	return nil
}

// Watch is a no-op: libSQL has no change feed. Intake relies on polling.
func (t *LibSQLTracker) Watch(ctx context.Context, fn WatchFunc) (func(), error) {
	return func() {}, nil
}

// UpsertItem inserts or refreshes an item row. Used by ingest tooling and
// tests to seed the local mirror.
func (t *LibSQLTracker) UpsertItem(ctx context.Context, item *schema.WorkItem) error {
	labels, err := nullableJSON(item.Labels)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "marshal labels: %s", err.Error()).WithCause(err)
	}
	var raw any
	if len(item.Raw) > 0 {
		raw = string(item.Raw)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO items (id, title, description, status, priority, labels, reporter, raw, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, description=excluded.description, status=excluded.status,
		   priority=excluded.priority, labels=excluded.labels, reporter=excluded.reporter,
		   raw=excluded.raw, updated_at=excluded.updated_at`,
		item.ID, item.Title, item.Description, string(item.Status), item.Priority,
		labels, item.Reporter, raw, timeOrNow(item.CreatedAt), timeOrNow(item.UpdatedAt))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTracker, "upsert item %q: %s", item.ID, err.Error()).WithCause(err)
	}
	return nil
}

// Comments returns the bodies of all comments on an item, oldest first.
func (t *LibSQLTracker) Comments(ctx context.Context, id string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT body FROM item_comments WHERE item_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTracker, "list comments for %q: %s", id, err.Error()).WithCause(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*schema.WorkItem, error) {
	item := &schema.WorkItem{}
	var status string
	var labels, raw sql.NullString
	err := row.Scan(&item.ID, &item.Title, &item.Description, &status, &item.Priority,
		&labels, &item.Reporter, &raw, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Status = schema.ItemStatus(status)
	if labels.Valid && labels.String != "" {
		if err := json.Unmarshal([]byte(labels.String), &item.Labels); err != nil {
			return nil, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	if raw.Valid && raw.String != "" {
		item.Raw = json.RawMessage(raw.String)
	}
	return item, nil
}

func nullableJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ ItemTracker = (*LibSQLTracker)(nil)
