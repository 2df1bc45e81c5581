package tracker

import (
	"context"

	"github.com/castofly/remedy/pkg/schema"
)

// WatchFunc is invoked for each item change delivered by a tracker's push
// feed. Handlers must be safe for concurrent invocation.
type WatchFunc func(ctx context.Context, item *schema.WorkItem)

// ItemTracker is the external system of record for work items. The engine
// reads items, moves their status, and leaves comments; it never creates or
// deletes them.
type ItemTracker interface {
	// GetItem fetches a fresh snapshot of one item.
	GetItem(ctx context.Context, id string) (*schema.WorkItem, error)

	// ListByStatus returns all items currently in the given status.
	ListByStatus(ctx context.Context, status schema.ItemStatus) ([]*schema.WorkItem, error)

	// UpdateStatus moves an item to a new status. Implementations must be
	// idempotent: repeating an update is harmless.
	UpdateStatus(ctx context.Context, id string, status schema.ItemStatus) error

	// AddComment attaches a comment to an item.
	AddComment(ctx context.Context, id, body string) error

	// SetProperty sets an arbitrary named property on an item.
	SetProperty(ctx context.Context, id, key, value string) error

	// Watch registers a handler for item changes. Push support is
	// best-effort: trackers without it return a no-op cancel and never
	// invoke the handler, leaving intake to the polling feed.
	Watch(ctx context.Context, fn WatchFunc) (cancel func(), err error)
}
