package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/castofly/remedy/pkg/schema"
)

// MemoryTracker is an in-memory ItemTracker with push support. It backs tests
// and single-process setups where item state does not need to survive
// restarts.
type MemoryTracker struct {
	mu         sync.RWMutex
	items      map[string]*schema.WorkItem
	comments   map[string][]string
	properties map[string]map[string]string

	watchMu  sync.Mutex
	watchers map[int]WatchFunc
	nextID   int
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		items:      make(map[string]*schema.WorkItem),
		comments:   make(map[string][]string),
		properties: make(map[string]map[string]string),
		watchers:   make(map[int]WatchFunc),
	}
}

// Seed adds or replaces an item and notifies watchers.
func (t *MemoryTracker) Seed(ctx context.Context, item *schema.WorkItem) {
	cp := *item
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = time.Now()

	t.mu.Lock()
	t.items[cp.ID] = &cp
	t.mu.Unlock()

	t.notify(ctx, &cp)
}

func (t *MemoryTracker) GetItem(ctx context.Context, id string) (*schema.WorkItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	cp := *item
	return &cp, nil
}

func (t *MemoryTracker) ListByStatus(ctx context.Context, status schema.ItemStatus) ([]*schema.WorkItem, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*schema.WorkItem
	for _, item := range t.items {
		if item.Status == status {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *MemoryTracker) UpdateStatus(ctx context.Context, id string, status schema.ItemStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	item.Status = status
	item.UpdatedAt = time.Now()
	return nil
}

func (t *MemoryTracker) AddComment(ctx context.Context, id, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	t.comments[id] = append(t.comments[id], body)
	return nil
}

func (t *MemoryTracker) SetProperty(ctx context.Context, id, key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "item %q not found", id)
	}
	props, ok := t.properties[id]
	if !ok {
		props = make(map[string]string)
		t.properties[id] = props
	}
	props[key] = value
	return nil
}

// Watch registers a handler invoked synchronously on every Seed.
func (t *MemoryTracker) Watch(ctx context.Context, fn WatchFunc) (func(), error) {
	t.watchMu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = fn
	t.watchMu.Unlock()

	return func() {
		t.watchMu.Lock()
		delete(t.watchers, id)
		t.watchMu.Unlock()
	}, nil
}

func (t *MemoryTracker) notify(ctx context.Context, item *schema.WorkItem) {
	t.watchMu.Lock()
	fns := make([]WatchFunc, 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	t.watchMu.Unlock()

	for _, fn := range fns {
		cp := *item
		fn(ctx, &cp)
	}
}

// Comments returns the comments recorded on an item.
func (t *MemoryTracker) Comments(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.comments[id]...)
}

// Property returns a property value and whether it is set.
func (t *MemoryTracker) Property(id, key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.properties[id][key]
	return v, ok
}

var _ ItemTracker = (*MemoryTracker)(nil)
