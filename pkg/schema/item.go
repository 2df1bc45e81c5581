package schema

import (
	"encoding/json"
	"time"
)

// ItemStatus is the work item's state in the external tracker.
type ItemStatus string

const (
	ItemStatusNotStarted    ItemStatus = "not_started"
	ItemStatusInProgress    ItemStatus = "in_progress"
	ItemStatusDone          ItemStatus = "done"
	ItemStatusNotActionable ItemStatus = "not_actionable"
	ItemStatusNeedsReview   ItemStatus = "needs_review"
)

// Attachment is an image attached to a work item.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// WorkItem is an immutable snapshot of the tracked unit of work driving one
// pipeline run. It is owned by the item tracker; the engine only reads it.
type WorkItem struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Images      []Attachment    `json:"images,omitempty"`
	Status      ItemStatus      `json:"status"`
	Priority    string          `json:"priority,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
	Reporter    string          `json:"reporter,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
