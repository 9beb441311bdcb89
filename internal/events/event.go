package events

import "encoding/json"

// Type names a domain event.
type Type string

const (
	TypeAdded     Type = "entry.added"
	TypeCalled    Type = "entry.called"
	TypeStarted   Type = "entry.started"
	TypeCompleted Type = "entry.completed"
	TypeCancelled Type = "entry.cancelled"
	TypeExpired   Type = "entry.expired"
)

// Event is one emitted domain event. Entry holds the post-mutation entry
// snapshot as JSON; the scalar fields are lifted out of it for filtering
// without re-parsing.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	LocationID string          `json:"locationId"`
	EntryID    string          `json:"entryId"`
	Status     string          `json:"status"`
	Priority   string          `json:"priority"`
	Position   int             `json:"position"`
	AtMs       int64           `json:"atMs"`
	Entry      json.RawMessage `json:"entry"`
}
