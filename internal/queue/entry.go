package queue

// Status is an entry's place in the lifecycle state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCalled    Status = "called"
	StatusInService Status = "in_service"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Priority orders entries within the waiting set. Urgent entries are
// called before normal ones regardless of position.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// transitions is the complete state machine. Absent pairs are invalid;
// no transition skips an intermediate state or leaves a terminal one.
var transitions = map[Status][]Status{
	StatusWaiting: {StatusCalled, StatusCancelled, StatusExpired},
	StatusCalled:  {StatusInService, StatusCancelled},
	StatusInService: {
		StatusCompleted,
	},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is a customer's participation record in a location's queue.
// Version is carried by the store envelope, not the payload.
type Entry struct {
	ID            string   `json:"id"`
	LocationID    string   `json:"locationId"`
	CustomerRef   string   `json:"customerRef"`
	MotorcycleRef string   `json:"motorcycleRef"`
	ServiceRefs   []string `json:"serviceRefs,omitempty"`
	Status        Status   `json:"status"`
	// Position is the dense 1-based rank among waiting entries; 0 when the
	// entry is not waiting.
	Position int      `json:"position,omitempty"`
	Priority Priority `json:"priority"`
	// RequestID is the client-supplied join idempotency token, if any.
	RequestID string `json:"requestId,omitempty"`

	CreatedAtMs   int64  `json:"createdAtMs"`
	CalledAtMs    int64  `json:"calledAtMs,omitempty"`
	StartedAtMs   int64  `json:"startedAtMs,omitempty"`
	CompletedAtMs int64  `json:"completedAtMs,omitempty"`
	CancelledAtMs int64  `json:"cancelledAtMs,omitempty"`
	ExpiredAtMs   int64  `json:"expiredAtMs,omitempty"`
	CancelReason  string `json:"cancelReason,omitempty"`
}

// Snapshot is the ordered view of a location's live queue.
type Snapshot struct {
	LocationID string  `json:"locationId"`
	Waiting    []Entry `json:"waiting"`
	Called     []Entry `json:"called"`
	AtMs       int64   `json:"atMs"`
}
