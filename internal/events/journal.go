package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitlinehq/pitline/internal/store"
)

// Journal persists emitted events per location.
//
// Keys are loc/{location}/event/{id}; event ids sort by emission time, so
// a prefix scan yields chronological order. The journal is append-only
// and trimmed by age from the sweeper.
type Journal struct {
	store *store.Store
}

// NewJournal returns a Journal over the given store.
func NewJournal(st *store.Store) *Journal { return &Journal{store: st} }

func eventKey(location, eventID string) []byte {
	return []byte(fmt.Sprintf("loc/%s/event/%s", location, eventID))
}

func eventPrefix(location string) []byte {
	return []byte(fmt.Sprintf("loc/%s/event/", location))
}

// Append persists ev. Event ids are unique, so the create-only write
// cannot conflict.
func (j *Journal) Append(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = j.store.ConditionalWrite(ctx, eventKey(ev.LocationID, ev.ID), 0, data)
	return err
}

// Recent returns up to limit most recent events for a location, oldest
// first. The tail is read backwards so the cost is bounded by limit,
// not by journal size.
func (j *Journal) Recent(ctx context.Context, location string, limit int) ([]Event, error) {
	kvs, err := j.store.ScanReverse(eventPrefix(location), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(kvs))
	for i := len(kvs) - 1; i >= 0; i-- {
		var ev Event
		if err := json.Unmarshal(kvs[i].Doc.Data, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// TrimOlderThan deletes events emitted before cutoffMs, up to max per
// call. Returns the number deleted. Keys sort chronologically, so the
// scan is bounded by max and stops at the first event past the cutoff.
func (j *Journal) TrimOlderThan(ctx context.Context, location string, cutoffMs int64, max int) (int, error) {
	kvs, err := j.store.Scan(eventPrefix(location), max)
	if err != nil {
		return 0, err
	}
	var doomed [][]byte
	for _, kv := range kvs {
		var ev Event
		if err := json.Unmarshal(kv.Doc.Data, &ev); err != nil {
			continue
		}
		if ev.AtMs >= cutoffMs {
			break
		}
		doomed = append(doomed, kv.Key)
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := j.store.BatchDelete(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}
