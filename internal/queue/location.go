package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pitlinehq/pitline/internal/store"
)

// Location is a workshop site with its own queue and limits.
type Location struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// MaxQueueSize bounds the waiting set; 0 means unbounded.
	MaxQueueSize int `json:"maxQueueSize,omitempty"`
	// EntryMaxAgeMs is the waiting age after which the sweep expires an
	// entry; 0 falls back to the engine default.
	EntryMaxAgeMs int64 `json:"entryMaxAgeMs,omitempty"`
}

// EnsureLocation idempotently registers a location, returning the
// effective record. An existing record wins over the provided defaults.
func (e *Engine) EnsureLocation(ctx context.Context, loc Location) (Location, error) {
	key := locationMetaKey(loc.ID)
	if doc, err := e.store.Read(key); err == nil {
		var existing Location
		if err := json.Unmarshal(doc.Data, &existing); err == nil {
			return existing, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return Location{}, err
	}

	loc.CreatedAtMs = e.nowMs()
	data, err := json.Marshal(loc)
	if err != nil {
		return Location{}, err
	}
	if _, err := e.store.ConditionalWrite(ctx, key, 0, data); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// concurrent ensure won; read it back
			doc, rerr := e.store.Read(key)
			if rerr != nil {
				return Location{}, rerr
			}
			var existing Location
			if uerr := json.Unmarshal(doc.Data, &existing); uerr != nil {
				return Location{}, uerr
			}
			return existing, nil
		}
		return Location{}, err
	}
	return loc, nil
}

// Location returns the registry record for id, or ErrLocationNotFound.
func (e *Engine) Location(ctx context.Context, id string) (Location, error) {
	doc, err := e.store.Read(locationMetaKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	var loc Location
	if err := json.Unmarshal(doc.Data, &loc); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Locations lists every registered location.
func (e *Engine) Locations(ctx context.Context) ([]Location, error) {
	kvs, err := e.store.Scan(locationMetaPrefix, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(kvs))
	for _, kv := range kvs {
		var loc Location
		if err := json.Unmarshal(kv.Doc.Data, &loc); err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}
