package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
)

const DefaultCapacity = 200

// MemoryStore is a bounded gallery. Saving an existing id replaces the
// record and moves it to the front; the oldest records are evicted first.
type MemoryStore struct {
	records *expirable.LRU[string, dispatch.Record]
}

// NewMemoryStore keeps at most capacity records, each for ttl (0 keeps them
// until evicted).
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	onEvict := func(id string, _ dispatch.Record) {
		logger.DebugF("Record %s removed from gallery", id)
	}
	return &MemoryStore{records: expirable.NewLRU[string, dispatch.Record](capacity, onEvict, ttl)}
}

func (ms *MemoryStore) Save(_ context.Context, record dispatch.Record) error {
	if record.ID == "" {
		return ErrIDEmpty
	}
	ms.records.Add(record.ID, record)
	return nil
}

func (ms *MemoryStore) Get(_ context.Context, id string) (dispatch.Record, error) {
	if id == "" {
		return dispatch.Record{}, ErrIDEmpty
	}
	record, ok := ms.records.Peek(id)
	if !ok {
		return dispatch.Record{}, ErrNotFound
	}
	return record, nil
}

func (ms *MemoryStore) List(_ context.Context, limit int) ([]dispatch.Record, error) {
	values := ms.records.Values()
	if limit <= 0 || limit > len(values) {
		limit = len(values)
	}
	result := make([]dispatch.Record, 0, limit)
	// Values is oldest first; expired entries leave zero values behind
	for i := len(values) - 1; i >= 0 && len(result) < limit; i-- {
		if values[i].ID == "" {
			continue
		}
		result = append(result, values[i])
	}
	return result, nil
}

func (ms *MemoryStore) Delete(_ context.Context, id string) error {
	if id == "" {
		return ErrIDEmpty
	}
	if !ms.records.Remove(id) {
		return ErrNotFound
	}
	return nil
}

func (ms *MemoryStore) Len() int {
	return ms.records.Len()
}
