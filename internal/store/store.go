// Package store keeps dispatched image records.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
)

var (
	ErrIDEmpty  = errors.New("record id is empty")
	ErrNotFound = errors.New("record does not exist")
)

type Store interface {
	Save(ctx context.Context, record dispatch.Record) error
	Get(ctx context.Context, id string) (dispatch.Record, error)
	// List returns up to limit records, newest first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]dispatch.Record, error)
	Delete(ctx context.Context, id string) error
}

// NewConsumer saves every record into each store. Each save is bounded by
// timeout; the joined errors are returned to the dispatcher for logging.
func NewConsumer(timeout time.Duration, stores ...Store) dispatch.Consumer {
	return func(record dispatch.Record) error {
		var errs []error
		for _, s := range stores {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			if err := s.Save(ctx, record); err != nil {
				errs = append(errs, fmt.Errorf("%T: %w", s, err))
			}
			cancel()
		}
		if len(errs) == 0 {
			logger.DebugF("Record %s stored", record.ID)
		}
		return errors.Join(errs...)
	}
}
