// Package dispatch turns inbound broker messages into image records and
// hands them to a consumer.
package dispatch

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/logger"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/normalize"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

const idPrefix = "img-"

// Record is a normalized image ready for rendering.
type Record struct {
	ID         string               `json:"id" bson:"_id"`
	MimeType   normalize.MimeType   `json:"mime_type" bson:"mime_type"`
	Payload    string               `json:"payload" bson:"payload"`
	Confidence normalize.Confidence `json:"confidence" bson:"confidence"`
	Topic      string               `json:"topic" bson:"topic"`
	ReceivedAt time.Time            `json:"received_at" bson:"received_at"`
}

func (r Record) DataURL() string {
	return normalize.Result{MimeType: r.MimeType, Payload: r.Payload, Confidence: r.Confidence}.DataURL()
}

// Consumer takes ownership of a record. Errors are logged and otherwise
// ignored.
type Consumer func(record Record) error

type Dispatcher struct {
	consumer Consumer
	clock    func() time.Time
	runID    string
	counter  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

type Option func(*Dispatcher)

// WithClock replaces time.Now for ReceivedAt.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithRunID fixes the per-dispatcher part of synthesized ids.
func WithRunID(runID string) Option {
	return func(d *Dispatcher) {
		d.runID = runID
	}
}

// NewDispatcher synthesizes ids as img-<run id>-<counter>. The run id is a
// fresh uuid unless WithRunID is given, so ids from separate runs never
// collide in a persistent store.
func NewDispatcher(consumer Consumer, opts ...Option) *Dispatcher {
	d := &Dispatcher{consumer: consumer, clock: time.Now, runID: uuid.NewString()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one message. Messages without an attachment are skipped
// without calling the consumer.
func (d *Dispatcher) Dispatch(msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			logger.ErrorF("Panic while dispatching message from %s: %v", msg.Topic, r)
		}
	}()
	if isEmpty(msg.Attachment) {
		d.dropped.Add(1)
		return
	}

	id := msg.MessageID
	if id == "" {
		id = idPrefix + d.runID + "-" + strconv.FormatUint(d.counter.Add(1), 10)
	}
	result := normalize.Normalize(msg.Attachment)
	record := Record{
		ID:         id,
		MimeType:   result.MimeType,
		Payload:    result.Payload,
		Confidence: result.Confidence,
		Topic:      msg.Topic,
		ReceivedAt: d.clock(),
	}
	logger.DebugF("Dispatch %s from %s as %s (%s confidence)", record.ID, record.Topic, record.MimeType, record.Confidence)
	if d.consumer == nil {
		return
	}
	if err := d.consumer(record); err != nil {
		d.failed.Add(1)
		logger.ErrorF("Consumer failed on %s, details: %v", record.ID, err)
	}
}

// Stats reports skipped messages and consumer failures.
func (d *Dispatcher) Stats() (dropped, failed uint64) {
	return d.dropped.Load(), d.failed.Load()
}

func isEmpty(attachment any) bool {
	switch v := attachment.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case fmt.Stringer:
		return v.String() == ""
	default:
		return false
	}
}
