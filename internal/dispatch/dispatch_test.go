package dispatch

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/normalize"
	"github.com/life-stream-dev/life-stream-go-image-viewer/internal/transport"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func collect(records *[]Record) Consumer {
	return func(record Record) error {
		*records = append(*records, record)
		return nil
	}
}

func TestDispatchBuildsRecord(t *testing.T) {
	var records []Record
	d := NewDispatcher(collect(&records), WithClock(func() time.Time { return fixedTime }))

	d.Dispatch(transport.Message{Topic: "solace/images/cat.jpg", MessageID: "msg-1", Attachment: "Kn/9j/4AAQ"})
	require.Len(t, records, 1)
	assert.Equal(t, Record{
		ID:         "msg-1",
		MimeType:   normalize.MimeJPEG,
		Payload:    "/9j/4AAQ",
		Confidence: normalize.ConfidenceHigh,
		Topic:      "solace/images/cat.jpg",
		ReceivedAt: fixedTime,
	}, records[0])
	assert.Equal(t, "data:image/jpeg;base64,/9j/4AAQ", records[0].DataURL())
}

func TestDispatchSynthesizesIDs(t *testing.T) {
	var records []Record
	d := NewDispatcher(collect(&records), WithRunID("run"))
	for i := 0; i < 3; i++ {
		d.Dispatch(transport.Message{Topic: "solace/images/a.png", Attachment: []byte{0x89, 0x50, 0x4E, 0x47}})
	}
	require.Len(t, records, 3)
	assert.Equal(t, "img-run-1", records[0].ID)
	assert.Equal(t, "img-run-2", records[1].ID)
	assert.Equal(t, "img-run-3", records[2].ID)
	assert.Equal(t, normalize.MimePNG, records[0].MimeType)
}

func TestDispatchIDsUniqueAcrossDispatchers(t *testing.T) {
	seen := make(map[string]struct{})
	for run := 0; run < 3; run++ {
		var records []Record
		d := NewDispatcher(collect(&records))
		d.Dispatch(transport.Message{Topic: "solace/images/a.jpg", Attachment: "/9j/"})
		d.Dispatch(transport.Message{Topic: "solace/images/b.jpg", Attachment: "/9j/"})
		require.Len(t, records, 2)
		for _, record := range records {
			assert.True(t, strings.HasPrefix(record.ID, "img-"), record.ID)
			assert.NotContains(t, seen, record.ID)
			seen[record.ID] = struct{}{}
		}
	}
	assert.Len(t, seen, 6)
}

func TestDispatchIgnoresEmptyAttachments(t *testing.T) {
	calls := 0
	d := NewDispatcher(func(Record) error {
		calls++
		return nil
	})
	for _, attachment := range []any{nil, "", []byte{}, []byte(nil)} {
		d.Dispatch(transport.Message{Topic: "solace/images/empty", Attachment: attachment})
	}
	assert.Zero(t, calls)
	dropped, failed := d.Stats()
	assert.Equal(t, uint64(4), dropped)
	assert.Zero(t, failed)
}

func TestDispatchIsolatesConsumerFailures(t *testing.T) {
	var ids []string
	d := NewDispatcher(func(record Record) error {
		ids = append(ids, record.ID)
		switch record.ID {
		case "boom":
			panic("consumer exploded")
		case "err":
			return errors.New("consumer rejected record")
		}
		return nil
	})

	d.Dispatch(transport.Message{MessageID: "boom", Attachment: "/9j/"})
	d.Dispatch(transport.Message{MessageID: "err", Attachment: "/9j/"})
	d.Dispatch(transport.Message{MessageID: "ok", Attachment: "/9j/"})

	assert.Equal(t, []string{"boom", "err", "ok"}, ids)
	_, failed := d.Stats()
	assert.Equal(t, uint64(2), failed)
}

func TestDispatchUnknownAttachmentIsInvalid(t *testing.T) {
	var records []Record
	d := NewDispatcher(collect(&records))
	d.Dispatch(transport.Message{Attachment: 42})
	d.Dispatch(transport.Message{Attachment: "  \n"})
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, normalize.MimeInvalid, record.MimeType)
		assert.Empty(t, record.Payload)
		assert.Empty(t, record.DataURL())
	}
	dropped, _ := d.Stats()
	assert.Zero(t, dropped)
}

func TestDispatchWithoutConsumer(t *testing.T) {
	d := NewDispatcher(nil)
	assert.NotPanics(t, func() {
		d.Dispatch(transport.Message{Attachment: "/9j/"})
	})
}
