package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanerRunsInOrder(t *testing.T) {
	var calls []string
	record := func(name string, err error) Callable {
		return CallableFunc(func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			calls = append(calls, name)
			return err
		})
	}

	cleaner := NewCleaner(record("logger", nil))
	cleaner.Add(record("session", nil))
	cleaner.Add(record("database", errors.New("disconnect failed")))
	cleaner.Add(record("store", nil))

	err := cleaner.Clean()
	assert.ErrorContains(t, err, "disconnect failed")
	assert.Equal(t, []string{"session", "database", "store", "logger"}, calls)

	cleaner.Add(record("late", nil))
	assert.Equal(t, err, cleaner.Clean())
	assert.Len(t, calls, 4)
}

func TestCleanerWithoutLogger(t *testing.T) {
	cleaner := NewCleaner(nil)
	assert.NoError(t, cleaner.Clean())
}

func TestWaitForSignalReturnsOnContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		NewCleaner(nil).WaitForSignal(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForSignal did not return")
	}
}
