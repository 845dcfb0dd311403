package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAwaitConsumer(t *testing.T) {
	t.Run("waits for the handler in flight", func(t *testing.T) {
		done := make(chan error, 1)
		finished := make(chan struct{})
		go func() {
			time.Sleep(20 * time.Millisecond)
			close(finished)
			done <- nil
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.True(t, awaitConsumer(ctx, done))
		select {
		case <-finished:
		default:
			t.Fatal("returned before the consumer finished")
		}
	})

	t.Run("gives up at the deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.False(t, awaitConsumer(ctx, make(chan error)))
	})
}
