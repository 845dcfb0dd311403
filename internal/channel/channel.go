// Package channel is the at-least-once publish/subscribe transport between
// the ingest path and the derivation consumer.
//
// Every driver delivers a message to the registered Handler until the handler
// acknowledges it, the delivery budget is spent, or the handler rejects it.
// Exhausted and rejected messages are moved to the dead-letter topic.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable means the transport could not be reached.
	ErrUnavailable = errors.New("message channel unavailable")
	// ErrAlreadySubscribed is returned by a second Subscribe on the same channel.
	ErrAlreadySubscribed = errors.New("subscription handler already registered")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("message channel closed")
)

// Result is the handler's verdict for one delivery.
type Result int

const (
	// Ack settles the message.
	Ack Result = iota
	// Nack asks for redelivery.
	Nack
	// Reject marks the message as permanently unprocessable.
	Reject
)

func (r Result) String() string {
	switch r {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Message is one delivery of a published payload.
type Message struct {
	ID          string
	Data        []byte
	Attempt     int
	PublishTime time.Time
}

// Handler processes one delivery. It is never called concurrently by a channel.
type Handler func(ctx context.Context, msg *Message) Result

// Channel is the transport contract shared by all drivers.
type Channel interface {
	EnsureTopic(ctx context.Context, name string) error
	EnsureSubscription(ctx context.Context, name, topic string) error
	Publish(ctx context.Context, payload []byte) (string, error)
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// Options are the driver-independent delivery settings.
type Options struct {
	Topic             string
	Subscription      string
	DeadLetterTopic   string
	VisibilityTimeout time.Duration
	MaxDeliveries     int
	// RetryBackoff is the pause after a transport error inside the receive loop.
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.DeadLetterTopic == "" && o.Subscription != "" {
		o.DeadLetterTopic = o.Subscription + ".dead-letter"
	}
	return o
}

// exhausted reports whether a nacked delivery has used up its budget.
func (o Options) exhausted(attempt int) bool {
	return attempt >= o.MaxDeliveries
}

// dispatch runs the handler under the visibility timeout. Panics and late
// verdicts become Nack so the loop never dies on a bad handler.
func dispatch(ctx context.Context, log *zap.SugaredLogger, timeout time.Duration, h Handler, msg *Message) (res Result) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panic on message %s: %v", msg.ID, r)
			res = Nack
		}
	}()
	res = h(hctx, msg)
	if res == Ack && errors.Is(hctx.Err(), context.DeadlineExceeded) {
		log.Warnf("message %s acked after visibility timeout %s, treating as nack", msg.ID, timeout)
		return Nack
	}
	return res
}

// sleep waits d or until ctx is done; false means ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
