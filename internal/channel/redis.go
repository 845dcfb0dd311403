package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	payloadField   = "payload"
	bootstrapGroup = "bootstrap"
)

// Redis implements the channel on Redis Streams. A topic is a stream key and
// a subscription is a consumer group on it. Nacked entries stay in the
// group's pending list and are reclaimed once idle for the visibility timeout.
type Redis struct {
	opts     Options
	rdb      redis.UniversalClient
	consumer string
	log      *zap.SugaredLogger

	// PollInterval bounds a blocking XREADGROUP.
	PollInterval time.Duration
	// BatchSize is the COUNT used for reads and pending scans.
	BatchSize int64

	mu         sync.Mutex
	subscribed bool
}

// NewRedis wraps a client; the consumer name is derived from the host name.
func NewRedis(rdb redis.UniversalClient, opts Options, log *zap.SugaredLogger) *Redis {
	host, _ := os.Hostname()
	if host == "" {
		host = "consumer"
	}
	return &Redis{
		opts:         opts.withDefaults(),
		rdb:          rdb,
		consumer:     fmt.Sprintf("%s-%d", host, os.Getpid()),
		log:          log,
		PollInterval: time.Second,
		BatchSize:    10,
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureTopic creates an empty stream by creating and dropping a throwaway group.
func (r *Redis) EnsureTopic(ctx context.Context, name string) error {
	n, err := r.rdb.Exists(ctx, name).Result()
	if err != nil {
		return unavailable("ensure topic", err)
	}
	if n > 0 {
		return nil
	}
	if err := r.rdb.XGroupCreateMkStream(ctx, name, bootstrapGroup, "$").Err(); err != nil && !isBusyGroup(err) {
		return unavailable("ensure topic", err)
	}
	if err := r.rdb.XGroupDestroy(ctx, name, bootstrapGroup).Err(); err != nil {
		return unavailable("ensure topic", err)
	}
	r.log.Infof("created stream %s", name)
	return nil
}

func (r *Redis) EnsureSubscription(ctx context.Context, name, topic string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, topic, name, "0").Err()
	switch {
	case err == nil:
		r.log.Infof("created consumer group %s on %s", name, topic)
	case isBusyGroup(err):
	default:
		return unavailable("ensure subscription", err)
	}
	return nil
}

func (r *Redis) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := r.add(ctx, r.opts.Topic, payload)
	if err != nil {
		return "", unavailable("publish", err)
	}
	return id, nil
}

func (r *Redis) add(ctx context.Context, stream string, payload []byte) (string, error) {
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: []interface{}{payloadField, string(payload)},
	}).Result()
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	r.mu.Lock()
	if r.subscribed {
		r.mu.Unlock()
		return ErrAlreadySubscribed
	}
	r.subscribed = true
	r.mu.Unlock()

	r.log.Infof("listening for messages on %s as %s", r.opts.Subscription, r.consumer)
	for ctx.Err() == nil {
		if err := r.reclaim(ctx, h); err != nil {
			r.log.Errorf("reclaim pending: %v", err)
		}
		if err := r.readNew(ctx, h); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.log.Errorf("read group: %v", err)
			sleep(ctx, r.opts.RetryBackoff)
		}
	}
	return nil
}

func (r *Redis) readNew(ctx context.Context, h Handler) error {
	streams, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.opts.Subscription,
		Consumer: r.consumer,
		Streams:  []string{r.opts.Topic, ">"},
		Count:    r.BatchSize,
		Block:    r.PollInterval,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, s := range streams {
		for _, xm := range s.Messages {
			r.deliver(ctx, h, xm, 1)
		}
	}
	return nil
}

// reclaim takes over entries idle longer than the visibility timeout.
func (r *Redis) reclaim(ctx context.Context, h Handler) error {
	pending, err := r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.opts.Topic,
		Group:  r.opts.Subscription,
		Start:  "-",
		End:    "+",
		Count:  r.BatchSize,
	}).Result()
	if err != nil {
		return err
	}
	for _, p := range pending {
		if p.Idle < r.opts.VisibilityTimeout {
			continue
		}
		claimed, err := r.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.opts.Topic,
			Group:    r.opts.Subscription,
			Consumer: r.consumer,
			MinIdle:  r.opts.VisibilityTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return err
		}
		// XCLAIM bumps the delivery counter
		for _, xm := range claimed {
			r.deliver(ctx, h, xm, int(p.RetryCount)+1)
		}
	}
	return nil
}

func (r *Redis) deliver(ctx context.Context, h Handler, xm redis.XMessage, attempt int) {
	msg := &Message{
		ID:          xm.ID,
		Data:        payloadOf(xm.Values),
		Attempt:     attempt,
		PublishTime: streamIDTime(xm.ID),
	}
	res := dispatch(ctx, r.log, r.opts.VisibilityTimeout, h, msg)
	switch {
	case res == Nack && !r.opts.exhausted(attempt):
		// left pending, reclaimed after the visibility timeout
		return
	case res != Ack:
		if _, err := r.add(ctx, r.opts.DeadLetterTopic, msg.Data); err != nil {
			r.log.Errorf("dead-letter message %s: %v", msg.ID, err)
			return
		}
		r.log.Warnf("message %s moved to %s after %d attempt(s)", msg.ID, r.opts.DeadLetterTopic, attempt)
	}
	if err := r.rdb.XAck(ctx, r.opts.Topic, r.opts.Subscription, msg.ID).Err(); err != nil {
		r.log.Errorf("ack message %s: %v", msg.ID, err)
	}
}

func payloadOf(values map[string]interface{}) []byte {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// streamIDTime reads the millisecond timestamp part of a stream entry id.
func streamIDTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
