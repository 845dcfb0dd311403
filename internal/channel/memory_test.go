package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMemory(t *testing.T, maxDeliveries int) *Memory {
	t.Helper()
	m := NewMemory(Options{
		Topic:             "name-topic",
		Subscription:      "name-subscription",
		VisibilityTimeout: time.Second,
		MaxDeliveries:     maxDeliveries,
	}, zap.NewNop().Sugar())
	m.RedeliveryDelay = time.Millisecond
	ctx := context.Background()
	require.NoError(t, m.EnsureTopic(ctx, "name-topic"))
	require.NoError(t, m.EnsureSubscription(ctx, "name-subscription", "name-topic"))
	return m
}

// recorder collects deliveries and answers with a scripted result per attempt.
type recorder struct {
	mu     sync.Mutex
	seen   []Message
	answer func(msg *Message) Result
}

func (r *recorder) handle(_ context.Context, msg *Message) Result {
	r.mu.Lock()
	r.seen = append(r.seen, *msg)
	r.mu.Unlock()
	return r.answer(msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func runSubscriber(t *testing.T, m *Memory, h Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Subscribe(ctx, h) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestMemory_EnsureIsIdempotent(t *testing.T) {
	m := newTestMemory(t, 5)
	ctx := context.Background()
	assert.NoError(t, m.EnsureTopic(ctx, "name-topic"))
	assert.NoError(t, m.EnsureSubscription(ctx, "name-subscription", "name-topic"))
	assert.Error(t, m.EnsureSubscription(ctx, "name-subscription", "other-topic"))
	assert.Error(t, m.EnsureSubscription(ctx, "orphan", "missing-topic"))
}

func TestMemory_PublishAck(t *testing.T) {
	m := newTestMemory(t, 5)
	rec := &recorder{answer: func(*Message) Result { return Ack }}
	runSubscriber(t, m, rec.handle)

	id, err := m.Publish(context.Background(), []byte(`hello`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, rec.seen[0].ID)
	assert.Equal(t, []byte(`hello`), rec.seen[0].Data)
	assert.Equal(t, 1, rec.seen[0].Attempt)
	assert.Eventually(t, func() bool { return m.Pending("name-subscription") == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.DeadLetters())
}

func TestMemory_NackRedelivers(t *testing.T) {
	m := newTestMemory(t, 5)
	rec := &recorder{answer: func(msg *Message) Result {
		if msg.Attempt < 3 {
			return Nack
		}
		return Ack
	}}
	runSubscriber(t, m, rec.handle)

	_, err := m.Publish(context.Background(), []byte(`x`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, rec.count())
	assert.Empty(t, m.DeadLetters())
}

func TestMemory_ExhaustedGoesToDeadLetter(t *testing.T) {
	m := newTestMemory(t, 2)
	rec := &recorder{answer: func(*Message) Result { return Nack }}
	runSubscriber(t, m, rec.handle)

	_, err := m.Publish(context.Background(), []byte(`x`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(m.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 2, m.DeadLetters()[0].Attempt)
}

func TestMemory_RejectDeadLettersImmediately(t *testing.T) {
	m := newTestMemory(t, 5)
	rec := &recorder{answer: func(*Message) Result { return Reject }}
	runSubscriber(t, m, rec.handle)

	_, err := m.Publish(context.Background(), []byte(`garbage`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(m.DeadLetters()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestMemory_HandlerPanicIsNack(t *testing.T) {
	m := newTestMemory(t, 5)
	rec := &recorder{answer: func(msg *Message) Result {
		if msg.Attempt == 1 {
			panic("boom")
		}
		return Ack
	}}
	runSubscriber(t, m, rec.handle)

	_, err := m.Publish(context.Background(), []byte(`x`))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.DeadLetters())
}

func TestMemory_LateAckIsRedelivered(t *testing.T) {
	m := NewMemory(Options{
		Topic:             "t",
		Subscription:      "s",
		VisibilityTimeout: 20 * time.Millisecond,
		MaxDeliveries:     5,
	}, zap.NewNop().Sugar())
	m.RedeliveryDelay = time.Millisecond
	ctx := context.Background()
	require.NoError(t, m.EnsureTopic(ctx, "t"))
	require.NoError(t, m.EnsureSubscription(ctx, "s", "t"))

	rec := &recorder{answer: func(msg *Message) Result {
		if msg.Attempt == 1 {
			time.Sleep(40 * time.Millisecond)
		}
		return Ack
	}}
	runSubscriber(t, m, rec.handle)

	_, err := m.Publish(ctx, []byte(`x`))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestMemory_Unavailable(t *testing.T) {
	m := newTestMemory(t, 5)
	m.SetUnavailable(true)
	_, err := m.Publish(context.Background(), []byte(`x`))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, m.EnsureTopic(context.Background(), "other"), ErrUnavailable)

	m.SetUnavailable(false)
	_, err = m.Publish(context.Background(), []byte(`x`))
	assert.NoError(t, err)
}

func TestMemory_PublishWithoutTopic(t *testing.T) {
	m := NewMemory(Options{Topic: "missing", Subscription: "s"}, zap.NewNop().Sugar())
	_, err := m.Publish(context.Background(), []byte(`x`))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemory_SingleSubscriber(t *testing.T) {
	m := newTestMemory(t, 5)
	rec := &recorder{answer: func(*Message) Result { return Ack }}
	runSubscriber(t, m, rec.handle)

	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.subscribed
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Subscribe(context.Background(), rec.handle), ErrAlreadySubscribed)
}

func TestMemory_Closed(t *testing.T) {
	m := newTestMemory(t, 5)
	require.NoError(t, m.Close())
	_, err := m.Publish(context.Background(), []byte(`x`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Subscribe(context.Background(), nil), ErrClosed)
}

func TestMemory_CloseEndsSubscribe(t *testing.T) {
	m := newTestMemory(t, 5)

	done := make(chan error, 1)
	go func() {
		done <- m.Subscribe(context.Background(), func(context.Context, *Message) Result { return Ack })
	}()
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.subscribed
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Subscribe still running after Close")
	}
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "ack", Ack.String())
	assert.Equal(t, "nack", Nack.String())
	assert.Equal(t, "reject", Reject.String())
}
