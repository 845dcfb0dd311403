package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory is an in-process driver for tests and single-binary local runs.
type Memory struct {
	opts Options
	log  *zap.SugaredLogger

	// RedeliveryDelay is how long a nacked message waits before redelivery.
	RedeliveryDelay time.Duration

	mu          sync.Mutex
	seq         uint64
	topics      map[string][]string // topic -> subscriptions
	subs        map[string]*memSub
	deadLetters []*Message
	unavailable bool
	subscribed  bool
	closed      bool
	done        chan struct{}
}

type memSub struct {
	topic  string
	queue  []*memPending
	notify chan struct{}
}

type memPending struct {
	msg     *Message
	readyAt time.Time
}

// NewMemory creates an empty in-process channel.
func NewMemory(opts Options, log *zap.SugaredLogger) *Memory {
	return &Memory{
		opts:            opts.withDefaults(),
		log:             log,
		RedeliveryDelay: 10 * time.Millisecond,
		topics:          make(map[string][]string),
		subs:            make(map[string]*memSub),
		done:            make(chan struct{}),
	}
}

// SetUnavailable simulates a transport outage for Publish and Ensure calls.
func (m *Memory) SetUnavailable(down bool) {
	m.mu.Lock()
	m.unavailable = down
	m.mu.Unlock()
}

// DeadLetters returns the messages moved to the dead-letter topic.
func (m *Memory) DeadLetters() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Message, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}

// Pending counts messages not yet settled on a subscription.
func (m *Memory) Pending(subscription string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[subscription]; ok {
		return len(s.queue)
	}
	return 0
}

func (m *Memory) check(op string) error {
	if m.closed {
		return ErrClosed
	}
	if m.unavailable {
		return unavailable(op, errors.New("memory channel marked down"))
	}
	return nil
}

func (m *Memory) EnsureTopic(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ensure topic"); err != nil {
		return err
	}
	if _, ok := m.topics[name]; !ok {
		m.topics[name] = nil
		m.log.Infof("created topic %s", name)
	}
	return nil
}

func (m *Memory) EnsureSubscription(_ context.Context, name, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("ensure subscription"); err != nil {
		return err
	}
	if _, ok := m.topics[topic]; !ok {
		return fmt.Errorf("ensure subscription %s: topic %s does not exist", name, topic)
	}
	if s, ok := m.subs[name]; ok {
		if s.topic != topic {
			return fmt.Errorf("subscription %s is bound to topic %s", name, s.topic)
		}
		return nil
	}
	m.subs[name] = &memSub{topic: topic, notify: make(chan struct{}, 1)}
	m.topics[topic] = append(m.topics[topic], name)
	m.log.Infof("created subscription %s on %s", name, topic)
	return nil
}

func (m *Memory) Publish(_ context.Context, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("publish"); err != nil {
		return "", err
	}
	subs, ok := m.topics[m.opts.Topic]
	if !ok {
		return "", unavailable("publish", fmt.Errorf("topic %s does not exist", m.opts.Topic))
	}
	m.seq++
	id := fmt.Sprintf("mem-%d", m.seq)
	now := time.Now()
	for _, name := range subs {
		s := m.subs[name]
		data := make([]byte, len(payload))
		copy(data, payload)
		s.queue = append(s.queue, &memPending{
			msg:     &Message{ID: id, Data: data, PublishTime: now},
			readyAt: now,
		})
		s.wake()
	}
	return id, nil
}

// Subscribe delivers messages of the configured subscription one at a time
// until ctx is done or the channel is closed.
func (m *Memory) Subscribe(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.subscribed {
		m.mu.Unlock()
		return ErrAlreadySubscribed
	}
	sub, ok := m.subs[m.opts.Subscription]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("subscription %s does not exist", m.opts.Subscription)
	}
	m.subscribed = true
	m.mu.Unlock()

	m.log.Infof("listening for messages on %s", m.opts.Subscription)
	for {
		p, wait, closed := m.next(sub)
		if closed {
			return nil
		}
		if p == nil {
			if !m.wait(ctx, sub, wait) {
				return nil
			}
			continue
		}
		p.msg.Attempt++
		res := dispatch(ctx, m.log, m.opts.VisibilityTimeout, h, p.msg)
		m.settle(sub, p, res)
	}
}

// next pops the first ready message, or returns how long to wait for one.
func (m *Memory) next(s *memSub) (*memPending, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, 0, true
	}
	now := time.Now()
	wait := time.Second
	for i, p := range s.queue {
		if !p.readyAt.After(now) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return p, 0, false
		}
		if d := p.readyAt.Sub(now); d < wait {
			wait = d
		}
	}
	return nil, wait, false
}

func (m *Memory) wait(ctx context.Context, s *memSub, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	case <-s.notify:
	case <-t.C:
	}
	return true
}

func (m *Memory) settle(s *memSub, p *memPending, res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case res == Ack:
		return
	case res == Reject:
		m.log.Warnf("message %s rejected, moving to %s", p.msg.ID, m.opts.DeadLetterTopic)
		m.deadLetters = append(m.deadLetters, p.msg)
	case m.opts.exhausted(p.msg.Attempt):
		m.log.Warnf("message %s nacked %d times, moving to %s", p.msg.ID, p.msg.Attempt, m.opts.DeadLetterTopic)
		m.deadLetters = append(m.deadLetters, p.msg)
	default:
		p.readyAt = time.Now().Add(m.RedeliveryDelay)
		s.queue = append(s.queue, p)
		s.wake()
	}
}

// Close rejects further calls and ends a running Subscribe after the
// message in flight, if any, is settled.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (s *memSub) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
