package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pubsub only accepts dead-letter policies within this range.
const (
	minPubSubDeliveries = 5
	maxPubSubDeliveries = 100
)

// PubSubSettings locate the Google Cloud project or a local emulator.
type PubSubSettings struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsJSON string
}

// PubSub is the Google Cloud Pub/Sub driver. Redelivery and dead-lettering
// after MaxDeliveries are enforced by the service through the subscription's
// dead-letter policy; Reject publishes to the dead-letter topic itself.
type PubSub struct {
	opts   Options
	client *pubsub.Client
	topic  *pubsub.Topic
	dlq    *pubsub.Topic
	log    *zap.SugaredLogger

	mu         sync.Mutex
	subscribed bool
}

// NewPubSub dials the service, or the emulator when EmulatorHost is set.
func NewPubSub(ctx context.Context, s PubSubSettings, opts Options, log *zap.SugaredLogger) (*PubSub, error) {
	var copts []option.ClientOption
	switch {
	case s.EmulatorHost != "":
		log.Infof("pubsub mode: emulator at %s", s.EmulatorHost)
		copts = append(copts,
			option.WithEndpoint(s.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	case s.CredentialsJSON != "":
		log.Info("pubsub mode: production with explicit credentials")
		copts = append(copts, option.WithCredentialsJSON([]byte(s.CredentialsJSON)))
	default:
		log.Info("pubsub mode: production with default credentials")
	}
	client, err := pubsub.NewClient(ctx, s.ProjectID, copts...)
	if err != nil {
		return nil, unavailable("pubsub client", err)
	}
	opts = opts.withDefaults()
	return &PubSub{
		opts:   opts,
		client: client,
		topic:  client.Topic(opts.Topic),
		dlq:    client.Topic(opts.DeadLetterTopic),
		log:    log,
	}, nil
}

func (p *PubSub) EnsureTopic(ctx context.Context, name string) error {
	ok, err := p.client.Topic(name).Exists(ctx)
	if err != nil {
		return unavailable("ensure topic", err)
	}
	if ok {
		return nil
	}
	p.log.Infof("creating topic: %s", name)
	if _, err := p.client.CreateTopic(ctx, name); err != nil {
		return fmt.Errorf("create topic %s: %w", name, err)
	}
	return nil
}

func (p *PubSub) EnsureSubscription(ctx context.Context, name, topic string) error {
	sub := p.client.Subscription(name)
	ok, err := sub.Exists(ctx)
	if err != nil {
		return unavailable("ensure subscription", err)
	}
	if err := p.EnsureTopic(ctx, p.opts.DeadLetterTopic); err != nil {
		return err
	}
	if ok {
		return p.ensureDeadLetterPolicy(ctx, sub)
	}
	cfg := pubsub.SubscriptionConfig{
		Topic:            p.client.Topic(topic),
		AckDeadline:      ackDeadline(p.opts.VisibilityTimeout),
		DeadLetterPolicy: p.deadLetterPolicy(),
	}
	p.log.Infof("creating subscription: %s", name)
	if _, err := p.client.CreateSubscription(ctx, name, cfg); err != nil {
		return fmt.Errorf("create subscription %s: %w", name, err)
	}
	return nil
}

func (p *PubSub) deadLetterPolicy() *pubsub.DeadLetterPolicy {
	return &pubsub.DeadLetterPolicy{
		DeadLetterTopic:     p.dlq.String(),
		MaxDeliveryAttempts: clampDeliveries(p.opts.MaxDeliveries),
	}
}

// ensureDeadLetterPolicy attaches the policy to a subscription created
// without one; otherwise nacked messages would be redelivered forever.
func (p *PubSub) ensureDeadLetterPolicy(ctx context.Context, sub *pubsub.Subscription) error {
	cfg, err := sub.Config(ctx)
	if err != nil {
		return unavailable("ensure subscription", err)
	}
	if cfg.DeadLetterPolicy != nil {
		return nil
	}
	p.log.Warnf("subscription %s has no dead-letter policy, attaching %s", sub.ID(), p.opts.DeadLetterTopic)
	if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{DeadLetterPolicy: p.deadLetterPolicy()}); err != nil {
		return fmt.Errorf("update subscription %s: %w", sub.ID(), err)
	}
	return nil
}

func (p *PubSub) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
	if err != nil {
		return "", unavailable("publish", err)
	}
	return id, nil
}

// Subscribe runs Receive with a single outstanding message. Receive returns
// on unrecoverable stream errors; those are logged and Receive is restarted.
func (p *PubSub) Subscribe(ctx context.Context, h Handler) error {
	p.mu.Lock()
	if p.subscribed {
		p.mu.Unlock()
		return ErrAlreadySubscribed
	}
	p.subscribed = true
	p.mu.Unlock()

	sub := p.client.Subscription(p.opts.Subscription)
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.MaxExtension = p.opts.VisibilityTimeout

	p.log.Infof("listening for messages on %s", p.opts.Subscription)
	for ctx.Err() == nil {
		err := sub.Receive(ctx, func(mctx context.Context, m *pubsub.Message) {
			p.handle(mctx, h, m)
		})
		if err != nil && ctx.Err() == nil {
			p.log.Errorf("subscription error: %v", err)
			sleep(ctx, p.opts.RetryBackoff)
		}
	}
	return nil
}

func (p *PubSub) handle(ctx context.Context, h Handler, m *pubsub.Message) {
	attempt := 1
	if m.DeliveryAttempt != nil {
		attempt = *m.DeliveryAttempt
	}
	msg := &Message{ID: m.ID, Data: m.Data, Attempt: attempt, PublishTime: m.PublishTime}
	p.log.Infof("message received: %s", m.ID)

	switch dispatch(ctx, p.log, p.opts.VisibilityTimeout, h, msg) {
	case Ack:
		m.Ack()
	case Reject:
		if _, err := p.dlq.Publish(ctx, &pubsub.Message{Data: m.Data}).Get(ctx); err != nil {
			p.log.Errorf("dead-letter message %s: %v", m.ID, err)
			m.Nack()
			return
		}
		p.log.Warnf("message %s rejected, moved to %s", m.ID, p.opts.DeadLetterTopic)
		m.Ack()
	default:
		m.Nack()
	}
}

func (p *PubSub) Close() error {
	p.topic.Stop()
	p.dlq.Stop()
	return p.client.Close()
}

func clampDeliveries(n int) int {
	if n < minPubSubDeliveries {
		return minPubSubDeliveries
	}
	if n > maxPubSubDeliveries {
		return maxPubSubDeliveries
	}
	return n
}

// ackDeadline clamps to the 10s..600s range pubsub accepts.
func ackDeadline(d time.Duration) time.Duration {
	if d < 10*time.Second {
		return 10 * time.Second
	}
	if d > 600*time.Second {
		return 600 * time.Second
	}
	return d
}
