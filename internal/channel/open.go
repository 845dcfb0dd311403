package channel

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/name-pipeline/internal/config"
	"go.uber.org/zap"
)

// Open builds the configured driver wrapped in the publish breaker. Topic
// and subscription are not touched; call Setup before publishing.
func Open(ctx context.Context, cfg config.ChannelConfig, log *zap.SugaredLogger) (*Guarded, error) {
	opts := Options{
		Topic:             cfg.Topic,
		Subscription:      cfg.Subscription,
		DeadLetterTopic:   cfg.DeadLetter(),
		VisibilityTimeout: cfg.VisibilityTimeout,
		MaxDeliveries:     cfg.MaxDeliveries,
	}
	var (
		ch  Channel
		err error
	)
	switch cfg.Driver {
	case "pubsub":
		ch, err = NewPubSub(ctx, PubSubSettings{
			ProjectID:       cfg.PubSub.ProjectID,
			EmulatorHost:    cfg.PubSub.EmulatorHost,
			CredentialsJSON: cfg.PubSub.CredentialsJSON,
		}, opts, log)
	case "kafka":
		ch = NewKafka(cfg.Kafka.Brokers, opts, log)
	case "redis":
		ch = NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), opts, log)
	case "memory":
		ch = NewMemory(opts, log)
	default:
		return nil, fmt.Errorf("unknown channel driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("message channel driver: %s", cfg.Driver)
	return NewGuarded(ch, BreakerSettings{
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, log), nil
}

// Setup ensures the topic and the subscription bound to it.
func Setup(ctx context.Context, ch Channel, cfg config.ChannelConfig) error {
	if err := ch.EnsureTopic(ctx, cfg.Topic); err != nil {
		return fmt.Errorf("ensure topic %s: %w", cfg.Topic, err)
	}
	if err := ch.EnsureSubscription(ctx, cfg.Subscription, cfg.Topic); err != nil {
		return fmt.Errorf("ensure subscription %s: %w", cfg.Subscription, err)
	}
	return nil
}
