package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const attemptHeader = "attempt"

// kafkaReader is the consumer-group side of kafka.Reader.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaWriter is the producing side of kafka.Writer.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka maps topics to Kafka topics and the subscription to a consumer group.
// Nack re-publishes the record with a bumped attempt header and commits the
// original offset.
type Kafka struct {
	opts      Options
	brokers   []string
	writer    kafkaWriter
	newReader func() kafkaReader
	log       *zap.SugaredLogger

	mu         sync.Mutex
	reader     kafkaReader
	subscribed bool
}

// NewKafka builds the writer; no connection is made until first use.
func NewKafka(brokers []string, opts Options, log *zap.SugaredLogger) *Kafka {
	opts = opts.withDefaults()
	return &Kafka{
		opts:    opts,
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		newReader: func() kafkaReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:  brokers,
				GroupID:  opts.Subscription,
				Topic:    opts.Topic,
				MinBytes: 1,
				MaxBytes: 10e6,
			})
		},
		log: log,
	}
}

func (k *Kafka) controller(ctx context.Context) (*kafka.Conn, error) {
	if len(k.brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", k.brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	ctrl, err := conn.Controller()
	if err != nil {
		return nil, err
	}
	var d kafka.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port)))
}

func (k *Kafka) EnsureTopic(ctx context.Context, name string) error {
	conn, err := k.controller(ctx)
	if err != nil {
		return unavailable("ensure topic", err)
	}
	defer conn.Close()
	err = conn.CreateTopics(kafka.TopicConfig{Topic: name, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", name, err)
	}
	k.log.Infof("topic %s ready", name)
	return nil
}

// EnsureSubscription makes sure the topic and the dead-letter topic exist.
// Consumer groups are created by the broker on first join.
func (k *Kafka) EnsureSubscription(ctx context.Context, name, topic string) error {
	if err := k.EnsureTopic(ctx, topic); err != nil {
		return err
	}
	if err := k.EnsureTopic(ctx, k.opts.DeadLetterTopic); err != nil {
		return err
	}
	k.log.Infof("consumer group %s bound to %s", name, topic)
	return nil
}

func (k *Kafka) Publish(ctx context.Context, payload []byte) (string, error) {
	id := uuid.NewString()
	if err := k.write(ctx, k.opts.Topic, id, payload, 1); err != nil {
		return "", unavailable("publish", err)
	}
	return id, nil
}

func (k *Kafka) write(ctx context.Context, topic, id string, payload []byte, attempt int) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(id),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: attemptHeader, Value: []byte(strconv.Itoa(attempt))},
		},
	})
}

func (k *Kafka) Subscribe(ctx context.Context, h Handler) error {
	k.mu.Lock()
	if k.subscribed {
		k.mu.Unlock()
		return ErrAlreadySubscribed
	}
	k.subscribed = true
	k.reader = k.newReader()
	reader := k.reader
	k.mu.Unlock()

	k.log.Infof("listening for messages on group %s", k.opts.Subscription)
	k.consume(ctx, reader, h)
	return nil
}

// consume fetches, dispatches and commits one record at a time. Group offsets
// are cumulative, so a record is never fetched past until it is settled.
func (k *Kafka) consume(ctx context.Context, reader kafkaReader, h Handler) {
	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			k.log.Errorf("fetch message: %v", err)
			if !sleep(ctx, k.opts.RetryBackoff) {
				return
			}
			continue
		}
		msg := &Message{
			ID:          string(km.Key),
			Data:        km.Value,
			Attempt:     attemptOf(km.Headers),
			PublishTime: km.Time,
		}
		res := dispatch(ctx, k.log, k.opts.VisibilityTimeout, h, msg)
		for {
			err := k.settle(ctx, msg, res)
			if err == nil {
				break
			}
			k.log.Errorf("settle message %s (%s): %v", msg.ID, res, err)
			if !sleep(ctx, k.opts.RetryBackoff) {
				return
			}
		}
		if err := reader.CommitMessages(ctx, km); err != nil {
			k.log.Errorf("commit message %s: %v", msg.ID, err)
		}
	}
}

func (k *Kafka) settle(ctx context.Context, msg *Message, res Result) error {
	switch {
	case res == Ack:
		return nil
	case res == Reject || k.opts.exhausted(msg.Attempt):
		k.log.Warnf("message %s moved to %s after %d attempt(s)", msg.ID, k.opts.DeadLetterTopic, msg.Attempt)
		return k.write(ctx, k.opts.DeadLetterTopic, msg.ID, msg.Data, msg.Attempt)
	default:
		return k.write(ctx, k.opts.Topic, msg.ID, msg.Data, msg.Attempt+1)
	}
}

func attemptOf(headers []kafka.Header) int {
	for _, h := range headers {
		if h.Key == attemptHeader {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 1
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var errs []error
	if k.reader != nil {
		errs = append(errs, k.reader.Close())
	}
	errs = append(errs, k.writer.Close())
	return errors.Join(errs...)
}
