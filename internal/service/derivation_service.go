package service

import (
	"context"

	"github.com/richardliu001/name-pipeline/internal/channel"
	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/model"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"go.uber.org/zap"
)

// Subscriber is the part of the message channel the consumer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, handler channel.Handler) error
}

// DerivationService turns derivation messages into FullName records.
//
// Handling is not idempotent: a message redelivered after its FullName was
// written (for example a lost ack) produces a second row with the same value.
type DerivationService struct {
	repo    repo.RepositoryInterface
	sub     Subscriber
	metrics *metrics.Collector
	log     *zap.SugaredLogger
}

// NewDerivationService returns DerivationService.
func NewDerivationService(r repo.RepositoryInterface, sub Subscriber, m *metrics.Collector, logger *zap.SugaredLogger) *DerivationService {
	return &DerivationService{repo: r, sub: sub, metrics: m, log: logger}
}

// Run registers Handle and blocks until ctx is cancelled.
func (s *DerivationService) Run(ctx context.Context) error {
	s.log.Info("consumer started")
	return s.sub.Subscribe(ctx, s.Handle)
}

// Handle processes one delivery. Undecodable payloads are rejected for good;
// storage failures are nacked so the channel redelivers.
func (s *DerivationService) Handle(ctx context.Context, msg *channel.Message) channel.Result {
	res := s.handle(ctx, msg)
	s.metrics.MessagesProcessed.WithLabelValues(res.String()).Inc()
	return res
}

func (s *DerivationService) handle(ctx context.Context, msg *channel.Message) channel.Result {
	dm, err := model.DecodeDerivationMessage(msg.Data)
	if err != nil {
		s.log.Warnf("message %s: %v", msg.ID, err)
		return channel.Reject
	}
	s.log.Infof("processing message %s for entry %s (attempt %d)", msg.ID, dm.NameEntryID, msg.Attempt)

	fn := &model.FullName{FullName: dm.FullName()}
	if err := s.repo.CreateFullName(ctx, fn); err != nil {
		s.log.Errorf("save full name for message %s: %v", msg.ID, err)
		return channel.Nack
	}
	s.metrics.FullNamesCreated.Inc()
	s.log.Infof("saved full name %s with id %s", fn.FullName, fn.ID)
	return channel.Ack
}
