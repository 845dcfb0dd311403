package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/model"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"go.uber.org/zap"
)

// Publisher is the part of the message channel the ingest path needs.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) (string, error)
}

// IngestService stores raw names and requests their derivation.
type IngestService struct {
	repo    repo.RepositoryInterface
	pub     Publisher
	metrics *metrics.Collector
	log     *zap.SugaredLogger
}

// NewIngestService returns IngestService.
func NewIngestService(r repo.RepositoryInterface, p Publisher, m *metrics.Collector, logger *zap.SugaredLogger) *IngestService {
	return &IngestService{repo: r, pub: p, metrics: m, log: logger}
}

// CreateName writes the entry, then publishes its derivation message.
// A publish failure leaves the entry stored; there is no retry or rollback.
func (s *IngestService) CreateName(ctx context.Context, lastName, firstName string) (*model.NameEntry, error) {
	if lastName == "" {
		return nil, fmt.Errorf("%w: lastName must not be empty", ErrValidation)
	}
	if firstName == "" {
		return nil, fmt.Errorf("%w: firstName must not be empty", ErrValidation)
	}

	entry := &model.NameEntry{LastName: lastName, FirstName: firstName}
	if err := s.repo.CreateNameEntry(ctx, entry); err != nil {
		s.log.Errorf("save name entry: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.metrics.NamesCreated.Inc()
	s.log.Infof("name entry saved with id %s", entry.ID)

	if err := s.publish(ctx, entry); err != nil {
		s.metrics.PublishFailures.Inc()
		s.log.Errorf("publish derivation for entry %s: %v", entry.ID, err)
		return nil, err
	}
	return entry, nil
}

// Republish sends a fresh derivation message for each entry and returns how
// many were accepted. It stops at the first failure.
func (s *IngestService) Republish(ctx context.Context, entries []model.NameEntry) (int, error) {
	for i := range entries {
		if err := s.publish(ctx, &entries[i]); err != nil {
			return i, err
		}
		s.log.Infof("republished derivation for entry %s", entries[i].ID)
	}
	return len(entries), nil
}

func (s *IngestService) publish(ctx context.Context, e *model.NameEntry) error {
	payload, err := model.NewDerivationMessage(e).Encode()
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPublish, err)
	}
	id, err := s.pub.Publish(ctx, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	s.log.Infof("message published: %s", id)
	return nil
}
