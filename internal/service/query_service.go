package service

import (
	"context"
	"fmt"

	"github.com/richardliu001/name-pipeline/internal/model"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"go.uber.org/zap"
)

// Entries is the listing returned to the UI.
type Entries struct {
	NameEntries []model.NameEntry `json:"nameEntries"`
	FullNames   []model.FullName  `json:"fullNames"`
}

// QueryService is the read side.
type QueryService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewQueryService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *QueryService {
	return &QueryService{repo: r, log: logger}
}

// ListEntries returns both record kinds, newest first.
func (s *QueryService) ListEntries(ctx context.Context) (*Entries, error) {
	entries, err := s.repo.ListNameEntries(ctx)
	if err != nil {
		s.log.Errorf("list name entries: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	names, err := s.repo.ListFullNames(ctx)
	if err != nil {
		s.log.Errorf("list full names: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return &Entries{NameEntries: entries, FullNames: names}, nil
}
