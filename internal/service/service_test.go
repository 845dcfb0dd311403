package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/name-pipeline/internal/channel"
	"github.com/richardliu001/name-pipeline/internal/metrics"
	"github.com/richardliu001/name-pipeline/internal/model"
	"github.com/richardliu001/name-pipeline/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	repo     *repo.Repository
	ch       *channel.Memory
	ingest   *IngestService
	consumer *DerivationService
	query    *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, log)
	t.Cleanup(func() { _ = r.Close() })

	ch := channel.NewMemory(channel.Options{
		Topic:             "name-topic",
		Subscription:      "name-subscription",
		VisibilityTimeout: time.Second,
		MaxDeliveries:     3,
	}, log)
	ch.RedeliveryDelay = time.Millisecond
	ctx := context.Background()
	require.NoError(t, ch.EnsureTopic(ctx, "name-topic"))
	require.NoError(t, ch.EnsureSubscription(ctx, "name-subscription", "name-topic"))

	m := metrics.New("test")
	return &fixture{
		repo:     r,
		ch:       ch,
		ingest:   NewIngestService(r, ch, m, log),
		consumer: NewDerivationService(r, ch, m, log),
		query:    NewQueryService(r, log),
	}
}

func (f *fixture) runConsumer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.consumer.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

// failingRepo fails the selected operations.
type failingRepo struct {
	repo.RepositoryInterface
	failCreateEntry bool
	failCreateFull  bool
	failList        bool
	mu              sync.Mutex
	fullNames       []string
}

var errDown = errors.New("connection refused")

func (r *failingRepo) CreateNameEntry(ctx context.Context, e *model.NameEntry) error {
	if r.failCreateEntry {
		return errDown
	}
	return r.RepositoryInterface.CreateNameEntry(ctx, e)
}

func (r *failingRepo) CreateFullName(ctx context.Context, f *model.FullName) error {
	if r.failCreateFull {
		return errDown
	}
	r.mu.Lock()
	r.fullNames = append(r.fullNames, f.FullName)
	r.mu.Unlock()
	return r.RepositoryInterface.CreateFullName(ctx, f)
}

func (r *failingRepo) ListNameEntries(ctx context.Context) ([]model.NameEntry, error) {
	if r.failList {
		return nil, errDown
	}
	return r.RepositoryInterface.ListNameEntries(ctx)
}

// countingPublisher records payloads and optionally fails.
type countingPublisher struct {
	payloads [][]byte
	err      error
}

func (p *countingPublisher) Publish(_ context.Context, payload []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("msg-%d", len(p.payloads)), nil
}
