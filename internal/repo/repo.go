package repo

import (
	"context"
	"time"

	"github.com/richardliu001/name-pipeline/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// RepositoryInterface restricts Repo methods so services can be tested with fakes.
type RepositoryInterface interface {
	CreateNameEntry(ctx context.Context, e *model.NameEntry) error
	CreateFullName(ctx context.Context, f *model.FullName) error
	ListNameEntries(ctx context.Context) ([]model.NameEntry, error)
	ListFullNames(ctx context.Context) ([]model.FullName, error)
	FindNameEntries(ctx context.Context, ids []string, since time.Time) ([]model.NameEntry, error)
}

// Repository implements RepositoryInterface on gorm.
type Repository struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// Open connects to postgres and migrates the two tables.
func Open(dsn string, logger *zap.SugaredLogger) (*Repository, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	logger.Info("postgres connected, tables migrated")
	return NewRepository(gdb, logger), nil
}

// Migrate creates or updates the name_entry and full_name tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.NameEntry{}, &model.FullName{})
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, log: logger}
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateNameEntry inserts one raw entry; ID and CreatedAt are filled in.
func (r *Repository) CreateNameEntry(ctx context.Context, e *model.NameEntry) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		r.log.Warnw("insert failed", "table", e.TableName(), "err", err)
		return err
	}
	return nil
}

// CreateFullName inserts one derived record.
func (r *Repository) CreateFullName(ctx context.Context, f *model.FullName) error {
	if err := r.db.WithContext(ctx).Create(f).Error; err != nil {
		r.log.Warnw("insert failed", "table", f.TableName(), "err", err)
		return err
	}
	return nil
}

// ListNameEntries returns every entry, newest first.
func (r *Repository) ListNameEntries(ctx context.Context) ([]model.NameEntry, error) {
	entries := []model.NameEntry{}
	err := r.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&entries).Error
	if err != nil {
		r.log.Warnw("query failed", "table", model.NameEntry{}.TableName(), "err", err)
	}
	return entries, err
}

// ListFullNames returns every derived record, newest first.
func (r *Repository) ListFullNames(ctx context.Context) ([]model.FullName, error) {
	names := []model.FullName{}
	err := r.db.WithContext(ctx).Order("created_at desc").Order("id desc").Find(&names).Error
	if err != nil {
		r.log.Warnw("query failed", "table", model.FullName{}.TableName(), "err", err)
	}
	return names, err
}

// FindNameEntries selects entries by id and/or creation time, oldest first.
// Empty ids and zero since mean no filter on that column.
func (r *Repository) FindNameEntries(ctx context.Context, ids []string, since time.Time) ([]model.NameEntry, error) {
	q := r.db.WithContext(ctx)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since)
	}
	entries := []model.NameEntry{}
	err := q.Order("created_at asc").Find(&entries).Error
	if err != nil {
		r.log.Warnw("query failed", "table", model.NameEntry{}.TableName(), "err", err)
	}
	return entries, err
}
