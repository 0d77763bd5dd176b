package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ammar0144/recsync/pkg/db"
	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns overwritten when an id already exists
var upsertColumns = []string{"recommended_ids", "updated_at"}

// RecommendationRepository is the relational store of recommendation records
type RecommendationRepository struct {
	manager *db.Manager
	db      *gorm.DB
}

// NewRecommendationRepository creates a repository over a database manager
func NewRecommendationRepository(manager *db.Manager) *RecommendationRepository {
	return &RecommendationRepository{
		manager: manager,
		db:      manager.DB(),
	}
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// FindByID reads a record outside of any transaction.
// Returns errs.ErrNotFound when the id has no record.
func (r *RecommendationRepository) FindByID(ctx context.Context, id int64) (*model.Recommendation, error) {
	ctx, cancel := r.manager.WithQueryTimeout(ctx)
	defer cancel()

	return findByID(r.db.WithContext(ctx), id)
}

func findByID(tx *gorm.DB, id int64) (*model.Recommendation, error) {
	var rec model.Recommendation
	err := tx.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreRelational, "get", err)
	}
	return &rec, nil
}

// ============================================================================
// TRANSACTIONS
// ============================================================================

// Begin opens a transaction owned by the returned session. ctx bounds the
// whole transaction: when it is cancelled the driver rolls the transaction back.
func (r *RecommendationRepository) Begin(ctx context.Context) (*Session, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, errs.NewStoreError(errs.StoreRelational, "begin", tx.Error)
	}
	return &Session{manager: r.manager, tx: tx}, nil
}

// AutoMigrate creates the recommendation table. Development and test databases only.
func (r *RecommendationRepository) AutoMigrate(ctx context.Context) error {
	models := make([]interface{}, 0, len(managedEntities))
	for _, e := range managedEntities {
		models = append(models, e)
	}
	if err := r.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", managedEntities[0].TableName(), err)
	}
	return nil
}

// Session is one relational transaction, exclusively owned by a unit of work
type Session struct {
	manager *db.Manager
	tx      *gorm.DB

	mu   sync.Mutex
	done bool
}

// BulkUpsert inserts or overwrites the batch in one statement. On failure the
// transaction is rolled back before the error is returned.
func (s *Session) BulkUpsert(ctx context.Context, batch []model.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return errs.NewStoreError(errs.StoreRelational, "bulk_upsert", sql.ErrTxDone)
	}
	if len(batch) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]model.Recommendation, len(batch))
	for i, rec := range batch {
		rows[i] = model.Recommendation{
			ID:             rec.ID,
			RecommendedIDs: rec.RecommendedIDs,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	opCtx, cancel := s.manager.WithQueryTimeout(ctx)
	defer cancel()

	err := s.tx.WithContext(opCtx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&rows).Error
	if err != nil {
		rbErr := s.rollbackLocked()
		return errs.NewStoreError(errs.StoreRelational, "bulk_upsert", errors.Join(err, rbErr))
	}
	return nil
}

// GetByID reads a record inside the transaction, so uncommitted upserts are visible
func (s *Session) GetByID(ctx context.Context, id int64) (*model.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, errs.NewStoreError(errs.StoreRelational, "get", sql.ErrTxDone)
	}

	opCtx, cancel := s.manager.WithQueryTimeout(ctx)
	defer cancel()
	return findByID(s.tx.WithContext(opCtx), id)
}

// Commit commits the transaction. Committing a finished session returns sql.ErrTxDone.
func (s *Session) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return errs.NewStoreError(errs.StoreRelational, "commit", sql.ErrTxDone)
	}
	s.done = true
	return errs.NewStoreError(errs.StoreRelational, "commit", s.tx.Commit().Error)
}

// Rollback rolls the transaction back. No-op once the session is finished.
func (s *Session) Rollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	if s.done {
		return nil
	}
	s.done = true
	err := s.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		// the driver already aborted it (context cancelled)
		return nil
	}
	return errs.NewStoreError(errs.StoreRelational, "rollback", err)
}

// Close rolls back a still-open transaction. Idempotent.
func (s *Session) Close() error {
	return s.Rollback(context.Background())
}

// Done reports whether the transaction has been committed or rolled back
func (s *Session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
