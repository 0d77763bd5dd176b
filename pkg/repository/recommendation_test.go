package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/recsync/pkg/db"
	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/model"
)

func newTestRepository(t *testing.T) *RecommendationRepository {
	t.Helper()
	cfg := &db.Config{MaxOpenConns: 1, Logging: db.LoggingConfig{Level: "silent"}}
	m, err := db.NewManagerWithDialector(cfg, sqlite.Open(filepath.Join(t.TempDir(), "recs.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	repo := NewRecommendationRepository(m)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

func TestSession_BulkUpsertAndCommit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.BulkUpsert(ctx, []model.Recommendation{
		{ID: 1, RecommendedIDs: model.IDList{3, 2}},
		{ID: 2, RecommendedIDs: model.IDList{1, 3}},
	}))

	// uncommitted rows are visible inside the transaction
	got, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{3, 2}, got.RecommendedIDs)

	require.NoError(t, s.Commit(ctx))
	assert.True(t, s.Done())

	got, err = repo.FindByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{1, 3}, got.RecommendedIDs)
}

func TestSession_UpsertOverwritesOnConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.BulkUpsert(ctx, []model.Recommendation{{ID: 7, RecommendedIDs: model.IDList{1}}}))
	require.NoError(t, s.Commit(ctx))

	first, err := repo.FindByID(ctx, 7)
	require.NoError(t, err)

	s, err = repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.BulkUpsert(ctx, []model.Recommendation{{ID: 7, RecommendedIDs: model.IDList{9, 8, 7}}}))
	require.NoError(t, s.Commit(ctx))

	got, err := repo.FindByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{9, 8, 7}, got.RecommendedIDs)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt), "created_at is kept on conflict")
}

func TestSession_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, s.BulkUpsert(ctx, []model.Recommendation{{ID: 4, RecommendedIDs: model.IDList{1}}}))
	require.NoError(t, s.Rollback(ctx))

	// idempotent after finish
	assert.NoError(t, s.Rollback(ctx))
	assert.NoError(t, s.Close())
	assert.Error(t, s.Commit(ctx))

	_, err = repo.FindByID(ctx, 4)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSession_BulkUpsertFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Begin(ctx)
	require.NoError(t, err)

	// make the statement fail inside the open transaction
	require.NoError(t, s.tx.Exec("DROP TABLE "+model.TableName).Error)

	err = s.BulkUpsert(ctx, []model.Recommendation{{ID: 1, RecommendedIDs: model.IDList{2}}})
	require.Error(t, err)

	assert.ErrorIs(t, err, errs.ErrStore)
	assert.True(t, s.Done(), "failed upsert leaves no open transaction")
	assert.NoError(t, s.Rollback(ctx))
	assert.NoError(t, s.Close())

	// the rollback restored the dropped table
	_, err = repo.FindByID(ctx, 1)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSession_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	s, err := repo.Begin(ctx)
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.BulkUpsert(ctx, nil))
	_, err = s.GetByID(ctx, 99)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFindByID_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.FindByID(context.Background(), 12345)
	assert.True(t, errs.IsNotFound(err))
	assert.False(t, errs.IsStore(err))
}
