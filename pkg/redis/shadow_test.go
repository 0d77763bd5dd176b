package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/model"
)

func newTestManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port
	cfg.Staging.LeaseWait = 50 * time.Millisecond
	cfg.Staging.LeasePoll = 10 * time.Millisecond

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func rec(id int64, ids ...int64) model.Recommendation {
	return model.Recommendation{ID: id, RecommendedIDs: ids}
}

func shadowHas(mr *miniredis.Miniredis, key string) bool {
	return mr.DB(1).Exists(key)
}

func TestShadowCache_CommitWithoutPriorValue(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(5, 1, 2)}))
	assert.False(t, shadowHas(mr, "videos_id:5"), "nothing to stage")

	require.NoError(t, h.Commit(ctx))

	got, err := m.GetActive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{1, 2}, got)
	assert.False(t, shadowHas(mr, "videos_id:5"))
}

func TestShadowCache_CommitClearsStagedValues(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:1", "[7]"))
	require.NoError(t, mr.DB(0).Set("videos_id:2", "[8]"))

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	batch := []model.Recommendation{rec(1, 2, 3), rec(2, 1, 3)}
	require.NoError(t, h.BulkSet(ctx, batch))

	// prior values are staged before the active write
	old, err := m.GetShadow(ctx, "videos_id:1")
	require.NoError(t, err)
	assert.Equal(t, "[7]", string(old))
	staged, created := h.StagedKeys()
	assert.Equal(t, 2, staged)
	assert.Equal(t, 0, created)

	require.NoError(t, h.Commit(ctx))
	_, err = m.GetShadow(ctx, "videos_id:1")
	assert.True(t, IsKeyNotFound(err))

	for _, r := range batch {
		assert.False(t, shadowHas(mr, r.CacheKey()))
		got, err := m.GetActive(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.RecommendedIDs, got)
	}
	assert.Equal(t, uint64(1), m.GetMetrics().GetSnapshot().Commits)
}

func TestShadowCache_RollbackRestoresPriorValue(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:5", "[9,9]"))

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(5, 1, 2)}))
	got, err := m.GetActive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{1, 2}, got)

	require.NoError(t, h.Rollback(ctx))

	got, err = m.GetActive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{9, 9}, got)
	assert.Empty(t, mr.DB(1).Keys(), "shadow generation is empty")
}

func TestShadowCache_RollbackRemovesCreatedKeys(t *testing.T) {
	ctx := context.Background()
	_, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(11, 1)}))
	require.NoError(t, h.Rollback(ctx))

	_, err = m.GetActive(ctx, 11)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestShadowCache_StagesOnlyOncePerHandle(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:3", "[1]"))

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(3, 2)}))
	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(3, 4)}))

	old, err := mr.DB(1).Get("videos_id:3")
	require.NoError(t, err)
	assert.Equal(t, "[1]", old, "second write must not stage the speculative value")

	require.NoError(t, h.Rollback(ctx))
	got, err := m.GetActive(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{1}, got)
}

func TestShadowCache_SingleWriterLease(t *testing.T) {
	ctx := context.Background()
	_, m := newTestManager(t)

	first, err := m.Begin(ctx)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.BulkSet(ctx, []model.Recommendation{rec(1, 2)}))

	second, err := m.Begin(ctx)
	require.NoError(t, err)
	defer second.Close()

	err = second.BulkSet(ctx, []model.Recommendation{rec(1, 3)})
	assert.ErrorIs(t, err, errs.ErrStagingRace)

	_, err = m.PurgeShadow(ctx)
	assert.ErrorIs(t, err, errs.ErrStagingRace)

	require.NoError(t, first.Commit(ctx))
	require.NoError(t, second.BulkSet(ctx, []model.Recommendation{rec(1, 3)}))
	require.NoError(t, second.Commit(ctx))

	got, err := m.GetActive(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{3}, got)
	assert.Equal(t, uint64(1), m.GetMetrics().GetSnapshot().LeaseRaces)
}

func TestShadowCache_LeaseLost(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(1, 2)}))

	mr.DB(1).Del(leaseKey)

	err = h.BulkSet(ctx, []model.Recommendation{rec(2, 1)})
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, errs.IsStagingRace(err))
}

func TestShadowCache_ExpiredWriterCannotFinish(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:5", "[9,9]"))

	a, err := m.Begin(ctx)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.BulkSet(ctx, []model.Recommendation{rec(5, 1)}))

	mr.FastForward(m.config.Staging.LeaseTTL + time.Second)

	b, err := m.Begin(ctx)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.BulkSet(ctx, []model.Recommendation{rec(5, 2)}))

	err = a.Rollback(ctx)
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, errs.IsStagingRace(err))
	active, err := mr.DB(0).Get("videos_id:5")
	require.NoError(t, err)
	assert.Equal(t, "[2]", active, "expired writer leaves ACTIVE alone")
	staged, err := mr.DB(1).Get("videos_id:5")
	require.NoError(t, err)
	assert.Equal(t, "[9,9]", staged, "oldest pre-image is kept in SHADOW")

	require.NoError(t, b.Rollback(ctx))
	got, err := m.GetActive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, model.IDList{9, 9}, got)
	assert.False(t, shadowHas(mr, "videos_id:5"))
}

func TestShadowCache_ExpiredWriterCommitKeepsShadow(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:5", "[9,9]"))

	a, err := m.Begin(ctx)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.BulkSet(ctx, []model.Recommendation{rec(5, 1)}))

	mr.FastForward(m.config.Staging.LeaseTTL + time.Second)

	assert.ErrorIs(t, a.Commit(ctx), ErrLeaseLost)
	assert.True(t, shadowHas(mr, "videos_id:5"), "staged value survives for the next writer")
	assert.ErrorIs(t, a.BulkSet(ctx, []model.Recommendation{rec(6, 1)}), ErrHandleFinished)
}

func TestShadowCache_RollbackCountsRestoredKeys(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(0).Set("videos_id:1", "[7]"))
	require.NoError(t, mr.DB(0).Set("videos_id:2", "[8]"))

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(1, 3), rec(2, 3)}))

	mr.DB(1).Del("videos_id:2")

	require.NoError(t, h.Rollback(ctx))
	assert.Equal(t, uint64(1), m.GetMetrics().GetSnapshot().KeysRestored)
	old, err := mr.DB(0).Get("videos_id:1")
	require.NoError(t, err)
	assert.Equal(t, "[7]", old)
}

func TestShadowCache_Lifecycle(t *testing.T) {
	ctx := context.Background()
	_, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Commit(ctx))
	assert.NoError(t, h.Commit(ctx))
	assert.NoError(t, h.Rollback(ctx))
	assert.ErrorIs(t, h.BulkSet(ctx, []model.Recommendation{rec(1, 2)}), ErrHandleFinished)

	assert.NoError(t, h.Close())
	assert.NoError(t, h.Close())
}

func TestShadowCache_CloseReleasesLease(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, h.BulkSet(ctx, []model.Recommendation{rec(1, 2)}))
	assert.True(t, mr.DB(1).Exists(leaseKey))

	require.NoError(t, h.Close())
	assert.False(t, mr.DB(1).Exists(leaseKey))
}

func TestShadowCache_StoreFailure(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)

	h, err := m.Begin(ctx)
	require.NoError(t, err)
	defer h.Close()

	mr.SetError("LOADING server is loading")
	err = h.BulkSet(ctx, []model.Recommendation{rec(1, 2)})
	assert.True(t, errs.IsStore(err))
	mr.SetError("")
}

func TestManager_GetMiss(t *testing.T) {
	ctx := context.Background()
	_, m := newTestManager(t)

	_, err := m.Get(ctx, "videos_id:404")
	assert.True(t, IsKeyNotFound(err))
	assert.True(t, errs.IsNotFound(err))
	assert.Equal(t, uint64(1), m.GetMetrics().GetSnapshot().CacheMisses)
}

func TestManager_PurgeShadow(t *testing.T) {
	ctx := context.Background()
	mr, m := newTestManager(t)
	require.NoError(t, mr.DB(1).Set("videos_id:1", "[2]"))
	require.NoError(t, mr.DB(1).Set("videos_id:2", "[1]"))
	require.NoError(t, mr.DB(0).Set("videos_id:1", "[3]"))

	n, err := m.PurgeShadow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, mr.DB(1).Keys())
	assert.True(t, mr.DB(0).Exists("videos_id:1"), "active generation untouched")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.ShadowDatabase = cfg.ActiveDatabase
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Staging.LeaseTTL = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())
}
