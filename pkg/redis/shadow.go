package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/model"
)

// Lease scripts compare the owner token before touching the lease key
var (
	refreshLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// ShadowCache is one staging handle over the two cache generations. It is
// exclusively owned by a single unit of work and holds one dedicated
// connection per generation until Close.
//
// Only keys staged through this handle are restored on rollback or dropped on
// commit, and the shadow generation has a single writer at a time (lease).
type ShadowCache struct {
	manager *Manager
	active  *redis.Conn
	shadow  *redis.Conn
	token   string

	mu       sync.Mutex
	leased   bool
	lost     bool // lease expired under this handle; SHADOW is no longer ours
	finished bool
	closed   bool
	staged   map[string]struct{} // prior ACTIVE value copied into SHADOW
	created  map[string]struct{} // no prior ACTIVE value
}

// Begin opens a staging handle. The generation lease is taken lazily by the
// first BulkSet so that an idle unit of work does not block other writers.
func (m *Manager) Begin(ctx context.Context) (*ShadowCache, error) {
	if m.active == nil || m.shadow == nil {
		return nil, ErrClientNotInitialized
	}

	h := &ShadowCache{
		manager: m,
		active:  m.active.Conn(),
		shadow:  m.shadow.Conn(),
		token:   uuid.NewString(),
		staged:  make(map[string]struct{}),
		created: make(map[string]struct{}),
	}
	return h, nil
}

// ============================================================================
// STAGING
// ============================================================================

// BulkSet writes the batch into ACTIVE after copying every prior ACTIVE value
// into SHADOW. All reads go out as one MGET, staging writes as one pipeline
// that completes before the ACTIVE writes are sent in one MULTI/EXEC.
func (h *ShadowCache) BulkSet(ctx context.Context, batch []model.Recommendation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished || h.closed {
		return ErrHandleFinished
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := h.holdLease(ctx); err != nil {
		return err
	}

	keys := make([]string, len(batch))
	values := make([][]byte, len(batch))
	for i, rec := range batch {
		raw, err := rec.RecommendedIDs.MarshalCache()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
		}
		keys[i] = rec.CacheKey()
		values[i] = raw
	}

	// 1. read current ACTIVE values
	prior, err := h.active.MGet(ctx, keys...).Result()
	if err != nil {
		return errs.NewStoreError(errs.StoreCache, "bulk_set", err)
	}

	// 2. stage prior values not yet staged by this handle. A SHADOW value left
	// by a writer whose lease expired is the older pre-image and is kept.
	var stagedNow, createdNow []string
	seen := make(map[string]struct{}, len(keys))
	kept := make([]*redis.BoolCmd, 0, len(keys))
	pipe := h.shadow.Pipeline()
	for i, key := range keys {
		if _, dup := seen[key]; dup || h.tracked(key) {
			continue
		}
		seen[key] = struct{}{}
		old, ok := prior[i].(string)
		if !ok {
			createdNow = append(createdNow, key)
			continue
		}
		kept = append(kept, pipe.SetNX(ctx, key, old, 0))
		stagedNow = append(stagedNow, key)
	}
	if len(stagedNow) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return errs.NewStoreError(errs.StoreCache, "stage", err)
		}
		for i, cmd := range kept {
			if !cmd.Val() {
				logging.Ctx(ctx).Warn().Str("key", stagedNow[i]).Msg("kept pre-image staged by an expired writer")
			}
		}
	}
	for _, key := range stagedNow {
		h.staged[key] = struct{}{}
	}
	for _, key := range createdNow {
		h.created[key] = struct{}{}
	}

	// 3. write the new generation
	_, err = h.active.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			p.Set(ctx, key, values[i], 0)
		}
		return nil
	})
	if err != nil {
		return errs.NewStoreError(errs.StoreCache, "bulk_set", err)
	}

	h.manager.metrics.RecordBulkSet(len(keys), len(stagedNow), len(createdNow), time.Since(start))
	if h.manager.config.Logging.LogStaging {
		logging.Ctx(ctx).Debug().
			Int("keys", len(keys)).
			Int("staged", len(stagedNow)).
			Int("created", len(createdNow)).
			Msg("cache batch staged")
	}
	return nil
}

func (h *ShadowCache) tracked(key string) bool {
	if _, ok := h.staged[key]; ok {
		return true
	}
	_, ok := h.created[key]
	return ok
}

// Get reads the ACTIVE value of key
func (h *ShadowCache) Get(ctx context.Context, key string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandleFinished
	}
	return getActive(ctx, h.active, key, h.manager.metrics, h.manager.config.Logging.LogCacheMisses)
}

// StagedKeys returns the number of keys staged in SHADOW and the number of
// keys created in ACTIVE by this handle
func (h *ShadowCache) StagedKeys() (staged, created int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.staged), len(h.created)
}

// ============================================================================
// OUTCOME
// ============================================================================

// Commit drops the staged SHADOW values; the ACTIVE generation already holds
// the new values. No-op once the handle is finished.
func (h *ShadowCache) Commit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished {
		return nil
	}
	if h.closed {
		return ErrHandleFinished
	}
	h.finished = true

	if err := h.ownLease(ctx); err != nil {
		return err
	}
	err := h.deleteShadow(ctx, h.keys(h.staged))
	err = errors.Join(err, h.releaseLease(ctx))
	if err != nil {
		return errs.NewStoreError(errs.StoreCache, "commit", err)
	}

	h.manager.metrics.RecordCommit()
	return nil
}

// Rollback restores ACTIVE from SHADOW for every key staged by this handle,
// removes keys it created, then drops the staged SHADOW values.
// No-op once the handle is finished.
func (h *ShadowCache) Rollback(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished || h.closed {
		return nil
	}
	h.finished = true

	if err := h.ownLease(ctx); err != nil {
		return err
	}
	restored, err := h.restore(ctx)
	if err == nil {
		err = h.deleteShadow(ctx, h.keys(h.staged))
	}
	err = errors.Join(err, h.releaseLease(ctx))
	if err != nil {
		return errs.NewStoreError(errs.StoreCache, "rollback", err)
	}

	h.manager.metrics.RecordRollback(restored)
	logging.Ctx(ctx).Info().
		Int("restored", restored).
		Int("removed", len(h.created)).
		Msg("cache generation rolled back")
	return nil
}

func (h *ShadowCache) restore(ctx context.Context) (int, error) {
	staged := h.keys(h.staged)
	created := h.keys(h.created)
	restored := 0
	size := h.manager.config.Staging.DeleteBatch

	for _, chunk := range chunks(staged, size) {
		old, err := h.shadow.MGet(ctx, chunk...).Result()
		if err != nil {
			return restored, err
		}
		_, err = h.active.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for i, key := range chunk {
				if v, ok := old[i].(string); ok {
					p.Set(ctx, key, v, 0)
				}
			}
			return nil
		})
		if err != nil {
			return restored, err
		}
		for _, v := range old {
			if _, ok := v.(string); ok {
				restored++
			}
		}
	}

	for _, chunk := range chunks(created, size) {
		if err := h.active.Del(ctx, chunk...).Err(); err != nil {
			return restored, err
		}
	}
	return restored, nil
}

func (h *ShadowCache) deleteShadow(ctx context.Context, keys []string) error {
	for _, chunk := range chunks(keys, h.manager.config.Staging.DeleteBatch) {
		if err := h.shadow.Del(ctx, chunk...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the lease if still held and returns both dedicated
// connections to their pools. Idempotent; safe after Commit or Rollback.
func (h *ShadowCache) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), h.manager.config.WriteTimeout+time.Second)
	defer cancel()

	return errors.Join(
		h.releaseLease(ctx),
		h.active.Close(),
		h.shadow.Close(),
	)
}

func (h *ShadowCache) keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func chunks(keys []string, size int) [][]string {
	if size < 1 {
		size = len(keys)
	}
	var out [][]string
	for len(keys) > 0 {
		n := min(size, len(keys))
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}

// ============================================================================
// LEASE - single writer per shadow generation
// ============================================================================

// holdLease takes the lease on first use and refreshes it afterwards
func (h *ShadowCache) holdLease(ctx context.Context) error {
	if h.lost {
		return ErrLeaseLost
	}
	if h.leased {
		return h.refreshLease(ctx)
	}

	ttl := h.manager.config.Staging.LeaseTTL
	wait := h.manager.config.Staging.LeaseWait
	poll := h.manager.config.Staging.LeasePoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	for attempt := 0; ; attempt++ {
		ok, err := h.shadow.SetNX(ctx, leaseKey, h.token, ttl).Result()
		if err != nil {
			return errs.NewStoreError(errs.StoreCache, "lease", err)
		}
		if ok {
			h.leased = true
			if attempt > 0 {
				h.manager.metrics.RecordLeaseWait()
			}
			return nil
		}
		if time.Now().Add(poll).After(deadline) {
			h.manager.metrics.RecordLeaseRace()
			return fmt.Errorf("%w: waited %s", errs.ErrStagingRace, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// ownLease verifies that SHADOW may still be changed by this handle. A handle
// that never staged anything holds no lease and owns nothing.
func (h *ShadowCache) ownLease(ctx context.Context) error {
	if h.lost {
		return ErrLeaseLost
	}
	if !h.leased {
		return nil
	}
	return h.refreshLease(ctx)
}

func (h *ShadowCache) refreshLease(ctx context.Context) error {
	ttl := h.manager.config.Staging.LeaseTTL
	ok, err := refreshLeaseScript.Run(ctx, h.shadow, []string{leaseKey}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return errs.NewStoreError(errs.StoreCache, "lease", err)
	}
	if ok == 0 {
		h.leased = false
		h.lost = true
		h.manager.metrics.RecordLeaseRace()
		return ErrLeaseLost
	}
	return nil
}

func (h *ShadowCache) releaseLease(ctx context.Context) error {
	if !h.leased {
		return nil
	}
	h.leased = false
	return releaseLeaseScript.Run(ctx, h.shadow, []string{leaseKey}, h.token).Err()
}
