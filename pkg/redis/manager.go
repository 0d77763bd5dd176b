package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/model"
)

// Internal keys live in the SHADOW database and never collide with item keys
const (
	leaseKey    = "_internal:lease:shadow"
	shadowPurge = model.CacheKeyPrefix + ":*"
)

// Manager owns the connection pools of both cache generations
type Manager struct {
	config  *Config
	active  *redis.Client
	shadow  *redis.Client
	metrics *Metrics
}

// NewManager creates a new Redis manager for the ACTIVE and SHADOW generations
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	return &Manager{
		config:  config,
		active:  redis.NewClient(config.options(config.ActiveDatabase)),
		shadow:  redis.NewClient(config.options(config.ShadowDatabase)),
		metrics: NewMetrics(),
	}, nil
}

func (c *Config) options(database int) *redis.Options {
	return &redis.Options{
		Addr:            c.GetAddr(),
		Username:        c.Username,
		Password:        c.Password,
		DB:              database,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		ConnMaxLifetime: c.MaxConnAge,
		PoolTimeout:     c.PoolTimeout,
		ConnMaxIdleTime: c.IdleTimeout,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		DialTimeout:     c.DialTimeout,
	}
}

// GetMetrics returns the manager's metrics
func (m *Manager) GetMetrics() *Metrics {
	return m.metrics
}

// Close closes both connection pools
func (m *Manager) Close() error {
	var errList []error
	if m.active != nil {
		errList = append(errList, m.active.Close())
	}
	if m.shadow != nil {
		errList = append(errList, m.shadow.Close())
	}
	return errors.Join(errList...)
}

// Ping tests both generations
func (m *Manager) Ping(ctx context.Context) error {
	if m.active == nil || m.shadow == nil {
		return ErrClientNotInitialized
	}
	if err := m.active.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: active: %v", ErrConnectionFailed, err)
	}
	if err := m.shadow.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: shadow: %v", ErrConnectionFailed, err)
	}
	return nil
}

// ============================================================================
// READ OPERATIONS - ACTIVE generation only
// ============================================================================

// Get returns the raw ACTIVE value of key
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if m.active == nil {
		return nil, ErrClientNotInitialized
	}
	return getActive(ctx, m.active, key, m.metrics, m.config.Logging.LogCacheMisses)
}

// GetActive returns the ranked ids cached for an item
func (m *Manager) GetActive(ctx context.Context, id int64) (model.IDList, error) {
	raw, err := m.Get(ctx, model.CacheKey(id))
	if err != nil {
		return nil, err
	}
	var ids model.IDList
	if err := ids.UnmarshalCache(raw); err != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return ids, nil
}

func getActive(ctx context.Context, c redis.Cmdable, key string, metrics *Metrics, logMiss bool) ([]byte, error) {
	start := time.Now()
	val, err := c.Get(ctx, key).Bytes()
	metrics.RecordGet(time.Since(start))

	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss()
		if logMiss {
			logging.Ctx(ctx).Debug().Str("key", key).Msg("cache miss")
		}
		return nil, ErrKeyNotFound
	}
	if err != nil {
		metrics.RecordCacheError()
		return nil, errs.NewStoreError(errs.StoreCache, "get", err)
	}

	metrics.RecordCacheHit()
	return val, nil
}

// GetShadow returns the value staged in SHADOW for key. Inspection only:
// readers never consult the shadow generation.
func (m *Manager) GetShadow(ctx context.Context, key string) ([]byte, error) {
	val, err := m.shadow.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errs.NewStoreError(errs.StoreCache, "get_shadow", err)
	}
	return val, nil
}

// ============================================================================
// ADMIN
// ============================================================================

// PurgeShadow removes leftover staged values from the SHADOW generation using
// SCAN instead of KEYS. Leftovers only exist after a crash between staging and
// commit. Returns the number of deleted keys. Fails with ErrStagingRace while
// a writer holds the generation lease.
func (m *Manager) PurgeShadow(ctx context.Context) (int, error) {
	held, err := m.shadow.Exists(ctx, leaseKey).Result()
	if err != nil {
		return 0, errs.NewStoreError(errs.StoreCache, "purge_shadow", err)
	}
	if held > 0 {
		return 0, errs.ErrStagingRace
	}

	var (
		cursor  uint64
		deleted int
	)
	for {
		var batch []string
		batch, cursor, err = m.shadow.Scan(ctx, cursor, shadowPurge, m.config.Staging.ScanBatchSize).Result()
		if err != nil {
			return deleted, errs.NewStoreError(errs.StoreCache, "purge_shadow", err)
		}

		if len(batch) > 0 {
			if err := m.shadow.Del(ctx, batch...).Err(); err != nil {
				return deleted, errs.NewStoreError(errs.StoreCache, "purge_shadow", err)
			}
			deleted += len(batch)
		}

		// cursor == 0 means we've iterated through all keys
		if cursor == 0 {
			break
		}
	}

	logging.Ctx(ctx).Info().Int("deleted", deleted).Msg("shadow generation purged")
	return deleted, nil
}
