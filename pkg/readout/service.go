// Package readout answers "which items are similar to id" from the cache,
// falling back to the relational store.
package readout

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
	"github.com/ammar0144/recsync/pkg/model"
	"github.com/ammar0144/recsync/pkg/repository"
)

// Config configures the cache circuit breaker
type Config struct {
	// MaxRequests is the number of probes allowed in half-open state
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests" koanf:"max_requests"`

	// Interval is the cyclic reset period of the failure counts
	Interval time.Duration `json:"interval" yaml:"interval" koanf:"interval"`

	// Timeout is how long the breaker stays open before probing again
	Timeout time.Duration `json:"timeout" yaml:"timeout" koanf:"timeout"`

	// FailureThreshold is the number of consecutive cache failures that opens the breaker
	FailureThreshold uint32 `json:"failure_threshold" yaml:"failure_threshold" koanf:"failure_threshold"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Cache is the ACTIVE side of the recommendation cache
type Cache interface {
	GetActive(ctx context.Context, id int64) (model.IDList, error)
}

// Service looks up recommendations
type Service struct {
	cache   Cache
	db      repository.Reader
	breaker *gobreaker.CircuitBreaker[model.IDList]
}

// NewService creates a read-out service
func NewService(cache Cache, db repository.Reader, cfg Config) *Service {
	settings := gobreaker.Settings{
		Name:        "recommendation-cache",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a miss is an answer, not a cache failure
		IsSuccessful: func(err error) bool {
			return err == nil || errs.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CacheBreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache circuit breaker state changed")
		},
	}
	return &Service{
		cache:   cache,
		db:      db,
		breaker: gobreaker.NewCircuitBreaker[model.IDList](settings),
	}
}

// GetRecommendations returns the recommended ids for id in rank order. The
// cache is asked first; on a miss or a cache failure the relational store
// answers. Returns errs.ErrNotFound when neither store has the id and a
// *errs.StoreError when the relational store fails.
func (s *Service) GetRecommendations(ctx context.Context, id int64) ([]int64, error) {
	start := time.Now()

	ids, err := s.breaker.Execute(func() (model.IDList, error) {
		return s.cache.GetActive(ctx, id)
	})
	switch {
	case err == nil:
		metrics.RecordReadout(metrics.SourceCache, time.Since(start))
		return ids, nil
	case errs.IsNotFound(err):
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logging.Ctx(ctx).Debug().Int64("id", id).Msg("cache breaker open, reading from database")
	default:
		logging.Ctx(ctx).Warn().Err(err).Int64("id", id).Msg("cache read failed, reading from database")
	}

	// ACTIVE is written while a batch is staged, before the database commits,
	// so it can briefly run ahead; a miss is answered from the last committed row
	rec, err := s.db.FindByID(ctx, id)
	switch {
	case err == nil:
		metrics.RecordReadout(metrics.SourceDatabase, time.Since(start))
		return rec.RecommendedIDs, nil
	case errs.IsNotFound(err):
		metrics.RecordReadout(metrics.SourceMiss, time.Since(start))
		return nil, fmt.Errorf("recommendations for %d: %w", id, errs.ErrNotFound)
	default:
		metrics.RecordReadout(metrics.SourceError, time.Since(start))
		return nil, err
	}
}

// BreakerState returns the cache circuit breaker state
func (s *Service) BreakerState() string {
	return s.breaker.State().String()
}
