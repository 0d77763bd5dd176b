// Package pipeline turns an uploaded dataset into recommendations and
// publishes them to the relational store and the cache, one unit of work per
// batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/metrics"
	"github.com/ammar0144/recsync/pkg/model"
	"github.com/ammar0144/recsync/pkg/redis"
	"github.com/ammar0144/recsync/pkg/repository"
	"github.com/ammar0144/recsync/pkg/uow"
)

// Stores opens the two handles of one unit of work
type Stores interface {
	BeginRelational(ctx context.Context) (uow.RelationalStore, error)
	BeginCache(ctx context.Context) (uow.ShadowCache, error)
}

type stores struct {
	repo  repository.Store
	cache *redis.Manager
}

// NewStores pairs the recommendation repository with the cache manager
func NewStores(repo repository.Store, cache *redis.Manager) Stores {
	return &stores{repo: repo, cache: cache}
}

func (s *stores) BeginRelational(ctx context.Context) (uow.RelationalStore, error) {
	session, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *stores) BeginCache(ctx context.Context) (uow.ShadowCache, error) {
	handle, err := s.cache.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Publisher writes recommendation records to both stores
type Publisher struct {
	stores Stores
	config *Config
}

// NewPublisher creates a publisher. A nil config uses the defaults.
func NewPublisher(stores Stores, config *Config) *Publisher {
	if config == nil {
		config = DefaultConfig()
	}
	return &Publisher{stores: stores, config: config}
}

// Publish splits records into batches and commits them. In batch atomicity
// every batch is its own unit of work and the first failing batch stops the
// publish; batches committed before it stay committed.
func (p *Publisher) Publish(ctx context.Context, records []model.Recommendation) error {
	batches := split(records, p.config.BatchSize)
	if len(batches) == 0 {
		return nil
	}

	if p.config.Atomicity == AtomicityJob {
		return p.publishUnit(ctx, 0, batches)
	}

	for i, batch := range batches {
		if err := p.publishUnit(ctx, i, [][]model.Recommendation{batch}); err != nil {
			return fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}

// publishUnit runs one unit of work over the given batches. first is the
// index of the first batch, for logging.
func (p *Publisher) publishUnit(ctx context.Context, first int, batches [][]model.Recommendation) error {
	if p.config.Atomicity == AtomicityBatch && p.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.BatchTimeout)
		defer cancel()
	}

	start := time.Now()
	records := 0
	for _, b := range batches {
		records += len(b)
	}

	unit, err := p.begin(ctx)
	if err != nil {
		metrics.RecordBatch(metrics.OutcomeRolledBack, records, time.Since(start))
		return err
	}

	err = unit.Do(ctx, func(ctx context.Context) error {
		for i, batch := range batches {
			// relational write first; the cache only sees rows the database accepted
			if err := unit.DB.BulkUpsert(ctx, batch); err != nil {
				return err
			}
			if err := unit.Cache.BulkSet(ctx, batch); err != nil {
				return err
			}
			logging.Ctx(ctx).Debug().
				Int("batch", first+i+1).
				Int("records", len(batch)).
				Msg("batch staged")
		}
		return nil
	})

	outcome := metrics.OutcomeCommitted
	switch {
	case errors.Is(err, errs.ErrPartialCommit):
		outcome = metrics.OutcomePartial
	case err != nil:
		outcome = metrics.OutcomeRolledBack
	}
	metrics.RecordBatch(outcome, records, time.Since(start))

	logging.Ctx(ctx).Info().
		Int("first_batch", first+1).
		Int("batches", len(batches)).
		Int("records", records).
		Str("state", unit.State().String()).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("unit of work finished")
	return err
}

func (p *Publisher) begin(ctx context.Context) (*uow.UnitOfWork, error) {
	db, err := p.stores.BeginRelational(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := p.stores.BeginCache(ctx)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return uow.New(db, cache), nil
}

func split(records []model.Recommendation, size int) [][]model.Recommendation {
	if size < 1 {
		size = len(records)
	}
	var out [][]model.Recommendation
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}
