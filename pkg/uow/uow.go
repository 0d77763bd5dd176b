// Package uow groups the writes of one batch across the relational store and
// the shadow cache into a single commit or rollback decision.
//
// The two stores are independent commit targets. The relational store commits
// first; when the cache commit then fails the database is ahead of the cache
// and ErrPartialCommit is returned instead of being masked.
package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ammar0144/recsync/pkg/errs"
	"github.com/ammar0144/recsync/pkg/logging"
	"github.com/ammar0144/recsync/pkg/model"
)

// RelationalStore is the capability set of a transactional relational handle
type RelationalStore interface {
	BulkUpsert(ctx context.Context, batch []model.Recommendation) error
	GetByID(ctx context.Context, id int64) (*model.Recommendation, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// ShadowCache is the capability set of a staging cache handle
type ShadowCache interface {
	BulkSet(ctx context.Context, batch []model.Recommendation) error
	Get(ctx context.Context, key string) ([]byte, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close() error
}

// State of a unit of work
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrUnitClosed is returned when Do is called on a finished unit of work
var ErrUnitClosed = errors.New("unit of work already finished")

// UnitOfWork wraps one relational handle and one cache handle
type UnitOfWork struct {
	DB    RelationalStore
	Cache ShadowCache

	mu    sync.Mutex
	state State
	used  bool
}

// New creates a unit of work in the open state
func New(db RelationalStore, cache ShadowCache) *UnitOfWork {
	return &UnitOfWork{DB: db, Cache: cache, state: StateOpen}
}

// State returns the current state
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Do runs fn inside the unit of work. A nil result commits the relational
// store then the cache. An error or panic rolls both back in the same order
// and closes both; the original error is returned (joined with any rollback
// failure) and a panic is re-raised after the rollback.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	u.mu.Lock()
	if u.used {
		u.mu.Unlock()
		return ErrUnitClosed
	}
	u.used = true
	u.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			rbErr := u.rollback(ctx)
			logging.Ctx(ctx).Error().Interface("panic", p).AnErr("rollback_error", rbErr).Msg("unit of work panicked, rolled back")
			panic(p)
		}
	}()

	if err = fn(ctx); err != nil {
		return errors.Join(err, u.rollback(ctx))
	}
	return u.commit(ctx)
}

func (u *UnitOfWork) commit(ctx context.Context) error {
	if err := u.DB.Commit(ctx); err != nil {
		// nothing is durable yet: undo the cache generation as well
		return errors.Join(err, u.rollback(ctx))
	}

	// the relational commit is the point of no return: ACTIVE already holds
	// the new values, only the staged SHADOW copies are left behind
	if err := u.Cache.Commit(ctx); err != nil {
		u.finish(StateCommitted)
		closeErr := u.closeAll()
		logging.Ctx(ctx).Error().Err(err).Msg("relational store committed but cache commit failed")
		return errors.Join(fmt.Errorf("%w: %w", errs.ErrPartialCommit, err), closeErr)
	}

	u.finish(StateCommitted)
	return u.closeAll()
}

// rollback runs both rollbacks even if the first fails, then closes both handles
func (u *UnitOfWork) rollback(ctx context.Context) error {
	// the caller's deadline may be what failed the batch
	rbCtx := context.WithoutCancel(ctx)

	dbErr := u.DB.Rollback(rbCtx)
	cacheErr := u.Cache.Rollback(rbCtx)
	u.finish(StateRolledBack)

	return errors.Join(dbErr, cacheErr, u.closeAll())
}

func (u *UnitOfWork) closeAll() error {
	return errors.Join(u.DB.Close(), u.Cache.Close())
}

func (u *UnitOfWork) finish(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == StateOpen {
		u.state = s
	}
}
