package repository

import (
	"context"

	"github.com/ammar0144/recsync/pkg/model"
)

// Reader is the non-transactional read side used by the read-out path
type Reader interface {
	FindByID(ctx context.Context, id int64) (*model.Recommendation, error)
}

// Store opens transactional sessions for the publish pipeline
type Store interface {
	Reader
	Begin(ctx context.Context) (*Session, error)
}
