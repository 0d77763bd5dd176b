package redis

import (
	"errors"
	"fmt"

	"github.com/ammar0144/recsync/pkg/errs"
)

// Sentinel errors for Redis operations
var (
	// ErrClientNotInitialized is returned when the Redis client is nil
	ErrClientNotInitialized = errors.New("redis client not initialized")

	// ErrKeyNotFound is returned when a key is absent from the ACTIVE generation
	ErrKeyNotFound = fmt.Errorf("cache key not found: %w", errs.ErrNotFound)

	// ErrConnectionFailed is returned when Redis connection cannot be established
	ErrConnectionFailed = errors.New("redis connection failed")

	// ErrHandleFinished is returned when a finished shadow cache handle is written to
	ErrHandleFinished = errors.New("shadow cache handle already committed or rolled back")

	// ErrLeaseLost is returned when the generation lease expired under a running writer
	ErrLeaseLost = fmt.Errorf("shadow generation lease lost: %w", errs.ErrStagingRace)

	// ErrSerializationFailed is returned when a cache value cannot be encoded or decoded
	ErrSerializationFailed = errors.New("cache serialization failed")
)

// IsKeyNotFound checks if an error is ErrKeyNotFound
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsConnectionFailed checks if an error is ErrConnectionFailed
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}
