// Package errs holds the error taxonomy shared by the publish pipeline,
// the store adapters and the read-out path.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the publish pipeline
var (
	// ErrDataFormat is returned for a malformed or incomplete dataset. Fatal to the run, never retried.
	ErrDataFormat = errors.New("dataset format error")

	// ErrDatasetRead is returned when the dataset cannot be opened or read
	ErrDatasetRead = errors.New("dataset read error")

	// ErrStore is matched by every relational or cache I/O failure
	ErrStore = errors.New("store error")

	// ErrStagingRace is returned when another writer holds the shadow generation
	ErrStagingRace = errors.New("shadow generation is staged by another writer")

	// ErrHandler is matched by every event subscriber failure
	ErrHandler = errors.New("event handler failed")

	// ErrNotFound is returned when no recommendations exist for an id (not a store failure)
	ErrNotFound = errors.New("recommendations not found")

	// ErrPartialCommit is returned when the relational store committed but the cache did not
	ErrPartialCommit = errors.New("relational store committed but cache commit failed")
)

// Store names used in StoreError
const (
	StoreRelational = "relational"
	StoreCache      = "cache"
)

// StoreError wraps an I/O failure of one of the two stores
type StoreError struct {
	Store string // relational, cache
	Op    string // bulk_upsert, bulk_set, commit, rollback, get ...
	Err   error
}

// NewStoreError wraps err for the given store and operation. A nil err stays nil.
func NewStoreError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Store: store, Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes every StoreError match ErrStore
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// IsDataFormat checks if an error is a dataset format error
func IsDataFormat(err error) bool {
	return errors.Is(err, ErrDataFormat)
}

// IsNotFound checks if an error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStore checks if an error came from one of the stores
func IsStore(err error) bool {
	return errors.Is(err, ErrStore)
}

// IsStagingRace checks if an error is ErrStagingRace
func IsStagingRace(err error) bool {
	return errors.Is(err, ErrStagingRace)
}
