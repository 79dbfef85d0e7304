package internalerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	ErrInvalidQuery     = errors.New("invalid query")
	ErrInvalidRule      = errors.New("invalid rule")
	ErrUnknownType      = errors.New("unknown type")
	ErrTxClosed         = errors.New("transaction closed")
	ErrCacheConsistency = errors.New("cache consistency violation")
)

// CacheConsistencyError reports a cached entry that disagrees with a unified
// answer. It means a unifier was computed wrongly upstream and aborts the
// resolution.
type CacheConsistencyError struct {
	Query  string
	Answer string
	Reason string
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency violation for %s: answer %s %s", e.Query, e.Answer, e.Reason)
}

func (e *CacheConsistencyError) Unwrap() error { return ErrCacheConsistency }
