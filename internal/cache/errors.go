package cache

import (
	"errors"
	"fmt"
)

// CacheError wraps a storage-layer failure so callers can tell it apart
// from an empty result. A degraded cache should be treated as a miss,
// not a fatal condition.
type CacheError struct {
	Op  string // the failed operation, e.g. "get", "put"
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("bar cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// IsCacheError reports whether err is (or wraps) a *CacheError.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CacheError{Op: op, Err: err}
}
