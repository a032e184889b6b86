// Package store provides the key/value persistence used to correlate
// conversation keys with their context records and workspace handles.
//
// The store is best-effort by contract: callers treat read errors as cache
// misses and write errors as losable (the context footer embedded in every
// composed message is the recovery channel). Nothing in this package retries.
package store

import "context"

// Store is a string key/value store. Get returns ok=false when the key is
// absent. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
