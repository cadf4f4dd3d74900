// Package kvstore provides the durable string key-value storage behind
// identity and session bookkeeping.
//
// The store holds a handful of fixed keys (device id, user id, session
// counters), so implementations favor simplicity over throughput: the
// file-backed store rewrites one small YAML document per update.
package kvstore

import (
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable string key-value store.
//
// Implementations must be safe for concurrent use. Get returns
// ErrNotFound for absent keys; Delete on an absent key is a no-op.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}
