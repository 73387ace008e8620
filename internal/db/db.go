package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
type Store interface {
	Pinger
	JSONStore
	KeyScanner
	PubSub
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RootPath addresses a whole JSON document.
const RootPath = "$"

// JSONStore provides JSON document operations.
type JSONStore interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	// JSONGet returns the document at key, or db.ErrKeyNotFound.
	JSONGet(ctx context.Context, key string) ([]byte, error)
	// JSONGetMulti returns one document per key; missing keys yield nil.
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// KeyScanner lists keys by glob pattern. Only the '*' wildcard is
// portable across drivers.
type KeyScanner interface {
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// PubSub fans messages out to subscribers of a channel.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe calls fn for every message until the returned function is
	// called or ctx is done.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error)
}
