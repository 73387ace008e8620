package entity

import (
	"context"
	"fmt"
	"sync"
)

// rowLocks serializes the read-modify-write of single-field saves per
// entity. Saves of different entities never wait for each other.
type rowLocks struct {
	mu    sync.Mutex
	locks map[string]*rowLock
}

type rowLock struct {
	ch   chan struct{}
	refs int
}

func rowKey(path, id string) string { return path + "/" + id }

// lock waits for the entity at key until ctx is done. The returned
// function releases it.
func (r *rowLocks) lock(ctx context.Context, key string) (func(), error) {
	r.mu.Lock()
	if r.locks == nil {
		r.locks = make(map[string]*rowLock)
	}
	l, ok := r.locks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		r.locks[key] = l
	}
	l.refs++
	r.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			r.release(key, l)
		}, nil
	case <-ctx.Done():
		r.release(key, l)
		return nil, fmt.Errorf("wait for entity %s: %w", key, ctx.Err())
	}
}

func (r *rowLocks) release(key string, l *rowLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, key)
	}
}
