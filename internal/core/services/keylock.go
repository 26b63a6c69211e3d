package services

import (
	"context"
	"sync"
)

// MemoryKeyLocker serializes work per key inside one process. Entries are
// reference counted so the table does not grow with every donation ever seen.
type MemoryKeyLocker struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

// NewMemoryKeyLocker creates an empty lock table
func NewMemoryKeyLocker() *MemoryKeyLocker {
	return &MemoryKeyLocker{entries: make(map[string]*keyEntry)}
}

// Lock blocks until key is free or ctx is done
func (l *MemoryKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *MemoryKeyLocker) release(key string, e *keyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns the number of keys currently held or awaited
func (l *MemoryKeyLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
