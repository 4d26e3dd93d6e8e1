package storage

import "sync"

// partitionKey identifies the units of one stream in one year.
type partitionKey struct {
	uuid string
	year int
}

type partitionLock struct {
	mu   sync.Mutex
	refs int
}

// partitionLocks serializes every operation touching the units of a
// partition. Entries are dropped once nobody holds or waits for them.
type partitionLocks struct {
	mu      sync.Mutex
	entries map[partitionKey]*partitionLock
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{entries: make(map[partitionKey]*partitionLock)}
}

// lock blocks until the partition is free and returns the function that
// releases it.
func (l *partitionLocks) lock(key partitionKey) func() {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &partitionLock{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

func (l *partitionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
