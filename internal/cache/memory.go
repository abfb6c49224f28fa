package cache

import (
	"context"
	"sync"
	"time"
)

const DefaultEvictAfter = 30 * time.Minute

type memoryItem struct {
	entry      Entry
	lastAccess time.Time
}

// MemoryStore is a process-local Store. Entries not read or written within
// the eviction window are dropped by a background janitor and ignored on
// read in the meantime.
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[Key]*memoryItem
	evictAfter time.Duration
	now        func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type MemoryOption func(*MemoryStore)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore starts the janitor; call Close to stop it. A janitor
// interval of zero uses half the eviction window.
func NewMemoryStore(evictAfter, janitorInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	if evictAfter <= 0 {
		evictAfter = DefaultEvictAfter
	}
	if janitorInterval <= 0 {
		janitorInterval = evictAfter / 2
	}

	s := &MemoryStore{
		items:      make(map[Key]*memoryItem),
		evictAfter: evictAfter,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.janitor(janitorInterval)
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep drops every entry idle for longer than the eviction window and
// returns how many were removed.
func (s *MemoryStore) sweep() int {
	cutoff := s.now().Add(-s.evictAfter)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, item := range s.items {
		if item.lastAccess.Before(cutoff) {
			delete(s.items, k)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Entry, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	if now.Sub(item.lastAccess) > s.evictAfter {
		delete(s.items, key)
		return Entry{}, false, nil
	}
	item.lastAccess = now
	return Entry{Result: item.entry.Result.Clone(), ResolvedAt: item.entry.ResolvedAt}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key Key, entry Entry) error {
	entry.Result = entry.Result.Clone()
	now := s.now()

	s.mu.Lock()
	s.items[key] = &memoryItem{entry: entry, lastAccess: now}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	s.items = make(map[Key]*memoryItem)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close stops the janitor and waits for it to exit. It is safe to call
// more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
