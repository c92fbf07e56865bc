package control

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	meta    Meta
	pause   bool
	cancel  bool
	expires time.Time
}

// MemoryStore is a single-process Store with the same lease semantics as
// EtcdStore. The clock is injectable so expiry can be tested.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	entries  map[string]*memEntry
	watchers map[string][]memWatcher
}

type memWatcher struct {
	flag Flag
	ch   chan struct{}
}

// NewMemoryStore creates an empty store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*memEntry),
		watchers: make(map[string][]memWatcher),
	}
}

// SetClock replaces the time source
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create implements Store
func (s *MemoryStore) Create(_ context.Context, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[meta.ID] = &memEntry{meta: meta, expires: s.now().Add(s.ttl)}
	return nil
}

// Meta implements Store
func (s *MemoryStore) Meta(_ context.Context, id string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return Meta{}, ErrNotFound
	}
	return e.meta, nil
}

// UpdateMeta implements Store
func (s *MemoryStore) UpdateMeta(_ context.Context, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(meta.ID)
	if !ok {
		return ErrNotFound
	}
	e.meta = meta
	return nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		if _, ok := s.live(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SetFlag implements Store
func (s *MemoryStore) SetFlag(_ context.Context, id string, flag Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	if flag == FlagPause {
		e.pause = true
	} else {
		e.cancel = true
	}

	kept := s.watchers[id][:0]
	for _, w := range s.watchers[id] {
		if w.flag == flag {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	s.watchers[id] = kept
	return nil
}

// ClearFlags implements Store
func (s *MemoryStore) ClearFlags(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live(id); ok {
		e.pause, e.cancel = false, false
	}
	return nil
}

// Flags implements Store
func (s *MemoryStore) Flags(_ context.Context, id string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return false, false, nil
	}
	return e.pause, e.cancel, nil
}

// WatchFlag implements Store
func (s *MemoryStore) WatchFlag(ctx context.Context, id string, flag Flag) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	if e, ok := s.live(id); ok && ((flag == FlagPause && e.pause) || (flag == FlagCancel && e.cancel)) {
		close(ch)
		return ch, nil
	}
	s.watchers[id] = append(s.watchers[id], memWatcher{flag: flag, ch: ch})
	go func() {
		<-ctx.Done()
		s.dropWatcher(id, ch)
	}()
	return ch, nil
}

// Renew implements Store
func (s *MemoryStore) Renew(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return ErrNotFound
	}
	e.expires = s.now().Add(s.ttl)
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(id); !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

// live returns the entry if its lease has not expired; expired entries are purged
func (s *MemoryStore) live(id string) (*memEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, id)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) dropWatcher(id string, ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.watchers[id]
	for i, w := range ws {
		if w.ch == ch {
			s.watchers[id] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(s.watchers[id]) == 0 {
		delete(s.watchers, id)
	}
}
