package checkpoint

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is a process-local Store. Threads idle longer than the TTL
// expire, and the least recently used threads are evicted past MaxThreads.
// A thread that is locked is never evicted.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lru        *list.List // front is most recently used
	locks      map[string]*threadLock
	ttl        time.Duration
	maxThreads int
	now        func() time.Time
	logger     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

type entry struct {
	id      string
	state   State
	touched time.Time
	elem    *list.Element
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL expires threads idle for longer than d. Zero disables expiry.
func WithTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.ttl = d }
}

// WithMaxThreads caps the number of stored threads. Zero means unbounded.
func WithMaxThreads(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxThreads = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger sets the logger used for eviction messages.
func WithLogger(l *zap.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		lru:     list.New(),
		locks:   make(map[string]*threadLock),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, threadID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[threadID]
	if !ok {
		return State{}, ErrNotFound
	}
	now := s.now()
	if s.expired(e, now) && !s.lockedLocked(threadID) {
		s.removeLocked(e)
		s.logger.Debug("checkpoint expired", zap.String("thread_id", threadID))
		return State{}, ErrNotFound
	}
	e.touched = now
	s.lru.MoveToFront(e.elem)
	return e.state.Clone(), nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, threadID string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	state = state.Clone()
	state.UpdatedAt = now

	if e, ok := s.entries[threadID]; ok {
		e.state = state
		e.touched = now
		s.lru.MoveToFront(e.elem)
	} else {
		e := &entry{id: threadID, state: state, touched: now}
		e.elem = s.lru.PushFront(e)
		s.entries[threadID] = e
	}
	s.evictLocked()
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[threadID]; ok {
		s.removeLocked(e)
	}
	return nil
}

// Lock implements Store.
func (s *MemoryStore) Lock(ctx context.Context, threadID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[threadID]
	if !ok {
		l = &threadLock{sem: make(chan struct{}, 1)}
		s.locks[threadID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(threadID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			s.release(threadID, l)
		})
	}, nil
}

func (s *MemoryStore) release(threadID string, l *threadLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, threadID)
	}
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired threads and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if s.expired(e, now) && !s.lockedLocked(e.id) {
			s.removeLocked(e)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		s.logger.Debug("checkpoint sweep", zap.Int("removed", removed))
	}
	return removed
}

// Start runs Sweep every interval until Stop is called.
func (s *MemoryStore) Start(interval time.Duration) {
	s.mu.Lock()
	if s.stop != nil || interval <= 0 {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// Stop halts the janitor started by Start and waits for it to exit.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *MemoryStore) expired(e *entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.touched) > s.ttl
}

func (s *MemoryStore) lockedLocked(threadID string) bool {
	l, ok := s.locks[threadID]
	return ok && l.refs > 0
}

func (s *MemoryStore) removeLocked(e *entry) {
	s.lru.Remove(e.elem)
	delete(s.entries, e.id)
}

func (s *MemoryStore) evictLocked() {
	if s.maxThreads <= 0 {
		return
	}
	for el := s.lru.Back(); el != nil && len(s.entries) > s.maxThreads; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !s.lockedLocked(e.id) {
			s.removeLocked(e)
			s.logger.Debug("checkpoint evicted", zap.String("thread_id", e.id))
		}
		el = prev
	}
}
