package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrIDGeneration reports that the generator returned an unusable id.
var ErrIDGeneration = errors.New("session id generation failed")

// Attributes is the fixed set of per-session values.
type Attributes struct {
	Registered   bool
	RegisteredAt time.Time
}

// Session is a snapshot of one record.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastUsedAt time.Time
	Attributes Attributes
}

type record struct {
	createdAt  time.Time
	lastUsedAt time.Time
	attrs      Attributes
}

// Store is a mutex-guarded session table. Unknown ids are reported with a
// false return, never an error.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	clock   Clock
	ids     IDGenerator
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides the id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(s *Store) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]*record),
		clock:   RealClock{},
		ids:     UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new session and returns its id.
func (s *Store) Create() (string, error) {
	id := s.ids.New()
	if id == "" {
		return "", ErrIDGeneration
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return "", fmt.Errorf("%w: duplicate id", ErrIDGeneration)
	}
	s.records[id] = &record{createdAt: now, lastUsedAt: now}
	return id, nil
}

// Touch refreshes the idle timer. It returns false for unknown ids.
func (s *Store) Touch(id string) bool {
	_, ok := s.access(id, nil)
	return ok
}

// Get returns the attributes of a session.
func (s *Store) Get(id string) (Attributes, bool) {
	return s.access(id, nil)
}

// Set replaces the attributes of a session.
func (s *Store) Set(id string, attrs Attributes) bool {
	_, ok := s.access(id, func(a *Attributes) { *a = attrs })
	return ok
}

// Update applies fn to the attributes of a session under the store lock.
func (s *Store) Update(id string, fn func(*Attributes)) bool {
	_, ok := s.access(id, fn)
	return ok
}

// Lookup returns a full snapshot without refreshing the idle timer.
func (s *Store) Lookup(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, false
	}
	return Session{ID: id, CreatedAt: rec.createdAt, LastUsedAt: rec.lastUsedAt, Attributes: rec.attrs}, true
}

// Delete removes a session. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Sweep removes every session idle for at least maxIdle as of now.
func (s *Store) Sweep(now time.Time, maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if now.Sub(rec.lastUsedAt) >= maxIdle {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Now exposes the store clock so callers sweep on the same timeline.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) access(id string, mutate func(*Attributes)) (Attributes, bool) {
	if id == "" {
		return Attributes{}, false
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Attributes{}, false
	}
	rec.lastUsedAt = now
	if mutate != nil {
		mutate(&rec.attrs)
	}
	return rec.attrs, true
}
