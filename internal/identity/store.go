package identity

import (
	"sync"

	"paygate-client/internal/models"
)

// Snapshot is a point-in-time view of the identity state handed to
// subscribers and readers.
type Snapshot struct {
	Identity *models.Identity // nil means unauthenticated
	Loading  bool
}

// Store holds the current identity and notifies subscribers on change.
// The presentation layer observes it; mutation stays inside the Manager.
type Store struct {
	mu       sync.RWMutex
	identity *models.Identity
	loading  bool
	nextSub  int
	subs     map[int]func(Snapshot)
}

func NewStore() *Store {
	return &Store{
		loading: true,
		subs:    make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Identity: s.identity, Loading: s.loading}
}

// Identity returns the current identity, or nil when unauthenticated.
func (s *Store) Identity() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Loading reports whether the initial bootstrap is still in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Subscribe registers an observer and returns its cancel function. The
// observer is called synchronously after every state change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) setIdentity(id *models.Identity) {
	s.mu.Lock()
	s.identity = id
	snap := Snapshot{Identity: s.identity, Loading: s.loading}
	subs := s.currentSubs()
	s.mu.Unlock()
	notify(subs, snap)
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	if s.loading == loading {
		s.mu.Unlock()
		return
	}
	s.loading = loading
	snap := Snapshot{Identity: s.identity, Loading: s.loading}
	subs := s.currentSubs()
	s.mu.Unlock()
	notify(subs, snap)
}

func (s *Store) currentSubs() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
