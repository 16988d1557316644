package session

import "sync"

// Phase tracks the token lifecycle: Uninitialized -> Initializing -> Ready.
// Ready regresses to Initializing only during a forced refresh triggered
// by the retry policy.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
)

// State holds the per-session CSRF state. It is constructed explicitly
// and injected into a Client, so tests can run multiple independent
// sessions without shared globals. Only bootstrap and forced refresh
// mutate it; the request-attachment step reads it.
type State struct {
	mu    sync.Mutex
	phase Phase
	token string // body-delivered token, fallback when no cookie is readable
}

func NewState() *State {
	return &State{}
}

// beginInit claims the bootstrap. It returns false when the session is
// already Ready and no forced refresh was requested.
func (s *State) beginInit(force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseReady && !force {
		return false
	}
	s.phase = PhaseInitializing
	return true
}

func (s *State) completeInit(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		s.token = token
	}
	s.phase = PhaseReady
}

func (s *State) failInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseInitializing {
		s.phase = PhaseUninitialized
	}
}

// Token returns the body-delivered fallback token, if any.
func (s *State) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *State) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseReady
}
