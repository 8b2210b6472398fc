// Package election implements the session-scoped-advisory-lock-backed
// single-leader election that gates schema setup and the cleanup loop
// across a fleet of instances sharing one cache table.
package election

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the process-local election state: a leader flag observable
// without locking, plus the timestamps of the two transitions. It is
// owned exclusively by Coordinator; every other collaborator (the
// cleanup loop, in particular) only ever holds a *State as a read
// handle, never a *Coordinator, so there are no back-pointers between
// the two.
type State struct {
	instanceID string

	isLeader atomic.Bool

	mu        sync.Mutex
	electedAt time.Time
	lostAt    time.Time
}

// NewState creates election state for instanceID. Coordinator owns the
// returned value's write path; everyone else only reads it.
func NewState(instanceID string) *State {
	return &State{instanceID: instanceID}
}

// InstanceID identifies this process in logs and ManagerElected events.
func (s *State) InstanceID() string { return s.instanceID }

// IsLeader reports the current leadership flag. Safe to call from any
// goroutine without the mutex; this is the fast path the cleanup loop
// polls.
func (s *State) IsLeader() bool { return s.isLeader.Load() }

// ElectedAt returns the timestamp of the most recent election, or the
// zero time if this instance has never held leadership.
func (s *State) ElectedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.electedAt
}

// LostAt returns the timestamp leadership was most recently lost, or
// the zero time if it has never been held.
func (s *State) LostAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lostAt
}

func (s *State) markElected(now time.Time) {
	s.mu.Lock()
	s.electedAt = now
	s.mu.Unlock()
	s.isLeader.Store(true)
}

func (s *State) markLost(now time.Time) {
	s.mu.Lock()
	s.lostAt = now
	s.mu.Unlock()
	s.isLeader.Store(false)
}
