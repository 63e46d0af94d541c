package config

import "sync"

// Store holds the live tuning document shared between the HTTP params
// endpoint and the pipeline loop. The endpoint merges partial updates in;
// the loop polls Generation between frames and reapplies the config when it
// changes, so the pipeline itself stays single-threaded.
type Store struct {
	mu         sync.RWMutex
	current    *TuningConfig
	generation int64
}

// NewStore wraps an initial tuning document. A nil document starts empty
// (all defaults).
func NewStore(initial *TuningConfig) *Store {
	if initial == nil {
		initial = EmptyTuningConfig()
	}
	return &Store{current: initial, generation: 1}
}

// Current returns the live document. The returned value's pointer fields
// alias the store's snapshot, which is never mutated after publication:
// Update swaps in a fresh clone rather than writing in place.
func (s *Store) Current() TuningConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.current
}

// Generation returns a counter that increases on every update.
func (s *Store) Generation() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Update validates a partial document and merges it into a clone of the
// live one, then swaps the clone in. Earlier Current snapshots keep reading
// the document they were taken from.
func (s *Store) Update(partial *TuningConfig) error {
	if err := partial.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current.Clone()
	next.Merge(partial)
	s.current = next
	s.generation++
	return nil
}
