package flash

import "sync"

// Signal is a single-slot cell where the latest value wins. A Take empties it.
type Signal[T any] struct {
	mutex sync.Mutex
	value T
	set   bool
}

// Set stores v, replacing any value not yet taken.
func (s *Signal[T]) Set(v T) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.value, s.set = v, true
}

// Take returns and clears the stored value.
func (s *Signal[T]) Take() (T, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v, ok := s.value, s.set
	var zero T
	s.value, s.set = zero, false
	return v, ok
}

// Peek returns the stored value without clearing it.
func (s *Signal[T]) Peek() (T, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.value, s.set
}

// Reset clears the stored value.
func (s *Signal[T]) Reset() {
	s.Take()
}
