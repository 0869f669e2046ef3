package registry

import "sync"

// Set collects registrations so an activator can undo them together.
type Set struct {
	mu   sync.Mutex
	regs []*Registration
}

// Add records r. It passes err through so registration calls can be
// wrapped directly: set.Add(reg.RegisterParser(k, p)).
func (s *Set) Add(r *Registration, err error) error {
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.regs = append(s.regs, r)
	s.mu.Unlock()
	return nil
}

// Len reports the number of live registrations.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Close closes every registration in reverse order.
func (s *Set) Close() error {
	s.mu.Lock()
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()
	for i := len(regs) - 1; i >= 0; i-- {
		regs[i].Close()
	}
	return nil
}
