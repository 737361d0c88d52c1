package store

import "time"

// runReaper evicts expired keys in a loop: purge whatever is due, then
// sleep until the next expiry or until woken, whichever comes first. It
// never holds the Store's lock across a sleep, and a redundant wakeup
// is harmless — the loop simply re-evaluates state.
func (s *Store) runReaper() {
	defer close(s.reaperExited)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		due := s.expirations.popDue(s.now())
		for _, key := range due {
			delete(s.entries, key)
		}
		next, hasNext := s.expirations.peekWhen()
		s.mu.Unlock()

		if len(due) > 0 {
			s.evictions.Add(uint64(len(due)))
		}

		if !hasNext {
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			continue
		}

		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.done:
			timer.Stop()
			return
		}
	}
}
