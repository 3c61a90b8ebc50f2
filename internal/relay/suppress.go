package relay

import "sync"

// Suppressed tracks message ids the bot deleted itself so the delete relay
// does not re-log them. Membership is consumed exactly once: a Consume hit
// removes the entry.
type Suppressed struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewSuppressed() *Suppressed {
	return &Suppressed{ids: make(map[string]struct{})}
}

// Mark must be called before the programmatic delete is issued so the
// delete event can never observe the message unmarked.
func (s *Suppressed) Mark(messageID string) {
	s.mu.Lock()
	s.ids[messageID] = struct{}{}
	s.mu.Unlock()
}

// Unmark withdraws a mark, for deletes that were never carried out.
func (s *Suppressed) Unmark(messageID string) {
	s.mu.Lock()
	delete(s.ids, messageID)
	s.mu.Unlock()
}

// Consume reports whether the id was marked, removing it if so.
func (s *Suppressed) Consume(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[messageID]; !ok {
		return false
	}
	delete(s.ids, messageID)
	return true
}

func (s *Suppressed) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
