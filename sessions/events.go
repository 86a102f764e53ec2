package sessions

// EventKind labels membership changes that affect live connections
type EventKind string

const (
	// EventRoleChanged fires when a participant's role is reassigned
	EventRoleChanged EventKind = "role_changed"
	// EventRemoved fires when a participant is removed or leaves
	EventRemoved EventKind = "removed"
	// EventSessionDeleted fires when a session is soft-deleted
	EventSessionDeleted EventKind = "session_deleted"
)

// Event notifies subscribers that cached authorization for the named
// users is stale. UserIDs is empty for session-wide events.
type Event struct {
	Kind      EventKind
	SessionID string
	UserIDs   []string
}

// Subscribe registers a listener for membership events. The channel is
// buffered; slow consumers lose events rather than block the service,
// which is acceptable because the decision cache TTL bounds staleness.
func (s *Service) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Service) publish(ev Event) {
	// evict before notifying so a re-check after the event misses the cache
	if len(ev.UserIDs) == 0 {
		s.cache.invalidateSession(ev.SessionID)
	} else {
		for _, uid := range ev.UserIDs {
			s.cache.invalidate(uid, ev.SessionID)
		}
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
