package mediator

// Session groups the participants registered under one session ID.
type Session struct {
	SessionID    string   `json:"session_id"`
	Participants []string `json:"participants"`
}

func sessionKey(sessionID string) string {
	return "session-" + sessionID
}

func startKey(sessionID string) string {
	return sessionKey(sessionID) + "-start"
}

// registry implements the session lifecycle on top of the store.
type registry struct {
	store *Store
}

// register creates the session on first use and merges participants into
// it afterwards. Order is preserved and duplicates are dropped, so devices
// can register concurrently without coordinating who goes first.
func (r registry) register(sessionID string, participants []string) {
	r.store.Update(sessionKey(sessionID), func(value any, ok bool) any {
		session := Session{SessionID: sessionID}
		if ok {
			if existing, valid := value.(Session); valid {
				session = existing
			}
		}
		session.Participants = mergeParticipants(session.Participants, participants)
		return session
	})
}

func (r registry) participants(sessionID string) ([]string, bool) {
	value, ok := r.store.Get(sessionKey(sessionID))
	if !ok {
		return nil, false
	}
	session, valid := value.(Session)
	if !valid {
		return nil, false
	}
	return session.Participants, true
}

// remove deletes the session and its start marker. Removing a session that
// never existed is fine; delete is always safe.
func (r registry) remove(sessionID string) {
	r.store.Delete(sessionKey(sessionID))
	r.store.Delete(startKey(sessionID))
}

// markStarted records that the ceremony has begun with a frozen snapshot of
// participants, stored exactly as supplied. Repeated calls overwrite the
// snapshot outright; callers treat every successful start as authoritative.
func (r registry) markStarted(sessionID string, participants []string) {
	r.store.Set(startKey(sessionID), Session{
		SessionID:    sessionID,
		Participants: append([]string(nil), participants...),
	})
}

func (r registry) started(sessionID string) ([]string, bool) {
	value, ok := r.store.Get(startKey(sessionID))
	if !ok {
		return nil, false
	}
	session, valid := value.(Session)
	if !valid {
		return nil, false
	}
	return session.Participants, true
}

func mergeParticipants(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, p := range existing {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	for _, p := range incoming {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		merged = append(merged, p)
	}
	return merged
}
