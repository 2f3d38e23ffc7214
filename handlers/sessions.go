package handlers

import (
	"sync"

	"filamu/services/payments"
)

// SessionStore hands out one payments.Session per account so every purchase
// flow for an account shares the same in-flight marker set.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*payments.Session
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*payments.Session)}
}

// Get returns the account's session, creating it on first use. Phone and
// credential refresh the session when supplied.
func (s *SessionStore) Get(accountID, phone, credential string) *payments.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[accountID]
	if !ok {
		sess = payments.NewSession(accountID, phone)
		s.sessions[accountID] = sess
	}
	if phone != "" {
		sess.SetPhone(phone)
	}
	if credential != "" {
		sess.SetCredential(credential)
	}
	return sess
}
