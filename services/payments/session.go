package payments

import "sync"

// Session carries the per-user purchase state that used to live in ambient
// globals: the in-flight submission markers and the bearer credential. It is
// passed explicitly into every orchestrator call. The marker set is shared
// across all purchase flows of the session, so a user who navigates away and
// returns still cannot double-submit a pending intent.
type Session struct {
	AccountID string

	mu         sync.Mutex
	phone      string
	credential string
	inflight   map[string]string // intent key -> transaction id
}

// NewSession creates a session for an account. Phone is the payer number used
// by push-style methods.
func NewSession(accountID, phone string) *Session {
	return &Session{
		AccountID: accountID,
		phone:     phone,
		inflight:  make(map[string]string),
	}
}

// SetPhone updates the payer number. Concurrent requests for the same account
// share the session, so the field is never written bare.
func (s *Session) SetPhone(phone string) {
	s.mu.Lock()
	s.phone = phone
	s.mu.Unlock()
}

// Phone returns the payer number used by push-style methods.
func (s *Session) Phone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phone
}

// SetCredential stores the bearer credential obtained from local storage.
func (s *Session) SetCredential(credential string) {
	s.mu.Lock()
	s.credential = credential
	s.mu.Unlock()
}

// Credential returns the stored bearer credential, empty when absent.
func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// begin atomically marks an intent in flight. It reports false when another
// submission already holds the marker.
func (s *Session) begin(key, txID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inflight[key]; exists {
		return false
	}
	s.inflight[key] = txID
	return true
}

// end clears the marker once its transaction reaches a terminal state.
func (s *Session) end(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// Pending returns the transaction id currently holding the marker, if any.
func (s *Session) Pending(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inflight[key]
	return id, ok
}
