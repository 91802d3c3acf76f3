package chatsync

import "sync"

// State is the process-wide sync session state shared by the stores, the
// scheduler and the send pipeline of one chat surface.
type State struct {
	mu           sync.RWMutex
	userID       string
	guest        bool
	selectedID   string
	selectedPeer string
}

// NewState returns session state for userID. An empty userID or guest=true
// yields a guest session.
func NewState(userID string, guest bool) *State {
	return &State{userID: userID, guest: guest || userID == ""}
}

func (s *State) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *State) IsGuest() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guest
}

// Authenticated reports whether a real, non-guest user is present.
func (s *State) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.guest && s.userID != ""
}

// SelectedID returns the selected conversation id as passed to Select.
func (s *State) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedID
}

// SelectedPeerID returns the peer of the selected conversation.
func (s *State) SelectedPeerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedPeer
}

func (s *State) setSelected(id, peerID string) {
	s.mu.Lock()
	s.selectedID, s.selectedPeer = id, peerID
	s.mu.Unlock()
}

func (s *State) setUser(userID string) {
	s.mu.Lock()
	s.userID = userID
	s.guest = userID == ""
	s.mu.Unlock()
}

func (s *State) setGuest() {
	s.mu.Lock()
	s.guest = true
	s.mu.Unlock()
}

func (s *State) reset() {
	s.mu.Lock()
	s.userID, s.guest = "", true
	s.selectedID, s.selectedPeer = "", ""
	s.mu.Unlock()
}
