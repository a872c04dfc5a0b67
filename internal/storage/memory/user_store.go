package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// UserStore holds stored credentials and credential health per user.
type UserStore struct {
	mu     sync.RWMutex
	creds  map[string]scrape.StoredCredentials
	status map[string]scrape.CredsStatus
}

// NewUserStore constructs a UserStore.
func NewUserStore() *UserStore {
	return &UserStore{
		creds:  make(map[string]scrape.StoredCredentials),
		status: make(map[string]scrape.CredsStatus),
	}
}

// PutPlain stores legacy plaintext credentials for userID.
func (s *UserStore) PutPlain(userID string, creds scrape.Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	s.Put(userID, scrape.StoredCredentials{Raw: raw})
	return nil
}

// Put stores the raw credentials column for userID.
func (s *UserStore) Put(userID string, stored scrape.StoredCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[userID] = stored
	if _, ok := s.status[userID]; !ok {
		s.status[userID] = scrape.CredsStatusUnknown
	}
}

// LoadCredentials implements scrape.CredentialStore.
func (s *UserStore) LoadCredentials(_ context.Context, userID string) (scrape.StoredCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.creds[userID]
	if !ok {
		return scrape.StoredCredentials{}, fmt.Errorf("user %s: %w", userID, scrape.ErrUserNotFound)
	}
	return stored, nil
}

// SetCredsStatus implements scrape.CredsStatusWriter.
func (s *UserStore) SetCredsStatus(_ context.Context, userID string, status scrape.CredsStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[userID] = status
	return nil
}

// CredsStatus returns the last recorded status for userID.
func (s *UserStore) CredsStatus(userID string) scrape.CredsStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[userID]
}
