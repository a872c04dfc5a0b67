package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// UserStore reads credentials from users and writes the credential health
// signal.
type UserStore struct {
	db   DB
	caps Capabilities
}

// NewUserStore builds a UserStore.
func NewUserStore(db DB, caps Capabilities) *UserStore {
	return &UserStore{db: db, caps: caps}
}

// LoadCredentials implements scrape.CredentialStore. Without the
// creds_encrypted column every row is treated as plain JSON.
func (s *UserStore) LoadCredentials(ctx context.Context, userID string) (scrape.StoredCredentials, error) {
	query := `SELECT creds, false FROM users WHERE id = $1`
	if s.caps.CredsEncrypted {
		query = `SELECT creds, COALESCE(creds_encrypted, false) FROM users WHERE id = $1`
	}
	var (
		raw       []byte
		encrypted bool
	)
	if err := s.db.QueryRow(ctx, query, userID).Scan(&raw, &encrypted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scrape.StoredCredentials{}, fmt.Errorf("user %s: %w", userID, scrape.ErrUserNotFound)
		}
		return scrape.StoredCredentials{}, fmt.Errorf("select user credentials: %w", err)
	}
	return scrape.StoredCredentials{Raw: raw, Encrypted: encrypted}, nil
}

// SetCredsStatus implements scrape.CredsStatusWriter. It is a no-op when the
// schema predates creds_status.
func (s *UserStore) SetCredsStatus(ctx context.Context, userID string, status scrape.CredsStatus) error {
	if !s.caps.CredsStatus {
		return nil
	}
	query := `UPDATE users SET creds_status = $2, updated_at = now() WHERE id = $1`
	if s.caps.CredsStatusUpdatedAt {
		query = `UPDATE users SET creds_status = $2, creds_status_updated_at = now(), updated_at = now() WHERE id = $1`
	}
	if _, err := s.db.Exec(ctx, query, userID, string(status)); err != nil {
		return fmt.Errorf("update creds status: %w", err)
	}
	return nil
}
