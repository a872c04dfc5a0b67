package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/auction-ingest/internal/scrape"
)

// Resolver loads stored credentials and returns them in plaintext.
type Resolver struct {
	store  scrape.CredentialStore
	cipher *Cipher
}

// NewResolver builds a Resolver. cipher may be nil when no key is configured,
// in which case encrypted credentials fail to resolve.
func NewResolver(store scrape.CredentialStore, cipher *Cipher) *Resolver {
	return &Resolver{store: store, cipher: cipher}
}

// Resolve implements scrape.CredentialSource.
func (r *Resolver) Resolve(ctx context.Context, userID string) (scrape.Credentials, error) {
	stored, err := r.store.LoadCredentials(ctx, userID)
	if err != nil {
		return scrape.Credentials{}, fmt.Errorf("load credentials for user %s: %w", userID, err)
	}
	if len(stored.Raw) == 0 || string(stored.Raw) == "null" {
		return scrape.Credentials{}, fmt.Errorf("user %s: %w", userID, scrape.ErrNoStoredCredentials)
	}

	var creds scrape.Credentials
	if stored.Encrypted && IsEnvelope(stored.Raw) {
		if r.cipher == nil {
			return scrape.Credentials{}, fmt.Errorf("%w: no encryption key configured", scrape.ErrDecryption)
		}
		var env Envelope
		if err := json.Unmarshal(stored.Raw, &env); err != nil {
			return scrape.Credentials{}, fmt.Errorf("%w: %v", scrape.ErrDecryption, err)
		}
		if creds, err = r.cipher.Decrypt(env); err != nil {
			return scrape.Credentials{}, fmt.Errorf("decrypt credentials for user %s: %w", userID, err)
		}
	} else if err := json.Unmarshal(stored.Raw, &creds); err != nil {
		return scrape.Credentials{}, fmt.Errorf("parse credentials for user %s: %w", userID, err)
	}

	if err := creds.Validate(); err != nil {
		return scrape.Credentials{}, fmt.Errorf("user %s: %w", userID, err)
	}
	return creds, nil
}
