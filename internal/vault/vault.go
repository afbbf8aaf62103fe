// Package vault stores per-user API credentials under authenticated
// encryption. Each user's key is derived from a process-wide master
// secret, so a stored ciphertext can only ever be opened for the user
// it was sealed for.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lettagram/lettagram/internal/domain"
	"github.com/lettagram/lettagram/internal/store"
)

var (
	// ErrNotFound indicates the user has no stored credential (never
	// logged in, or logged out).
	ErrNotFound = errors.New("credential not found")

	// ErrCorrupt indicates decryption or authentication failed: tampered
	// data, or a rotated master key. User-recoverable via re-login.
	ErrCorrupt = errors.New("credential corrupt or key mismatch")
)

// hkdfInfoPrefix is the "info" parameter prefix to HKDF-SHA256. The
// user ID is appended, giving each user a distinct derivation path.
// Changing it invalidates every stored ciphertext.
const hkdfInfoPrefix = "lettagram.credential.v1:"

const keySize = chacha20poly1305.KeySize

// DefaultAPIURL is the hosted Letta endpoint used when a login does not
// name a server.
const DefaultAPIURL = "https://api.letta.com"

// Vault encrypts and decrypts per-user credentials backed by a
// Repository. The master secret is read-only after construction.
type Vault struct {
	master []byte
	repo   store.Repository
}

// New creates a Vault. The master secret must be non-empty; without it
// no credential could ever be decrypted again.
func New(masterSecret string, repo store.Repository) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is empty")
	}
	return &Vault{master: []byte(masterSecret), repo: repo}, nil
}

// deriveKey derives the per-user encryption key via HKDF-SHA256 with
// the user ID folded into the info string.
func (v *Vault) deriveKey(userID string) ([]byte, error) {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, v.master, nil, []byte(hkdfInfoPrefix+userID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Store encrypts apiKey for userID with a fresh random nonce and
// persists it, replacing any prior record.
func (v *Vault) Store(ctx context.Context, userID, apiKey, apiURL string) error {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	key, err := v.deriveKey(userID)
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// The user ID rides along as AAD, binding the ciphertext to its
	// owner on top of the per-user key derivation.
	ciphertext := aead.Seal(nil, nonce, []byte(apiKey), []byte(userID))

	now := time.Now()
	rec := &domain.CredentialRecord{
		UserID:     userID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		APIURL:     apiURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := v.repo.PutCredential(ctx, rec); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// Retrieve looks up and decrypts the credential for userID.
func (v *Vault) Retrieve(ctx context.Context, userID string) (*domain.Credential, error) {
	rec, err := v.repo.GetCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	key, err := v.deriveKey(userID)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(rec.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrCorrupt
	}

	plaintext, err := aead.Open(nil, rec.Nonce, rec.Ciphertext, []byte(userID))
	if err != nil {
		return nil, ErrCorrupt
	}

	return &domain.Credential{APIKey: string(plaintext), APIURL: rec.APIURL}, nil
}

// Remove deletes the credential for userID. Idempotent.
func (v *Vault) Remove(ctx context.Context, userID string) error {
	if err := v.repo.DeleteCredential(ctx, userID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// Has reports whether a credential record exists without decrypting it.
func (v *Vault) Has(ctx context.Context, userID string) (bool, error) {
	rec, err := v.repo.GetCredential(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load credential: %w", err)
	}
	return rec != nil, nil
}
