package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryptionFailed is returned when a ciphertext fails authentication:
// corrupted, truncated, re-encoded, or produced under a different key or
// purpose. Plaintext is never partially returned.
var ErrDecryptionFailed = errors.New("vault: decryption failed")

// Purpose strings bind a ciphertext to the context it was produced for.
// A ciphertext protected for one purpose cannot be unprotected by a vault
// constructed for another, even when both share a master key.
const (
	purposeCredentials = "loadboard-activation/integration-credentials"
	purposeGeneral     = "loadboard-activation/general-secrets"
)

// Vault performs authenticated symmetric encryption of secret strings.
// It holds only derived key material and is safe for concurrent use.
type Vault struct {
	aeadKey []byte
}

// NewCredentialVault builds the vault used for per-integration credential
// maps. masterKey must be at least 32 bytes of high-entropy key material.
func NewCredentialVault(masterKey []byte) (*Vault, error) {
	return newVault(masterKey, purposeCredentials)
}

// NewGeneralVault builds the independent vault used for secrets stored
// outside the credential map (extra config values, global credentials).
func NewGeneralVault(masterKey []byte) (*Vault, error) {
	return newVault(masterKey, purposeGeneral)
}

func newVault(masterKey []byte, purpose string) (*Vault, error) {
	if len(masterKey) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("vault: master key must be at least %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}

	// Derive a purpose-bound key so the same master key never yields the
	// same AEAD key for two purposes.
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("vault: key derivation failed: %w", err)
	}

	return &Vault{aeadKey: key}, nil
}

// Protect encrypts a plaintext secret and returns a self-contained
// base64 ciphertext (nonce prepended).
func (v *Vault) Protect(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.aeadKey)
	if err != nil {
		return "", fmt.Errorf("vault: cipher init failed: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unprotect decrypts a ciphertext produced by Protect on a vault with the
// same key and purpose. Any authentication failure yields ErrDecryptionFailed.
func (v *Vault) Unprotect(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryptionFailed)
	}

	aead, err := chacha20poly1305.NewX(v.aeadKey)
	if err != nil {
		return "", fmt.Errorf("vault: cipher init failed: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}
