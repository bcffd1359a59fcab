package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/vault"
)

// GlobalCredentialStore reads vendor-wide fallback secrets created by
// operators out of band. Used when a vendor provisions against a shared
// account instead of issuing per-company credentials.
type GlobalCredentialStore struct {
	db    *gorm.DB
	vault *vault.Vault
}

// NewGlobalCredentialStore creates a new global credential store. The vault
// must be the general-purpose one; global credentials are stored outside the
// per-integration credential map.
func NewGlobalCredentialStore(db *gorm.DB, v *vault.Vault) *GlobalCredentialStore {
	return &GlobalCredentialStore{db: db, vault: v}
}

// WithTx returns a store bound to the given transaction handle.
func (s *GlobalCredentialStore) WithTx(tx *gorm.DB) *GlobalCredentialStore {
	return &GlobalCredentialStore{db: tx, vault: s.vault}
}

// Get returns the decrypted vendor-wide secret. Absence of a matching row is
// a normal "not configured" outcome (found=false, err=nil); a ciphertext
// that fails authentication propagates as vault.ErrDecryptionFailed.
func (s *GlobalCredentialStore) Get(vendorID uint, name string) (string, bool, error) {
	var row models.GlobalCredential
	err := s.db.Where("vendor_id = ? AND name = ?", vendorID, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up global credential: %w", err)
	}

	plaintext, err := s.vault.Unprotect(row.CipherValue)
	if err != nil {
		return "", false, fmt.Errorf("global credential %q for vendor %d: %w", name, vendorID, err)
	}
	return plaintext, true, nil
}
