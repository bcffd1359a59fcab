package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loadboard-activation-go/internal/models"
)

// LedgerStore is the idempotency ledger: a durable set of already-handled
// mailbox message ids. MarkProcessed must run inside the same transaction as
// the state mutations it guards, never as a separate commit.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore creates a new ledger store
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// WithTx returns a ledger store bound to the given transaction handle.
func (s *LedgerStore) WithTx(tx *gorm.DB) *LedgerStore {
	return &LedgerStore{db: tx}
}

// IsProcessed reports whether side effects for the message already committed.
func (s *LedgerStore) IsProcessed(messageID string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.ProcessedMessage{}).
		Where("message_id = ?", messageID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed inserts the idempotency marker. A duplicate insert is a
// no-op rather than an error, so concurrent or repeated marking is safe.
func (s *LedgerStore) MarkProcessed(messageID string) error {
	row := models.ProcessedMessage{
		MessageID:   messageID,
		ProcessedAt: time.Now(),
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	return nil
}
