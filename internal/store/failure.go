package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
)

// FailureStore counts classification failures per message so the poller can
// quarantine permanently malformed mail after a bounded number of retries.
type FailureStore struct {
	db *gorm.DB
}

// NewFailureStore creates a new failure store
func NewFailureStore(db *gorm.DB) *FailureStore {
	return &FailureStore{db: db}
}

// RecordFailure increments the attempt counter for the message and returns
// the updated count.
func (s *FailureStore) RecordFailure(messageID, reason string) (int, error) {
	var row models.MessageFailure
	err := s.db.Where("message_id = ?", messageID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.MessageFailure{
			MessageID: messageID,
			Attempts:  1,
			LastError: reason,
			UpdatedAt: time.Now(),
		}
		if err := s.db.Create(&row).Error; err != nil {
			return 0, fmt.Errorf("failed to record message failure: %w", err)
		}
		return row.Attempts, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load message failure: %w", err)
	}

	row.Attempts++
	row.LastError = reason
	row.UpdatedAt = time.Now()
	if err := s.db.Save(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to update message failure: %w", err)
	}
	return row.Attempts, nil
}

// Clear removes the failure counter once a message finally parses.
func (s *FailureStore) Clear(messageID string) error {
	err := s.db.Where("message_id = ?", messageID).Delete(&models.MessageFailure{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear message failure: %w", err)
	}
	return nil
}
