package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
)

// OutboxStore is the durable queue of outbound notification emails.
// Enqueue runs inside the transaction that produced the state change being
// announced; a separate dispatch worker drains pending rows and reports the
// result back through MarkSent/MarkFailed.
type OutboxStore struct {
	db *gorm.DB
}

// NewOutboxStore creates a new outbox store
func NewOutboxStore(db *gorm.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// WithTx returns an outbox store bound to the given transaction handle.
func (s *OutboxStore) WithTx(tx *gorm.DB) *OutboxStore {
	return &OutboxStore{db: tx}
}

// Enqueue inserts a pending outbox row and returns it.
func (s *OutboxStore) Enqueue(to, subject, body string) (*models.OutboxEmail, error) {
	row := models.OutboxEmail{
		ID:      uuid.NewString(),
		To:      to,
		Subject: subject,
		Body:    body,
		Status:  models.OutboxPending,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox email: %w", err)
	}
	return &row, nil
}

// ListPending returns up to limit pending rows, oldest first.
func (s *OutboxStore) ListPending(limit int) ([]models.OutboxEmail, error) {
	var rows []models.OutboxEmail
	err := s.db.Where("status = ?", models.OutboxPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending outbox emails: %w", err)
	}
	return rows, nil
}

// MarkSent records a successful delivery. Rows already in a terminal state
// are left untouched: the pending->sent transition is one-way and the call
// is an idempotent no-op when it cannot apply.
func (s *OutboxStore) MarkSent(id string, at time.Time) error {
	res := s.db.Model(&models.OutboxEmail{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":  models.OutboxSent,
			"sent_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark outbox email sent: %w", res.Error)
	}
	return nil
}

// MarkFailed records a delivery failure with its reason. Same terminal-state
// semantics as MarkSent.
func (s *OutboxStore) MarkFailed(id, reason string) error {
	res := s.db.Model(&models.OutboxEmail{}).
		Where("id = ? AND status = ?", id, models.OutboxPending).
		Updates(map[string]interface{}{
			"status":        models.OutboxFailed,
			"error_message": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark outbox email failed: %w", res.Error)
	}
	return nil
}

// Get fetches one outbox row by id.
func (s *OutboxStore) Get(id string) (*models.OutboxEmail, error) {
	var row models.OutboxEmail
	err := s.db.First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox email: %w", err)
	}
	return &row, nil
}
