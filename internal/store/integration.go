package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
)

// IntegrationStore persists the per-(company, vendor) integration state
// machine: requested/pending -> active | rejected, active <-> disabled.
type IntegrationStore struct {
	db *gorm.DB
}

// NewIntegrationStore creates a new integration store
func NewIntegrationStore(db *gorm.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

// WithTx returns an integration store bound to the given transaction handle.
func (s *IntegrationStore) WithTx(tx *gorm.DB) *IntegrationStore {
	return &IntegrationStore{db: tx}
}

// Create inserts a pending integration row. It fails with
// ErrDuplicateRequest when a live row already exists for the pair; the
// composite unique index on (company_id, vendor_id, open_slot) closes the
// race between concurrent requests that the prior lookup cannot.
func (s *IntegrationStore) Create(companyID, vendorID uint, requestedByEmail, correlationToken string) (*models.Integration, error) {
	existing, err := s.Lookup(companyID, vendorID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: company %d already has a %s integration for vendor %d",
			ErrDuplicateRequest, companyID, existing.Status, vendorID)
	}

	open := "1"
	row := models.Integration{
		CompanyID:        companyID,
		VendorID:         vendorID,
		Status:           models.StatusPending,
		OpenSlot:         &open,
		Credentials:      models.CredentialMap{},
		ExtraConfig:      models.ExtraConfig{},
		RequestedByEmail: requestedByEmail,
		CorrelationToken: correlationToken,
	}
	if err := s.db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: concurrent request for company %d vendor %d",
				ErrDuplicateRequest, companyID, vendorID)
		}
		return nil, fmt.Errorf("failed to create integration: %w", err)
	}
	return &row, nil
}

// Lookup returns the live (non-rejected) row for the pair, or nil.
func (s *IntegrationStore) Lookup(companyID, vendorID uint) (*models.Integration, error) {
	var row models.Integration
	err := s.db.Where("company_id = ? AND vendor_id = ? AND status <> ?",
		companyID, vendorID, models.StatusRejected).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up integration: %w", err)
	}
	return &row, nil
}

// Get fetches one row by id, vendor preloaded.
func (s *IntegrationStore) Get(id uint) (*models.Integration, error) {
	var row models.Integration
	err := s.db.Preload("Vendor").First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return &row, nil
}

// FindPendingByVendor returns the non-terminal rows awaiting a reply from
// the given vendor, used by the poller to locate the target of a reply.
func (s *IntegrationStore) FindPendingByVendor(vendorID uint) ([]models.Integration, error) {
	var rows []models.Integration
	err := s.db.Where("vendor_id = ? AND status IN ?",
		vendorID, []string{models.StatusRequested, models.StatusPending}).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find pending integrations: %w", err)
	}
	return rows, nil
}

// Activate moves a non-terminal row to active with its encrypted credential
// map. The credentials invariant (non-empty only when active) holds because
// this is the only writer that sets them.
func (s *IntegrationStore) Activate(id uint, credentials models.CredentialMap, extra models.ExtraConfig) error {
	res := s.db.Model(&models.Integration{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusRequested, models.StatusPending}).
		Updates(map[string]interface{}{
			"status":       models.StatusActive,
			"credentials":  credentials,
			"extra_config": extra,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to activate integration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: integration %d is not pending", ErrInvalidTransition, id)
	}
	return nil
}

// Reject moves a non-terminal row to rejected, keeping the reason in extra
// config. Rejected rows release their open slot so the company can re-apply.
func (s *IntegrationStore) Reject(id uint, extra models.ExtraConfig) error {
	res := s.db.Model(&models.Integration{}).
		Where("id = ? AND status IN ?", id, []string{models.StatusRequested, models.StatusPending}).
		Updates(map[string]interface{}{
			"status":       models.StatusRejected,
			"open_slot":    nil,
			"extra_config": extra,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reject integration: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: integration %d is not pending", ErrInvalidTransition, id)
	}
	return nil
}

// Toggle flips active <-> disabled. Any other starting state is an
// ErrInvalidTransition; manual toggling never applies to pending rows.
func (s *IntegrationStore) Toggle(id uint) (*models.Integration, error) {
	var row models.Integration
	if err := s.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	var next string
	switch row.Status {
	case models.StatusActive:
		next = models.StatusDisabled
	case models.StatusDisabled:
		next = models.StatusActive
	default:
		return nil, fmt.Errorf("%w: cannot toggle integration %d from %s", ErrInvalidTransition, id, row.Status)
	}

	if err := s.db.Model(&row).Update("status", next).Error; err != nil {
		return nil, fmt.Errorf("failed to toggle integration: %w", err)
	}
	row.Status = next
	return &row, nil
}

// ListByCompany returns every integration row for a company, newest first,
// vendor metadata preloaded. Rejected rows are included as audit history.
func (s *IntegrationStore) ListByCompany(companyID uint) ([]models.Integration, error) {
	var rows []models.Integration
	err := s.db.Preload("Vendor").
		Where("company_id = ?", companyID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return rows, nil
}
