package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/parser"
)

// CatalogStore reads the static loadboard vendor catalog.
type CatalogStore struct {
	db *gorm.DB
}

// NewCatalogStore creates a new catalog store
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// List returns every catalog entry.
func (s *CatalogStore) List() ([]models.Vendor, error) {
	var rows []models.Vendor
	if err := s.db.Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list vendor catalog: %w", err)
	}
	return rows, nil
}

// GetByName finds a vendor by its catalog name, as reported by the parser.
func (s *CatalogStore) GetByName(name string) (*models.Vendor, error) {
	var row models.Vendor
	err := s.db.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor by name: %w", err)
	}
	return &row, nil
}

// Get fetches one vendor by id.
func (s *CatalogStore) Get(id uint) (*models.Vendor, error) {
	var row models.Vendor
	err := s.db.First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &row, nil
}

// Seed inserts the supported vendors if they are not already present.
// Names must match the parser's provider constants.
func (s *CatalogStore) Seed() error {
	vendors := []models.Vendor{
		{
			Name:        parser.ProviderTruckstop,
			Category:    "loadboard",
			Description: "Truckstop freight-matching loadboard",
			LogoURL:     "/static/logos/truckstop.png",
			RequestTo:   "integrations@truckstop.example.com",
		},
		{
			Name:        parser.ProviderDAT,
			Category:    "loadboard",
			Description: "DAT freight-matching loadboard",
			LogoURL:     "/static/logos/dat.png",
			RequestTo:   "onboarding@dat.example.com",
		},
	}
	for _, v := range vendors {
		err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&v).Error
		if err != nil {
			return fmt.Errorf("failed to seed vendor %s: %w", v.Name, err)
		}
	}
	return nil
}
