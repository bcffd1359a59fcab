package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/parser"
	"loadboard-activation-go/internal/store"
	"loadboard-activation-go/internal/vault"
)

// Secret field names in a parsed vendor reply. Everything else extracted
// goes to the integration's extra config in the clear.
var secretFields = map[string]bool{
	"Username": true,
	"Password": true,
}

// correlationRe finds the correlation token a vendor echoed back from our
// request email. Token matching is deterministic; customer-name matching is
// the fallback.
var correlationRe = regexp.MustCompile(`(?i)Ref:\s*([0-9a-fA-F-]{36})`)

// ActivationService owns the integration activation pipeline: synchronous
// activation requests, the transactional application of parsed vendor
// replies, and the manual enable toggle. All state changes and their outbox
// notifications commit atomically.
type ActivationService struct {
	db           *gorm.DB
	credVault    *vault.Vault
	generalVault *vault.Vault
	integrations *store.IntegrationStore
	ledger       *store.LedgerStore
	outbox       *store.OutboxStore
	catalog      *store.CatalogStore
	globals      *store.GlobalCredentialStore
}

// NewActivationService wires the service from its collaborators.
func NewActivationService(db *gorm.DB, credVault, generalVault *vault.Vault) *ActivationService {
	return &ActivationService{
		db:           db,
		credVault:    credVault,
		generalVault: generalVault,
		integrations: store.NewIntegrationStore(db),
		ledger:       store.NewLedgerStore(db),
		outbox:       store.NewOutboxStore(db),
		catalog:      store.NewCatalogStore(db),
		globals:      store.NewGlobalCredentialStore(db, generalVault),
	}
}

// RequestActivation creates a pending integration row and enqueues the
// initial request email to the vendor, in one transaction. Returns
// store.ErrDuplicateRequest when a live row already exists for the pair.
func (s *ActivationService) RequestActivation(companyID, vendorID uint, isNew bool, existingServiceEmail string) (*models.Integration, error) {
	var company models.Company
	if err := s.db.First(&company, companyID).Error; err != nil {
		return nil, fmt.Errorf("failed to load company %d: %w", companyID, err)
	}

	vendor, err := s.catalog.Get(vendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, fmt.Errorf("unknown vendor %d", vendorID)
	}

	token := uuid.NewString()

	var created *models.Integration
	err = s.db.Transaction(func(tx *gorm.DB) error {
		row, err := s.integrations.WithTx(tx).Create(companyID, vendorID, company.ContactEmail, token)
		if err != nil {
			return err
		}

		row.ExtraConfig = models.ExtraConfig{"is_new_account": isNew}
		if existingServiceEmail != "" {
			row.ExtraConfig["existing_service_email"] = existingServiceEmail
		}
		if err := tx.Model(row).Update("extra_config", row.ExtraConfig).Error; err != nil {
			return fmt.Errorf("failed to store request details: %w", err)
		}

		subject := fmt.Sprintf("Integration activation request - %s - %s", company.Name, vendor.Name)
		body := buildRequestBody(company.Name, token, isNew, existingServiceEmail)
		if _, err := s.outbox.WithTx(tx).Enqueue(vendor.RequestTo, subject, body); err != nil {
			return err
		}

		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"company_id": companyID,
		"vendor":     vendor.Name,
	}).Info("Integration activation requested")
	return created, nil
}

func buildRequestBody(companyName, token string, isNew bool, existingServiceEmail string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Please activate a loadboard integration for the following customer.\n\n")
	fmt.Fprintf(&b, "Customer: %s\n", companyName)
	if isNew {
		fmt.Fprintf(&b, "Account: create a new service account\n")
	} else {
		fmt.Fprintf(&b, "Account: link existing account %s\n", existingServiceEmail)
	}
	fmt.Fprintf(&b, "\nRef: %s\n", token)
	fmt.Fprintf(&b, "Please include the reference above in your reply.\n")
	return b.String()
}

// Apply commits the effect of one parsed vendor reply in a single
// transaction: ledger re-check, target lookup, state transition with
// encrypted credentials, idempotency mark, and exactly one outbox email.
// Any failure rolls the whole transaction back so the message is retried.
//
// A reply that matches no pending record is still marked processed (an
// orphaned reply would otherwise be reprocessed forever) and reported as
// store.ErrNoMatchingRecord after commit for operator attention.
func (s *ActivationService) Apply(messageID string, reply *parser.ParsedReply) error {
	noMatch := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)

		processed, err := ledger.IsProcessed(messageID)
		if err != nil {
			return err
		}
		if processed {
			// Duplicate delivery, side effects already committed.
			return nil
		}

		vendor, err := s.catalog.GetByName(reply.Provider)
		if err != nil {
			return err
		}
		if vendor == nil {
			return fmt.Errorf("parser returned unknown provider %q", reply.Provider)
		}

		target, err := s.matchTarget(tx, vendor.ID, reply)
		if err != nil {
			if errors.Is(err, store.ErrNoMatchingRecord) {
				noMatch = true
				return ledger.MarkProcessed(messageID)
			}
			return err
		}

		if reply.Success {
			if err := s.applySuccess(tx, vendor, target, reply); err != nil {
				return err
			}
		} else {
			if err := s.applyRejection(tx, target, reply); err != nil {
				return err
			}
		}

		if err := ledger.MarkProcessed(messageID); err != nil {
			return err
		}

		subject, body := buildOutcomeEmail(vendor.Name, reply)
		if _, err := s.outbox.WithTx(tx).Enqueue(target.RequestedByEmail, subject, body); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return err
	}
	if noMatch {
		return fmt.Errorf("%w: provider %s customer %q (message %s)",
			store.ErrNoMatchingRecord, reply.Provider, reply.Fields["Customer"], messageID)
	}
	return nil
}

// matchTarget locates the pending integration a reply refers to. The
// correlation token embedded in our request email is preferred when the
// vendor echoes it; otherwise the extracted Customer field is matched
// case-insensitively against company names. Zero or multiple candidates is
// ErrNoMatchingRecord.
func (s *ActivationService) matchTarget(tx *gorm.DB, vendorID uint, reply *parser.ParsedReply) (*models.Integration, error) {
	pending, err := s.integrations.WithTx(tx).FindPendingByVendor(vendorID)
	if err != nil {
		return nil, err
	}

	if m := correlationRe.FindStringSubmatch(reply.RawBody); m != nil {
		token := strings.ToLower(m[1])
		for i := range pending {
			if strings.ToLower(pending[i].CorrelationToken) == token {
				return &pending[i], nil
			}
		}
		// A token we did not issue, or one for an already-settled row.
		return nil, store.ErrNoMatchingRecord
	}

	customer := strings.TrimSpace(reply.Fields["Customer"])
	if customer == "" {
		return nil, store.ErrNoMatchingRecord
	}

	var companies []models.Company
	if err := tx.Where("LOWER(name) = LOWER(?)", customer).Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("failed to match customer name: %w", err)
	}

	var candidates []*models.Integration
	for _, c := range companies {
		for i := range pending {
			if pending[i].CompanyID == c.ID {
				candidates = append(candidates, &pending[i])
			}
		}
	}
	if len(candidates) != 1 {
		return nil, store.ErrNoMatchingRecord
	}
	return candidates[0], nil
}

// applySuccess encrypts each extracted secret and activates the row. Secrets
// the vendor omitted fall back to the vendor-wide global credential when one
// is configured (shared-account vendors).
func (s *ActivationService) applySuccess(tx *gorm.DB, vendor *models.Vendor, target *models.Integration, reply *parser.ParsedReply) error {
	creds := models.CredentialMap{}
	extra := models.ExtraConfig{}
	for k, v := range target.ExtraConfig {
		extra[k] = v
	}

	for name, value := range reply.Fields {
		if !secretFields[name] {
			extra[name] = value
			continue
		}
		cipher, err := s.credVault.Protect(value)
		if err != nil {
			return fmt.Errorf("failed to protect %s: %w", name, err)
		}
		creds[name] = cipher
	}

	for name := range secretFields {
		if _, ok := creds[name]; ok {
			continue
		}
		plaintext, found, err := s.globals.WithTx(tx).Get(vendor.ID, name)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		cipher, err := s.credVault.Protect(plaintext)
		if err != nil {
			return fmt.Errorf("failed to protect global %s: %w", name, err)
		}
		creds[name] = cipher
	}

	if len(creds) == 0 {
		return fmt.Errorf("success reply for integration %d carried no credentials", target.ID)
	}

	return s.integrations.WithTx(tx).Activate(target.ID, creds, extra)
}

func (s *ActivationService) applyRejection(tx *gorm.DB, target *models.Integration, reply *parser.ParsedReply) error {
	extra := models.ExtraConfig{}
	for k, v := range target.ExtraConfig {
		extra[k] = v
	}
	extra["rejection_reason"] = reply.Fields["Reason"]

	return s.integrations.WithTx(tx).Reject(target.ID, extra)
}

func buildOutcomeEmail(vendorName string, reply *parser.ParsedReply) (subject, body string) {
	if reply.Success {
		subject = fmt.Sprintf("Your %s integration is active", vendorName)
		body = fmt.Sprintf("Good news: your %s loadboard integration has been activated and is ready to use.\n", vendorName)
		return subject, body
	}
	subject = fmt.Sprintf("Your %s integration request was declined", vendorName)
	body = fmt.Sprintf("Your %s loadboard integration request was declined.\nReason: %s\n",
		vendorName, reply.Fields["Reason"])
	return subject, body
}

// Toggle flips an integration between active and disabled.
func (s *ActivationService) Toggle(id uint) (*models.Integration, error) {
	return s.integrations.Toggle(id)
}

// ListIntegrations returns a company's integrations with vendor metadata.
func (s *ActivationService) ListIntegrations(companyID uint) ([]models.Integration, error) {
	return s.integrations.ListByCompany(companyID)
}

// ListCatalog returns the supported vendor catalog.
func (s *ActivationService) ListCatalog() ([]models.Vendor, error) {
	return s.catalog.List()
}

// Credential decrypts one named credential of an active integration. Used
// by the vendor API client when it needs to authenticate; a ciphertext that
// fails authentication propagates vault.ErrDecryptionFailed, never a
// plaintext fallback.
func (s *ActivationService) Credential(integrationID uint, name string) (string, error) {
	row, err := s.integrations.Get(integrationID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", gorm.ErrRecordNotFound
	}
	cipher, ok := row.Credentials[name]
	if !ok {
		return "", fmt.Errorf("integration %d has no credential %q", integrationID, name)
	}
	return s.credVault.Unprotect(cipher)
}
