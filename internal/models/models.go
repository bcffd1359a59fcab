package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Integration statuses. Requested and Pending are the non-terminal states:
// the poller is still expected to move them forward.
const (
	StatusRequested = "requested"
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusRejected  = "rejected"
	StatusDisabled  = "disabled"
)

// Outbox email statuses. Transitions are one-way: pending->sent or
// pending->failed, never reversed.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// CredentialMap maps a credential name to its ciphertext. Each value is
// independently encrypted so individual secrets can be read or rotated
// without touching the others. Stored as a JSON text column.
type CredentialMap map[string]string

// Value implements driver.Valuer for GORM serialization
func (m CredentialMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM deserialization
func (m *CredentialMap) Scan(value interface{}) error {
	if value == nil {
		*m = CredentialMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported credential map column type %T", value)
	}
	if len(data) == 0 {
		*m = CredentialMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// ExtraConfig holds non-secret vendor-specific settings (rejection reasons,
// vendor integration ids, service account emails). Stored as JSON.
type ExtraConfig map[string]interface{}

// Value implements driver.Valuer for GORM serialization
func (m ExtraConfig) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra config: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for GORM deserialization
func (m *ExtraConfig) Scan(value interface{}) error {
	if value == nil {
		*m = ExtraConfig{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported extra config column type %T", value)
	}
	if len(data) == 0 {
		*m = ExtraConfig{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Integration represents one company's connection to a loadboard vendor.
// Rows are never physically deleted; rejected rows stay as an audit trail.
//
// OpenSlot backs the composite unique index on (company_id, vendor_id,
// open_slot): it holds "1" while the row is live (anything but rejected) and
// NULL once rejected. MySQL ignores NULLs in unique indexes, so a company can
// re-request a vendor after a rejection but can never hold two live rows for
// the same vendor, even under concurrent requests.
type Integration struct {
	ID               uint          `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID        uint          `json:"company_id" gorm:"not null;uniqueIndex:idx_company_vendor_open,priority:1"`
	VendorID         uint          `json:"vendor_id" gorm:"not null;uniqueIndex:idx_company_vendor_open,priority:2"`
	Status           string        `json:"status" gorm:"type:varchar(20);not null;index"`
	OpenSlot         *string       `json:"-" gorm:"type:varchar(1);uniqueIndex:idx_company_vendor_open,priority:3"`
	Credentials      CredentialMap `json:"-" gorm:"type:text"`
	ExtraConfig      ExtraConfig   `json:"extra_config" gorm:"type:text"`
	RequestedByEmail string        `json:"requested_by_email" gorm:"type:varchar(255);not null"`
	CorrelationToken string        `json:"-" gorm:"type:varchar(64);index"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Vendor *Vendor `json:"vendor,omitempty" gorm:"foreignKey:VendorID"`
}

// TableName specifies the table name for Integration
func (Integration) TableName() string {
	return "integrations"
}

// IsNonTerminal reports whether the poller still owes this row a transition.
func (i *Integration) IsNonTerminal() bool {
	return i.Status == StatusRequested || i.Status == StatusPending
}

// Vendor is a static catalog row for a supported loadboard. Read-only to
// this service; seeded at migration time.
type Vendor struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	Category    string    `json:"category" gorm:"type:varchar(100)"`
	Description string    `json:"description" gorm:"type:text"`
	LogoURL     string    `json:"logo_url" gorm:"type:varchar(512)"`
	RequestTo   string    `json:"-" gorm:"type:varchar(255)"` // vendor onboarding mailbox
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for Vendor
func (Vendor) TableName() string {
	return "vendors"
}

// GlobalCredential is a vendor-wide secret created by operators out of band,
// used when a vendor's integration model relies on a shared account rather
// than per-company credentials. Read-only here; CipherValue is ciphertext.
type GlobalCredential struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	VendorID    uint      `json:"vendor_id" gorm:"not null;uniqueIndex:idx_vendor_cred,priority:1"`
	Name        string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex:idx_vendor_cred,priority:2"`
	CipherValue string    `json:"-" gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for GlobalCredential
func (GlobalCredential) TableName() string {
	return "global_credentials"
}

// ProcessedMessage marks a mailbox message as handled. The row's existence is
// authoritative proof that side effects for that message already committed,
// because the row is written in the same transaction as those side effects.
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// OutboxEmail is a durable outbound-mail intent. Rows are enqueued in the
// same transaction as the state change they announce; an external dispatch
// worker drains pending rows and reports back via MarkSent/MarkFailed.
type OutboxEmail struct {
	ID           string     `json:"id" gorm:"type:char(36);primaryKey"`
	To           string     `json:"to" gorm:"type:varchar(255);not null"`
	Subject      string     `json:"subject" gorm:"type:varchar(255);not null"`
	Body         string     `json:"body" gorm:"type:text"`
	Status       string     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

// TableName specifies the table name for OutboxEmail
func (OutboxEmail) TableName() string {
	return "outbox_emails"
}

// MessageFailure counts classification failures per message so permanently
// malformed mail is quarantined after a bounded number of retries instead of
// being re-fetched and re-logged forever.
type MessageFailure struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Attempts  int       `json:"attempts" gorm:"not null;default:0"`
	LastError string    `json:"last_error" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for MessageFailure
func (MessageFailure) TableName() string {
	return "message_failures"
}

// Company is owned by the fleet back office; this service only reads it, to
// match vendor replies by customer name and to address notifications.
type Company struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string    `json:"name" gorm:"type:varchar(255);not null;index"`
	ContactEmail string    `json:"contact_email" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for Company
func (Company) TableName() string {
	return "companies"
}

// InboundEmail is one message pulled from the vendor-reply mailbox.
type InboundEmail struct {
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	Body      string `json:"body"`
}
