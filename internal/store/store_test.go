package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loadboard-activation-go/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Company{},
		&models.Vendor{},
		&models.Integration{},
		&models.GlobalCredential{},
		&models.ProcessedMessage{},
		&models.OutboxEmail{},
		&models.MessageFailure{},
	))
	return db
}

func TestLedgerMarkProcessedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerStore(db)

	processed, err := ledger.IsProcessed("msg-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, ledger.MarkProcessed("msg-1"))
	// Duplicate insert must no-op, not error.
	require.NoError(t, ledger.MarkProcessed("msg-1"))

	processed, err = ledger.IsProcessed("msg-1")
	require.NoError(t, err)
	assert.True(t, processed)

	var count int64
	require.NoError(t, db.Model(&models.ProcessedMessage{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestIntegrationCreateRejectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	s := NewIntegrationStore(db)

	_, err := s.Create(1, 1, "ops@acme.example.com", "tok-1")
	require.NoError(t, err)

	_, err = s.Create(1, 1, "ops@acme.example.com", "tok-2")
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	// A different vendor for the same company is fine.
	_, err = s.Create(1, 2, "ops@acme.example.com", "tok-3")
	assert.NoError(t, err)
}

func TestIntegrationCreateAllowedAfterRejection(t *testing.T) {
	db := newTestDB(t)
	s := NewIntegrationStore(db)

	row, err := s.Create(1, 1, "ops@acme.example.com", "tok-1")
	require.NoError(t, err)
	require.NoError(t, s.Reject(row.ID, models.ExtraConfig{"rejection_reason": "invalid MC"}))

	// Rejected rows release their open slot and stay as audit history.
	_, err = s.Create(1, 1, "ops@acme.example.com", "tok-2")
	assert.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Integration{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestIntegrationToggleTransitions(t *testing.T) {
	db := newTestDB(t)
	s := NewIntegrationStore(db)

	row, err := s.Create(1, 1, "ops@acme.example.com", "tok-1")
	require.NoError(t, err)

	// Toggling a pending record is invalid.
	_, err = s.Toggle(row.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Activate(row.ID, models.CredentialMap{"Password": "cipher"}, models.ExtraConfig{}))

	toggled, err := s.Toggle(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, toggled.Status)

	toggled, err = s.Toggle(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, toggled.Status)
}

func TestIntegrationActivateRequiresPending(t *testing.T) {
	db := newTestDB(t)
	s := NewIntegrationStore(db)

	row, err := s.Create(1, 1, "ops@acme.example.com", "tok-1")
	require.NoError(t, err)
	require.NoError(t, s.Activate(row.ID, models.CredentialMap{"Password": "cipher"}, models.ExtraConfig{}))

	err = s.Activate(row.ID, models.CredentialMap{"Password": "other"}, models.ExtraConfig{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.Reject(row.ID, models.ExtraConfig{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIntegrationCredentialsPersistAsMap(t *testing.T) {
	db := newTestDB(t)
	s := NewIntegrationStore(db)

	row, err := s.Create(1, 1, "ops@acme.example.com", "tok-1")
	require.NoError(t, err)
	require.NoError(t, s.Activate(row.ID, models.CredentialMap{
		"Username": "cipher-user",
		"Password": "cipher-pw",
	}, models.ExtraConfig{"IntegrationID": "789"}))

	got, err := s.Get(row.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusActive, got.Status)
	assert.Equal(t, "cipher-user", got.Credentials["Username"])
	assert.Equal(t, "cipher-pw", got.Credentials["Password"])
	assert.Equal(t, "789", got.ExtraConfig["IntegrationID"])
}

func TestOutboxTransitionsAreOneWay(t *testing.T) {
	db := newTestDB(t)
	s := NewOutboxStore(db)

	row, err := s.Enqueue("ops@acme.example.com", "subject", "body")
	require.NoError(t, err)
	assert.Equal(t, models.OutboxPending, row.Status)

	require.NoError(t, s.MarkSent(row.ID, time.Now()))

	got, err := s.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxSent, got.Status)
	assert.NotNil(t, got.SentAt)

	// Terminal rows are never reversed; both marks are idempotent no-ops.
	require.NoError(t, s.MarkFailed(row.ID, "smtp timeout"))
	require.NoError(t, s.MarkSent(row.ID, time.Now()))

	got, err = s.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxSent, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestOutboxMarkFailedRecordsReason(t *testing.T) {
	db := newTestDB(t)
	s := NewOutboxStore(db)

	row, err := s.Enqueue("ops@acme.example.com", "subject", "body")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(row.ID, "mailbox full"))

	got, err := s.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutboxFailed, got.Status)
	assert.Equal(t, "mailbox full", got.ErrorMessage)
}

func TestFailureStoreCountsAttempts(t *testing.T) {
	db := newTestDB(t)
	s := NewFailureStore(db)

	for want := 1; want <= 3; want++ {
		got, err := s.RecordFailure("msg-1", "no pattern matched")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, s.Clear("msg-1"))
	got, err := s.RecordFailure("msg-1", "no pattern matched")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestCatalogSeedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	s := NewCatalogStore(db)

	require.NoError(t, s.Seed())
	require.NoError(t, s.Seed())

	vendors, err := s.List()
	require.NoError(t, err)
	assert.Len(t, vendors, 2)
}
