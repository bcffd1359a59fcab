package poller

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loadboard-activation-go/internal/config"
	"loadboard-activation-go/internal/metrics"
	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/service"
	"loadboard-activation-go/internal/store"
	"loadboard-activation-go/internal/vault"
)

// Prometheus collectors register globally; construct once for the package.
var testMetrics = metrics.NewMetrics()

// fakeFetcher serves a fixed batch of inbound emails.
type fakeFetcher struct {
	emails []models.InboundEmail
}

func (f *fakeFetcher) FetchNewReplies(ctx context.Context) ([]models.InboundEmail, error) {
	return f.emails, nil
}

func (f *fakeFetcher) Close() error { return nil }

type fixture struct {
	db      *gorm.DB
	svc     *service.ActivationService
	company models.Company
	vendor  models.Vendor
}

func newFixture(t *testing.T) *fixture {
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
	require.NoError(t, store.NewCatalogStore(db).Seed())

	key := make([]byte, 32)
	credVault, err := vault.NewCredentialVault(key)
	require.NoError(t, err)
	generalVault, err := vault.NewGeneralVault(key)
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		svc:     service.NewActivationService(db, credVault, generalVault),
		company: models.Company{Name: "Acme Inc", ContactEmail: "ops@acme.example.com"},
	}
	require.NoError(t, db.Create(&f.company).Error)
	require.NoError(t, db.Where("name = ?", "Truckstop").First(&f.vendor).Error)
	return f
}

func newTestPoller(f *fixture, fetcher *fakeFetcher, maxRetries int) *Poller {
	cfg := &config.SchedulerConfig{
		IntervalMinutes: 60,
		FetchTimeout:    5 * time.Second,
		MaxParseRetries: maxRetries,
	}
	return NewPoller(cfg, fetcher, f.svc, store.NewLedgerStore(f.db), store.NewFailureStore(f.db), testMetrics)
}

func TestPollerRestart(t *testing.T) {
	f := newFixture(t)
	p := newTestPoller(f, &fakeFetcher{}, 3)

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())
	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())

	// Stop is idempotent.
	require.NoError(t, p.Stop())

	// Restarting must not stack a second schedule on top of the removed one.
	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())
	assert.Len(t, p.cron.Entries(), 1)
	require.NoError(t, p.Stop())
}

func TestPollerProcessesRepliesAfterRestart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestActivation(f.company.ID, f.vendor.ID, true, "")
	require.NoError(t, err)

	email := models.InboundEmail{
		MessageID: "msg-after-restart",
		Subject:   "RE: Truckstop SUCCESS",
		Body:      "IntegrationID: 42\nAPI Username: user1\nAPI Password: pw1\nCustomer: Acme Inc\n",
	}
	fetcher := &fakeFetcher{}
	p := newTestPoller(f, fetcher, 3)

	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Start())
	defer p.Stop()

	// The reply arrives after the restart; a cycle on the restarted poller
	// must process it instead of bailing on the cancelled first lifetime.
	fetcher.emails = []models.InboundEmail{email}
	p.RunOnce()

	var row models.Integration
	require.NoError(t, f.db.First(&row, "vendor_id = ?", f.vendor.ID).Error)
	assert.Equal(t, models.StatusActive, row.Status)

	processed, err := store.NewLedgerStore(f.db).IsProcessed("msg-after-restart")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestPollerStartTwiceFails(t *testing.T) {
	f := newFixture(t)
	p := newTestPoller(f, &fakeFetcher{}, 3)

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())
	p.Stop()
}

func TestPollerProcessesReplyOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestActivation(f.company.ID, f.vendor.ID, true, "")
	require.NoError(t, err)

	email := models.InboundEmail{
		MessageID: "msg-1",
		Subject:   "RE: Truckstop SUCCESS",
		Body:      "IntegrationID: 789\nAPI Username: user1\nAPI Password: pw1\nCustomer: Acme Inc\n",
	}
	p := newTestPoller(f, &fakeFetcher{emails: []models.InboundEmail{email}}, 3)

	p.RunOnce()

	var row models.Integration
	require.NoError(t, f.db.First(&row, "vendor_id = ?", f.vendor.ID).Error)
	assert.Equal(t, models.StatusActive, row.Status)

	var outboxCount int64
	require.NoError(t, f.db.Model(&models.OutboxEmail{}).Count(&outboxCount).Error)
	assert.EqualValues(t, 2, outboxCount)

	// A rescan redelivers the same message; the ledger short-circuits it.
	p.RunOnce()
	require.NoError(t, f.db.Model(&models.OutboxEmail{}).Count(&outboxCount).Error)
	assert.EqualValues(t, 2, outboxCount)
}

func TestPollerQuarantinesUnparseableMail(t *testing.T) {
	f := newFixture(t)

	email := models.InboundEmail{
		MessageID: "msg-bad",
		Subject:   "Truckstop SUCCESS",
		Body:      "completely free-form reply with no recognizable fields",
	}
	p := newTestPoller(f, &fakeFetcher{emails: []models.InboundEmail{email}}, 3)
	ledger := store.NewLedgerStore(f.db)

	// Below the limit the message stays unprocessed for retry.
	p.RunOnce()
	p.RunOnce()
	processed, err := ledger.IsProcessed("msg-bad")
	require.NoError(t, err)
	assert.False(t, processed)

	// The third failure hits the limit and quarantines it.
	p.RunOnce()
	processed, err = ledger.IsProcessed("msg-bad")
	require.NoError(t, err)
	assert.True(t, processed)

	// Quarantined mail produces no state change and no notification.
	var outboxCount int64
	require.NoError(t, f.db.Model(&models.OutboxEmail{}).Count(&outboxCount).Error)
	assert.EqualValues(t, 0, outboxCount)
}

func TestPollerLeavesUnmatchedReplyProcessed(t *testing.T) {
	f := newFixture(t)

	// Parseable reply, but nothing pending anywhere.
	email := models.InboundEmail{
		MessageID: "msg-orphan",
		Subject:   "Truckstop SUCCESS",
		Body:      "IntegrationID: 1\nAPI Username: u\nAPI Password: p\nCustomer: Nobody Inc\n",
	}
	p := newTestPoller(f, &fakeFetcher{emails: []models.InboundEmail{email}}, 3)

	p.RunOnce()

	processed, err := store.NewLedgerStore(f.db).IsProcessed("msg-orphan")
	require.NoError(t, err)
	assert.True(t, processed)
}
