package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"loadboard-activation-go/internal/config"
	"loadboard-activation-go/internal/mailbox"
	"loadboard-activation-go/internal/metrics"
	"loadboard-activation-go/internal/models"
	"loadboard-activation-go/internal/parser"
	"loadboard-activation-go/internal/service"
	"loadboard-activation-go/internal/store"
)

// Poller is the scheduled loop that drains the vendor-reply mailbox:
// dedupe via the idempotency ledger, classify, then apply in one
// transaction. Runs are single-flight: a cycle that is still executing
// when the next tick fires makes the tick a no-op.
type Poller struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	config   *config.SchedulerConfig
	fetcher  mailbox.ReplyFetcher
	service  *service.ActivationService
	ledger   *store.LedgerStore
	failures *store.FailureStore
	metrics  *metrics.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inFlight  atomic.Bool
	isRunning bool
	mu        sync.RWMutex
}

// NewPoller creates a new poller
func NewPoller(cfg *config.SchedulerConfig, fetcher mailbox.ReplyFetcher, svc *service.ActivationService, ledger *store.LedgerStore, failures *store.FailureStore, m *metrics.Metrics) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	return &Poller{
		cron:     cron.New(cron.WithSeconds()),
		config:   cfg,
		fetcher:  fetcher,
		service:  svc,
		ledger:   ledger,
		failures: failures,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the poller
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("poller is already running")
	}

	// Stop cancelled the previous context; each start gets a fresh one so
	// cycles after a restart actually run.
	p.ctx, p.cancel = context.WithCancel(context.Background())

	schedule := fmt.Sprintf("0 */%d * * * *", p.config.IntervalMinutes)
	entryID, err := p.cron.AddFunc(schedule, p.processReplies)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	p.entryID = entryID
	p.cron.Start()
	p.isRunning = true

	logrus.Infof("Poller started with interval: %d minutes", p.config.IntervalMinutes)
	return nil
}

// Stop stops the poller. Cancellation takes effect between messages, never
// mid-transaction.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return nil
	}

	p.cancel()
	p.cron.Remove(p.entryID)
	ctx := p.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Poller stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Poller stop timeout, forcing shutdown")
	}

	p.isRunning = false
	return nil
}

// IsRunning returns whether the poller is running
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// processReplies runs one poll cycle.
func (p *Poller) processReplies() {
	if !p.inFlight.CompareAndSwap(false, true) {
		logrus.Warn("Previous poll cycle still running, skipping tick")
		return
	}
	defer p.inFlight.Store(false)

	p.wg.Add(1)
	defer p.wg.Done()

	startTime := time.Now()
	p.metrics.PollCycles.Inc()
	logrus.Info("Starting reply processing cycle")

	// Start replaces the context on restart; snapshot it so the whole cycle
	// observes a single lifetime.
	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()

	// The fetch is the only step that waits on an external resource; bound
	// it so one slow mailbox cannot starve the rest of the cycle.
	fetchCtx, cancel := context.WithTimeout(ctx, p.config.FetchTimeout)
	replies, err := p.fetcher.FetchNewReplies(fetchCtx)
	cancel()
	if err != nil {
		logrus.Errorf("Failed to fetch vendor replies: %v", err)
		return
	}

	p.metrics.MessagesFetched.Add(float64(len(replies)))
	logrus.Infof("Fetched %d candidate replies", len(replies))

	for _, email := range replies {
		select {
		case <-ctx.Done():
			logrus.Info("Poller cancelled, stopping between messages")
			return
		default:
		}

		if err := p.processReply(email); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": email.MessageID,
				"subject":    email.Subject,
			}).Errorf("Failed to process reply: %v", err)
		}
	}

	p.metrics.CycleDuration.Observe(time.Since(startTime).Seconds())
	logrus.Infof("Reply processing cycle completed in %v", time.Since(startTime))
}

// processReply handles a single fetched message.
func (p *Poller) processReply(email models.InboundEmail) error {
	processed, err := p.ledger.IsProcessed(email.MessageID)
	if err != nil {
		return fmt.Errorf("failed to check idempotency ledger: %w", err)
	}
	if processed {
		// Expected on mailbox rescans; not worth a log line.
		p.metrics.MessagesSkipped.Inc()
		return nil
	}

	reply := parser.Classify(email.Subject, email.Body)
	if reply == nil {
		return p.handleUnparseable(email)
	}

	if err := p.failures.Clear(email.MessageID); err != nil {
		logrus.Warnf("Failed to clear failure counter for %s: %v", email.MessageID, err)
	}

	if err := p.service.Apply(email.MessageID, reply); err != nil {
		if errors.Is(err, store.ErrNoMatchingRecord) {
			// Marked processed inside the transaction; needs an operator,
			// not a retry.
			p.metrics.UnmatchedReplies.Inc()
			logrus.Errorf("Vendor reply has no matching pending integration: %v", err)
			return nil
		}
		p.metrics.ApplyFailures.Inc()
		return fmt.Errorf("apply rolled back, message will be retried: %w", err)
	}

	if reply.Success {
		p.metrics.Activations.Inc()
	} else {
		p.metrics.Rejections.Inc()
	}
	p.metrics.OutboxEnqueued.Inc()

	logrus.WithFields(logrus.Fields{
		"message_id": email.MessageID,
		"provider":   reply.Provider,
		"success":    reply.Success,
	}).Info("Vendor reply applied")
	return nil
}

// handleUnparseable leaves an unclassifiable message unprocessed so it is
// retried next cycle, up to the configured limit; then it is quarantined by
// marking it processed so it stops being re-fetched forever.
func (p *Poller) handleUnparseable(email models.InboundEmail) error {
	p.metrics.ParseFailures.Inc()

	attempts, err := p.failures.RecordFailure(email.MessageID, "no vendor/outcome pattern matched")
	if err != nil {
		return err
	}

	if attempts < p.config.MaxParseRetries {
		logrus.WithFields(logrus.Fields{
			"message_id": email.MessageID,
			"subject":    email.Subject,
			"attempts":   attempts,
		}).Warn("Could not classify vendor reply, leaving for retry")
		return nil
	}

	if err := p.ledger.MarkProcessed(email.MessageID); err != nil {
		return err
	}
	p.metrics.MessagesQuarantined.Inc()
	logrus.WithFields(logrus.Fields{
		"message_id": email.MessageID,
		"subject":    email.Subject,
		"attempts":   attempts,
	}).Error("Quarantined unclassifiable message after retries, manual triage required")
	return nil
}

// RunOnce runs the reply processing once (for manual triggering)
func (p *Poller) RunOnce() {
	logrus.Info("Running reply processing once")
	p.processReplies()
}

// GetNextRun returns the time of the next scheduled run
func (p *Poller) GetNextRun() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isRunning {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}

// GetLastRun returns the time of the last run
func (p *Poller) GetLastRun() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isRunning {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Prev
}

// Wait waits for the poller to stop
func (p *Poller) Wait() {
	p.wg.Wait()
}
