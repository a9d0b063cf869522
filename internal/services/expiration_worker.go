package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	ierr "billing-service/internal/errors"
	"billing-service/internal/metrics"
	"billing-service/internal/models"
	"billing-service/internal/repository"
)

const (
	// DefaultSweepInterval is the default interval between expiration sweeps
	DefaultSweepInterval = 5 * time.Minute

	// SweepBatchSize is the number of invoices claimed per sweep batch
	SweepBatchSize = 100
)

// ExpirationWorker periodically expires invoices whose expiry timestamp has
// passed without full payment, and flags unpaid installments past their due
// date as overdue. Stop waits for an in-flight sweep to finish; a sweep is
// never aborted midway.
type ExpirationWorker struct {
	repo     repository.BillingRepositoryInterface
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.Mutex
	running  bool
	lastRun  time.Time
	lastErr  error
	stats    SweepStats
}

// SweepStats tracks the most recent sweep.
type SweepStats struct {
	InvoicesExpired     int64     `json:"invoicesExpired"`
	InstallmentsOverdue int64     `json:"installmentsOverdue"`
	LastRunAt           time.Time `json:"lastRunAt,omitempty"`
	LastRunDuration     string    `json:"lastRunDuration,omitempty"`
	TotalInvoicesSwept  int64     `json:"totalInvoicesSwept"`
}

// NewExpirationWorker creates a new expiration worker.
func NewExpirationWorker(repo repository.BillingRepositoryInterface, interval time.Duration) *ExpirationWorker {
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	return &ExpirationWorker{
		repo:     repo,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (w *ExpirationWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
	logrus.WithField("interval", w.interval.String()).Info("Expiration worker started")
}

// Stop stops the sweep loop and waits for any in-flight sweep to complete.
func (w *ExpirationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	<-w.doneChan
	logrus.Info("Expiration worker stopped")
}

// ForceRun triggers an immediate sweep.
func (w *ExpirationWorker) ForceRun(ctx context.Context) error {
	return w.sweep(ctx)
}

// IsRunning returns whether the worker is running.
func (w *ExpirationWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns statistics from the most recent sweep.
func (w *ExpirationWorker) Stats() SweepStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *ExpirationWorker) run() {
	defer close(w.doneChan)

	// Sweep once on startup so a restart does not postpone overdue work.
	// Sweeps run on a background context: once started they finish even
	// while Stop waits.
	if err := w.sweep(context.Background()); err != nil {
		logrus.WithError(err).Error("Initial expiration sweep failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			if err := w.sweep(context.Background()); err != nil {
				logrus.WithError(err).Error("Expiration sweep failed")
				w.mu.Lock()
				w.lastErr = err
				w.mu.Unlock()
			}
		}
	}
}

// sweep expires overdue invoices and marks overdue installments.
func (w *ExpirationWorker) sweep(ctx context.Context) error {
	start := time.Now()

	expired, swept, err := w.expireInvoices(ctx)
	if err != nil {
		return err
	}

	overdue, err := w.markOverdueInstallments(ctx)
	if err != nil {
		return err
	}

	duration := time.Since(start)

	w.mu.Lock()
	w.lastRun = start
	w.lastErr = nil
	w.stats = SweepStats{
		InvoicesExpired:     expired,
		InstallmentsOverdue: overdue,
		LastRunAt:           start,
		LastRunDuration:     duration.String(),
		TotalInvoicesSwept:  swept,
	}
	w.mu.Unlock()

	if expired > 0 {
		metrics.InvoicesExpired.Add(float64(expired))
	}
	if expired > 0 || overdue > 0 {
		logrus.WithFields(logrus.Fields{
			"invoices_expired":     expired,
			"installments_overdue": overdue,
			"duration":             duration.String(),
		}).Info("Expiration sweep completed")
	}
	return nil
}

// expireInvoices claims batches of expirable invoices and transitions each to
// expired under a row lock. A failure on one invoice is logged and the sweep
// moves on.
func (w *ExpirationWorker) expireInvoices(ctx context.Context) (int64, int64, error) {
	now := time.Now().UTC()
	var expired, swept int64

	for {
		candidates, err := w.repo.ListExpirableInvoices(ctx, now, SweepBatchSize)
		if err != nil {
			return expired, swept, err
		}
		if len(candidates) == 0 {
			break
		}

		progressed := false
		for i := range candidates {
			swept++
			if err := w.expireOne(ctx, &candidates[i], now); err != nil {
				logrus.WithFields(logrus.Fields{
					"invoice_id": candidates[i].ID,
				}).WithError(err).Error("Failed to expire invoice")
				continue
			}
			progressed = true
			expired++
		}

		// Expired invoices drop out of the next query. If nothing in the
		// batch could be expired, stop instead of spinning on the same rows.
		if !progressed || len(candidates) < SweepBatchSize {
			break
		}
	}
	return expired, swept, nil
}

func (w *ExpirationWorker) expireOne(ctx context.Context, candidate *models.Invoice, now time.Time) error {
	return w.repo.WithTransaction(ctx, func(txRepo repository.BillingRepositoryInterface) error {
		invoice, err := txRepo.GetInvoiceForUpdate(ctx, candidate.ID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return nil
			}
			return err
		}
		// A payment or another sweep may have won the race since the scan.
		if !invoice.ExpiresAt.Before(now) || !models.CanTransitionInvoiceStatus(invoice.Status, models.InvoiceExpired) || invoice.Status == models.InvoiceExpired {
			return nil
		}
		invoice.Status = models.InvoiceExpired
		return txRepo.UpdateInvoice(ctx, invoice)
	})
}

// markOverdueInstallments flags unpaid installments due before today.
func (w *ExpirationWorker) markOverdueInstallments(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count, err := w.repo.MarkOverdueInstallments(ctx, startOfDay)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logrus.WithField("count", count).Info("Installments marked overdue")
	}
	return count, nil
}
