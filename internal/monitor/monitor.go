// Package monitor runs the unattended sweep: find floating transactions
// past their expected completion window and feed them to the coordinator
// through the worker pool.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
	"github.com/trybe-fintech/reconciler-backend/internal/services"
	"github.com/trybe-fintech/reconciler-backend/internal/worker"
)

type Monitor struct {
	txns      repo.Transactions
	reconcile *services.ReconcileService
	pool      *worker.Pool
	log       *slog.Logger

	interval  time.Duration
	batchSize int
	clock     func() time.Time
}

func New(txns repo.Transactions, rec *services.ReconcileService, pool *worker.Pool, log *slog.Logger, interval time.Duration, batchSize int, clock func() time.Time) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		txns:      txns,
		reconcile: rec,
		pool:      pool,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
		clock:     clock,
	}
}

// Run sweeps until the context is cancelled. Each overdue original becomes
// one pool job; the coordinator's duplicate-retry arbitration makes
// overlapping sweeps safe.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep schedules reconciliation for every overdue floating original found.
func (m *Monitor) Sweep(ctx context.Context) {
	metrics.MonitorSweeps.Inc()
	overdue, err := m.txns.ListOverdueFloating(ctx, m.clock(), m.batchSize)
	if err != nil {
		m.log.Error("overdue sweep", "err", err)
		return
	}
	for _, txn := range overdue {
		userID, txnID := txn.UserID, txn.ID
		m.pool.Submit(func() {
			outcome, err := m.reconcile.Resolve(ctx, userID, txnID)
			if err != nil {
				m.log.Error("background reconcile", "transaction_id", txnID, "err", err)
				return
			}
			m.log.Info("background reconcile finished",
				"transaction_id", txnID, "state", outcome.State)
		})
	}
	if len(overdue) > 0 {
		m.log.Info("sweep scheduled reconciliations", "count", len(overdue))
	}
}
