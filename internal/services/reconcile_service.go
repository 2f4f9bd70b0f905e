package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/anomaly"
	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

type ReconcileState string

const (
	StateSettled        ReconcileState = "settled"
	StateEscalated      ReconcileState = "escalated"
	StateInProgress     ReconcileState = "in_progress"
	StateNoDiscrepancy  ReconcileState = "no_discrepancy"
	StateAlreadySettled ReconcileState = "already_settled"
)

// Outcome is the terminal (or still-pending) description returned to the
// orchestration layer.
type Outcome struct {
	State          ReconcileState  `json:"state"`
	TransactionID  string          `json:"transaction_id"`
	RetryID        string          `json:"retry_id,omitempty"`
	CreditedAmount decimal.Decimal `json:"credited_amount"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	MessageID      string          `json:"message_id,omitempty"`
	Narrative      string          `json:"narrative"`
	Risk           float64         `json:"risk"`
}

// ReconcileService drives a floating transaction through
// MONITORING -> RETRYING -> SETTLED | ESCALATED. Multiple workers may run
// Resolve for the same original concurrently; the retry insert's unique
// constraint is the only arbitration between them.
type ReconcileService struct {
	txns    repo.Transactions
	retries *RetryService
	wallets *WalletService
	reports *ReportService
	scorer  anomaly.Scorer
	log     *slog.Logger

	pollInterval time.Duration
	pollTimeout  time.Duration
	clock        func() time.Time
}

func NewReconcileService(
	txns repo.Transactions,
	retries *RetryService,
	wallets *WalletService,
	reports *ReportService,
	scorer anomaly.Scorer,
	log *slog.Logger,
	pollInterval, pollTimeout time.Duration,
	clock func() time.Time,
) *ReconcileService {
	if clock == nil {
		clock = time.Now
	}
	return &ReconcileService{
		txns:         txns,
		retries:      retries,
		wallets:      wallets,
		reports:      reports,
		scorer:       scorer,
		log:          log,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		clock:        clock,
	}
}

// Resolve reconciles one original transaction for one user and returns the
// outcome. Unresolved states come back as StateInProgress ("still
// processing"), never as an error.
func (s *ReconcileService) Resolve(ctx context.Context, userID, txnID string) (Outcome, error) {
	now := s.clock()

	var original models.Transaction
	if err := s.withBackoff(ctx, func() error {
		var err error
		original, err = s.txns.GetForUser(ctx, userID, txnID)
		return err
	}); err != nil {
		return Outcome{}, err
	}
	if original.IsRetry() {
		return Outcome{}, ErrNotOriginal
	}

	if original.IsRetrySuccessful || original.Settled() {
		return s.finish(Outcome{
			State:         StateAlreadySettled,
			TransactionID: original.ID,
			Narrative:     "transaction was already reconciled; wallet credit applied previously",
		}), nil
	}
	if original.ManualEscalationNeeded {
		return s.finish(Outcome{
			State:         StateEscalated,
			TransactionID: original.ID,
			Narrative:     "could not resolve automatically; case was escalated for manual follow-up",
		}), nil
	}

	// A lifecycle that already ended in completion has no floating cash to
	// recover, whatever the anomaly signal says about it.
	if st := original.EffectiveStatus(); st == models.TxnCompleted || st == models.TxnSettled {
		return s.finish(Outcome{
			State:         StateNoDiscrepancy,
			TransactionID: original.ID,
			Narrative:     "transaction completed normally; no floating cash to recover",
		}), nil
	}

	score := s.scorer.Score(original)
	if !score.IsAnomalous && !original.IsFloating() {
		return s.finish(Outcome{
			State:         StateNoDiscrepancy,
			TransactionID: original.ID,
			Narrative:     "no discrepancy detected; nothing to reconcile",
			Risk:          score.Risk,
		}), nil
	}

	// Persist the discrepancy verdict the way the upstream check does, so
	// later sweeps see the flag without re-scoring.
	if score.IsAnomalous && !original.IsFloatingCash {
		minutes := original.FloatingDurationMinutes
		if minutes == 0 {
			minutes = int(now.Sub(original.TimestampInitiated).Minutes())
		}
		if err := s.withBackoff(ctx, func() error {
			return s.txns.FlagFloating(ctx, original.ID, minutes)
		}); err != nil {
			return Outcome{}, err
		}
		original.IsFloatingCash = true
		original.FloatingDurationMinutes = minutes
	}

	// MONITORING: inside the expected completion window nothing is overdue
	// yet; report "still processing".
	// A failed lifecycle or a missing completion window has nothing left to
	// wait for.
	overdue := original.Overdue(now) ||
		original.ExpectedCompletionTime == nil ||
		original.EffectiveStatus() == models.TxnFailed
	if !overdue {
		return s.finish(Outcome{
			State:         StateInProgress,
			TransactionID: original.ID,
			Narrative:     "transaction is still within its expected completion window",
			Risk:          score.Risk,
		}), nil
	}

	return s.retryLoop(ctx, original, score.Risk)
}

// retryLoop is the RETRYING state: generate ordinals in order, observe each
// retry's resolved status, settle on the first success and escalate when
// the bound is exhausted.
func (s *ReconcileService) retryLoop(ctx context.Context, original models.Transaction, risk float64) (Outcome, error) {
	var existing []models.Transaction
	if err := s.withBackoff(ctx, func() error {
		var err error
		existing, err = s.txns.ListRetries(ctx, original.ID)
		return err
	}); err != nil {
		return Outcome{}, err
	}

	// Adopt a retry another run left behind instead of generating a new
	// ordinal for a lineage that is already in flight or already done.
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		switch {
		case retrySucceeded(last):
			return s.settle(ctx, original, last, risk)
		case !last.Terminal():
			final, terminal, err := s.awaitRetry(ctx, last.ID)
			if err != nil {
				return Outcome{}, err
			}
			if !terminal {
				return s.stillProcessing(original, last.ID, risk), nil
			}
			if retrySucceeded(final) {
				return s.settle(ctx, original, final, risk)
			}
		}
	}

	maxR := s.retries.MaxRetries()
	for ordinal := len(existing) + 1; ordinal <= maxR; ordinal++ {
		var retry models.Transaction
		err := s.withBackoff(ctx, func() error {
			var err error
			retry, err = s.retries.Generate(ctx, original, ordinal, s.clock())
			return err
		})
		switch {
		case errors.Is(err, ErrDuplicateRetry):
			// Lost the race: another worker owns this ordinal.
			metrics.DuplicateRetrySkips.Inc()
			s.log.Info("retry already owned by another worker",
				"transaction_id", original.ID, "ordinal", ordinal)
			return s.stillProcessing(original, models.RetryID(original.ID, ordinal), risk), nil
		case errors.Is(err, ErrRetryLimitExceeded):
			return s.escalate(ctx, original, risk)
		case err != nil:
			return Outcome{}, err
		}

		s.log.Info("retry generated", "transaction_id", original.ID, "retry_id", retry.ID)

		final, terminal, err := s.awaitRetry(ctx, retry.ID)
		if err != nil {
			return Outcome{}, err
		}
		if !terminal {
			return s.stillProcessing(original, retry.ID, risk), nil
		}
		if retrySucceeded(final) {
			return s.settle(ctx, original, final, risk)
		}
		s.log.Warn("retry failed", "retry_id", retry.ID, "ordinal", ordinal)
	}

	return s.escalate(ctx, original, risk)
}

// settle is the SETTLED transition: credit the wallet exactly once, mark
// the lineage resolved and append the success report.
func (s *ReconcileService) settle(ctx context.Context, original, retry models.Transaction, risk float64) (Outcome, error) {
	now := s.clock()

	var credit CreditResult
	if err := s.withBackoff(ctx, func() error {
		var err error
		credit, err = s.wallets.ApplyRetryCredit(ctx, retry.ID)
		return err
	}); err != nil {
		return Outcome{}, err
	}
	if !credit.Applied {
		s.log.Info("credit already applied", "retry_id", retry.ID)
	}

	if err := s.withBackoff(ctx, func() error {
		return s.txns.MarkRetryOutcome(ctx, retry.ID, true, false)
	}); err != nil {
		return Outcome{}, err
	}
	if err := s.withBackoff(ctx, func() error {
		return s.txns.MarkRetryOutcome(ctx, original.ID, true, false)
	}); err != nil {
		return Outcome{}, err
	}

	messageID, narrative, err := s.reportOnce(ctx, original, models.OutcomeSuccess,
		"retry "+retry.ID+" completed; amount credited to wallet", now)
	if err != nil {
		return Outcome{}, err
	}

	return s.finish(Outcome{
		State:          StateSettled,
		TransactionID:  original.ID,
		RetryID:        retry.ID,
		CreditedAmount: retry.Amount,
		NewBalance:     credit.NewBalance,
		MessageID:      messageID,
		Narrative:      narrative,
		Risk:           risk,
	}), nil
}

// escalate is the ESCALATED transition: flag the original for manual
// follow-up and append the escalation report.
func (s *ReconcileService) escalate(ctx context.Context, original models.Transaction, risk float64) (Outcome, error) {
	now := s.clock()

	if err := s.withBackoff(ctx, func() error {
		return s.txns.MarkRetryOutcome(ctx, original.ID, false, true)
	}); err != nil {
		return Outcome{}, err
	}

	messageID, narrative, err := s.reportOnce(ctx, original, models.OutcomeEscalation,
		"automated retries exhausted without settlement", now)
	if err != nil {
		return Outcome{}, err
	}

	return s.finish(Outcome{
		State:         StateEscalated,
		TransactionID: original.ID,
		MessageID:     messageID,
		Narrative:     narrative,
		Risk:          risk,
	}), nil
}

// reportOnce writes the terminal report unless one already exists for the
// transaction.
func (s *ReconcileService) reportOnce(ctx context.Context, original models.Transaction, outcome models.ReportOutcome, details string, now time.Time) (string, string, error) {
	has, err := s.reports.HasReport(ctx, original.ID)
	if err != nil {
		return "", "", err
	}
	if has {
		return "", "outcome previously reported for this transaction", nil
	}

	var retries []models.Transaction
	if err := s.withBackoff(ctx, func() error {
		var err error
		retries, err = s.txns.ListRetries(ctx, original.ID)
		return err
	}); err != nil {
		return "", "", err
	}

	narrative := BuildNarrative(original, retries, outcome, details, now)
	messageID, err := s.reports.Create(ctx, original, outcome, narrative, now)
	if err != nil {
		// A concurrent worker reporting the same second collides on the
		// message id; the report exists, which is what matters.
		if errors.Is(err, repo.ErrDuplicateID) {
			return "", narrative, nil
		}
		return "", "", err
	}
	return messageID, narrative, nil
}

// awaitRetry polls the retry's resolved status until it is terminal or the
// poll window closes. Settlement rails write the status slots; this side
// only observes.
func (s *ReconcileService) awaitRetry(ctx context.Context, retryID string) (models.Transaction, bool, error) {
	deadline := time.NewTimer(s.pollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.pollInterval)
	defer tick.Stop()

	for {
		var t models.Transaction
		if err := s.withBackoff(ctx, func() error {
			var err error
			t, err = s.txns.Get(ctx, retryID)
			return err
		}); err != nil {
			return models.Transaction{}, false, err
		}
		if t.Terminal() {
			return t, true, nil
		}
		select {
		case <-ctx.Done():
			return t, false, ctx.Err()
		case <-deadline.C:
			return t, false, nil
		case <-tick.C:
		}
	}
}

func (s *ReconcileService) stillProcessing(original models.Transaction, retryID string, risk float64) Outcome {
	return s.finish(Outcome{
		State:         StateInProgress,
		TransactionID: original.ID,
		RetryID:       retryID,
		Narrative:     "reconciliation is still processing; a retry is in flight",
		Risk:          risk,
	})
}

func (s *ReconcileService) finish(o Outcome) Outcome {
	metrics.ReconciliationsTotal.WithLabelValues(string(o.State)).Inc()
	return o
}

// withBackoff retries transient store failures with exponential backoff.
// Anything else fails immediately.
func (s *ReconcileService) withBackoff(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, repo.ErrStoreUnavailable) {
			s.log.Warn("store unavailable, retrying", "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func retrySucceeded(retry models.Transaction) bool {
	switch retry.EffectiveStatus() {
	case models.TxnCompleted, models.TxnSettled:
		return true
	}
	return false
}
