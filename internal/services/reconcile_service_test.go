package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trybe-fintech/reconciler-backend/internal/anomaly"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
	"github.com/trybe-fintech/reconciler-backend/internal/repository/memory"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	reconcile *ReconcileService
	wallets   *WalletService
	reports   *ReportService
}

func newFixture(t *testing.T, maxRetries int) *fixture {
	t.Helper()
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	retries := NewRetryService(store.Transactions(), maxRetries)
	wallets := NewWalletService(store.Wallets())
	reports := NewReportService(store.Reports())
	scorer := anomaly.NewRuleScorer(10)
	rec := NewReconcileService(
		store.Transactions(), retries, wallets, reports, scorer, log,
		time.Millisecond, 50*time.Millisecond,
		func() time.Time { return testNow },
	)
	return &fixture{store: store, reconcile: rec, wallets: wallets, reports: reports}
}

func floatingOriginal(id, userID string, amount int64, expectedAt time.Time) models.Transaction {
	initiated := models.TxnInitiated
	start := testNow.Add(-time.Hour)
	txn := models.Transaction{
		ID:                      id,
		UserID:                  userID,
		Amount:                  decimal.NewFromInt(amount),
		Type:                    "transfer",
		TimestampInitiated:      start,
		ExpectedCompletionTime:  &expectedAt,
		IsFloatingCash:          true,
		FloatingDurationMinutes: 30,
	}
	txn.Statuses[0] = &initiated
	txn.StatusTimestamps[0] = &start
	return txn
}

// settleRetries simulates the settlement rails completing every retry.
func settleRetries(store *memory.Store) {
	store.OnCreateRetry = func(rt *models.Transaction) {
		processing, completed := models.TxnProcessing, models.TxnCompleted
		rt.Statuses[1] = &processing
		rt.Statuses[2] = &completed
	}
}

// failRetries simulates the settlement rails failing every retry.
func failRetries(store *memory.Store) {
	store.OnCreateRetry = func(rt *models.Transaction) {
		failed := models.TxnFailed
		rt.Statuses[1] = &failed
	}
}

func TestResolveSettlesOverdueFloatingTransaction(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_1", "user_1", 1000, testNow.Add(-10*time.Minute)))
	settleRetries(f.store)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_1")
	require.NoError(t, err)

	assert.Equal(t, StateSettled, outcome.State)
	assert.Equal(t, "RT1_TXN_1", outcome.RetryID)
	assert.True(t, decimal.NewFromInt(1000).Equal(outcome.CreditedAmount))
	assert.True(t, decimal.NewFromInt(1000).Equal(outcome.NewBalance))
	assert.True(t, strings.HasPrefix(outcome.MessageID, "SUC_"))

	u, err := f.wallets.Balance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(u.WalletBalance))

	original, err := f.store.Transactions().Get(context.Background(), "TXN_1")
	require.NoError(t, err)
	assert.True(t, original.IsRetrySuccessful)
	assert.False(t, original.ManualEscalationNeeded)
	assert.Nil(t, original.SettlementMarker, "original is never itself credited")

	retry, err := f.store.Transactions().Get(context.Background(), "RT1_TXN_1")
	require.NoError(t, err)
	assert.True(t, retry.Settled())

	reps, err := f.reports.ListByTransaction(context.Background(), "TXN_1")
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, models.OutcomeSuccess, reps[0].Outcome)
}

func TestResolveEscalatesWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_2", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_2", "user_2", 500, testNow.Add(-10*time.Minute)))
	failRetries(f.store)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_2", "TXN_2")
	require.NoError(t, err)

	assert.Equal(t, StateEscalated, outcome.State)
	assert.True(t, strings.HasPrefix(outcome.MessageID, "ESC_"))

	// exactly two ordinals, never a third
	n, err := f.store.Transactions().CountRetries(context.Background(), "TXN_2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = f.store.Transactions().Get(context.Background(), "RT3_TXN_2")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	original, err := f.store.Transactions().Get(context.Background(), "TXN_2")
	require.NoError(t, err)
	assert.True(t, original.ManualEscalationNeeded)
	assert.False(t, original.IsRetrySuccessful)

	u, err := f.wallets.Balance(context.Background(), "user_2")
	require.NoError(t, err)
	assert.True(t, u.WalletBalance.IsZero(), "escalation never credits the wallet")

	reps, err := f.reports.ListByTransaction(context.Background(), "TXN_2")
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, models.OutcomeEscalation, reps[0].Outcome)
}

func TestResolveIsIdempotentAfterSettlement(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_1", "user_1", 1000, testNow.Add(-10*time.Minute)))
	settleRetries(f.store)

	_, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_1")
	require.NoError(t, err)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_1")
	require.NoError(t, err)
	assert.Equal(t, StateAlreadySettled, outcome.State)

	u, err := f.wallets.Balance(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(u.WalletBalance), "second resolve must not credit again")

	reps, err := f.reports.ListByTransaction(context.Background(), "TXN_1")
	require.NoError(t, err)
	assert.Len(t, reps, 1, "exactly one report per terminal transaction")
}

func TestResolveToleratesReportFromAnotherWorker(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_R", "user_1", 100, testNow.Add(-10*time.Minute)))
	failRetries(f.store)

	// A worker one second behind already wrote the escalation report but
	// died before marking the original.
	require.NoError(t, f.store.Reports().Create(context.Background(), models.Report{
		MessageID:     "ESC_20250601115959_TXN_R",
		TransactionID: "TXN_R",
		UserID:        "user_1",
		Report:        "report body",
		Outcome:       models.OutcomeEscalation,
	}))

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_R")
	require.NoError(t, err)
	assert.Equal(t, StateEscalated, outcome.State)

	reps, err := f.reports.ListByTransaction(context.Background(), "TXN_R")
	require.NoError(t, err)
	assert.Len(t, reps, 1, "exactly one report survives across workers")

	original, err := f.store.Transactions().Get(context.Background(), "TXN_R")
	require.NoError(t, err)
	assert.True(t, original.ManualEscalationNeeded)
}

func TestResolveDuplicateRetryMeansAnotherWorkerOwnsIt(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_D", "user_1", 100, testNow.Add(-10*time.Minute)))
	f.store.CreateRetryErr = repo.ErrDuplicateID

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_D")
	require.NoError(t, err, "losing the insert race is not an error")
	assert.Equal(t, StateInProgress, outcome.State)
}

func TestResolveAdoptsInFlightRetry(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_A", "user_1", 300, testNow.Add(-10*time.Minute)))

	// a previous run already created a retry that has since completed
	prior := floatingOriginal("RT1_TXN_A", "user_1", 300, testNow.Add(5*time.Minute))
	prior.IsFloatingCash = false
	completed := models.TxnCompleted
	prior.Statuses[1] = &completed
	f.store.PutTransaction(prior)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_A")
	require.NoError(t, err)
	assert.Equal(t, StateSettled, outcome.State)
	assert.Equal(t, "RT1_TXN_A", outcome.RetryID)

	n, err := f.store.Transactions().CountRetries(context.Background(), "TXN_A")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no second ordinal for a lineage that already succeeded")
}

func TestResolveWithinWindowIsStillProcessing(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_W", "user_1", 100, testNow.Add(20*time.Minute)))

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_W")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, outcome.State)

	n, err := f.store.Transactions().CountRetries(context.Background(), "TXN_W")
	require.NoError(t, err)
	assert.Zero(t, n, "monitoring state never generates retries")
}

func TestResolvePendingRetryTimesOutAsInProgress(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_P", "user_1", 100, testNow.Add(-10*time.Minute)))
	// no OnCreateRetry hook: the retry never reaches a terminal status

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_P")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, outcome.State)
	assert.Equal(t, "RT1_TXN_P", outcome.RetryID)
}

func TestResolveCleanTransactionHasNoDiscrepancy(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	initiated := models.TxnInitiated
	txn := models.Transaction{
		ID:                 "TXN_OK",
		UserID:             "user_1",
		Amount:             decimal.NewFromInt(50),
		TimestampInitiated: testNow.Add(-time.Minute),
	}
	txn.Statuses[0] = &initiated
	f.store.PutTransaction(txn)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_OK")
	require.NoError(t, err)
	assert.Equal(t, StateNoDiscrepancy, outcome.State)
}

func TestResolveCompletedTransactionIsNotRetried(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	txn := floatingOriginal("TXN_C", "user_1", 100, testNow.Add(-10*time.Minute))
	completed := models.TxnCompleted
	txn.Statuses[1] = &completed
	f.store.PutTransaction(txn)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_C")
	require.NoError(t, err)
	assert.Equal(t, StateNoDiscrepancy, outcome.State)

	n, err := f.store.Transactions().CountRetries(context.Background(), "TXN_C")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveRejectsRetryIDs(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutTransaction(floatingOriginal("RT1_TXN_9", "user_1", 100, testNow))

	_, err := f.reconcile.Resolve(context.Background(), "user_1", "RT1_TXN_9")
	assert.ErrorIs(t, err, ErrNotOriginal)
}

func TestResolveScopedToUser(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutTransaction(floatingOriginal("TXN_1", "user_1", 100, testNow))

	_, err := f.reconcile.Resolve(context.Background(), "user_2", "TXN_1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestResolveRetriesTransientStoreFailures(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})
	f.store.PutTransaction(floatingOriginal("TXN_T", "user_1", 100, testNow.Add(-10*time.Minute)))
	settleRetries(f.store)
	f.store.InjectErr(fmt.Errorf("%w: connection refused", repo.ErrStoreUnavailable), 1)

	outcome, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_T")
	require.NoError(t, err, "transient store failures are retried, not surfaced")
	assert.Equal(t, StateSettled, outcome.State)
}

func TestResolveFlagsAnomalousUnflaggedTransaction(t *testing.T) {
	f := newFixture(t, 2)
	f.store.PutUser(models.User{ID: "user_1", WalletBalance: decimal.Zero})

	failed := models.TxnFailed
	start := testNow.Add(-time.Hour)
	expected := testNow.Add(-30 * time.Minute)
	txn := models.Transaction{
		ID:                     "TXN_F",
		UserID:                 "user_1",
		Amount:                 decimal.NewFromInt(100),
		TimestampInitiated:     start,
		ExpectedCompletionTime: &expected,
	}
	txn.Statuses[0] = &failed
	f.store.PutTransaction(txn)
	failRetries(f.store)

	_, err := f.reconcile.Resolve(context.Background(), "user_1", "TXN_F")
	require.NoError(t, err)

	got, err := f.store.Transactions().Get(context.Background(), "TXN_F")
	require.NoError(t, err)
	assert.True(t, got.IsFloatingCash, "discrepancy verdict is persisted")
	assert.Greater(t, got.FloatingDurationMinutes, 0)
}
