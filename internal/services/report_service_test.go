package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
	"github.com/trybe-fintech/reconciler-backend/internal/repository/memory"
)

func TestCreateReportMessageID(t *testing.T) {
	store := memory.NewStore()
	svc := NewReportService(store.Reports())
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	txn := models.Transaction{ID: "TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100)}

	id, err := svc.Create(context.Background(), txn, models.OutcomeSuccess, "body", now)
	require.NoError(t, err)
	assert.Equal(t, "SUC_20250601123045_TXN_1", id)

	id, err = svc.Create(context.Background(), models.Transaction{ID: "TXN_2", UserID: "user_1"}, models.OutcomeEscalation, "body", now)
	require.NoError(t, err)
	assert.Equal(t, "ESC_20250601123045_TXN_2", id)
}

func TestCreateReportOncePerTransaction(t *testing.T) {
	store := memory.NewStore()
	svc := NewReportService(store.Reports())
	txn := models.Transaction{ID: "TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100)}
	now := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	_, err := svc.Create(context.Background(), txn, models.OutcomeEscalation, "body", now)
	require.NoError(t, err)

	// A worker with a skewed clock builds a different message id; the store
	// still rejects the second report for the same transaction.
	_, err = svc.Create(context.Background(), txn, models.OutcomeEscalation, "body", now.Add(time.Second))
	assert.ErrorIs(t, err, repo.ErrDuplicateID)
}

func TestHasReport(t *testing.T) {
	store := memory.NewStore()
	svc := NewReportService(store.Reports())
	txn := models.Transaction{ID: "TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100)}

	has, err := svc.HasReport(context.Background(), "TXN_1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = svc.Create(context.Background(), txn, models.OutcomeSuccess, "body", time.Now())
	require.NoError(t, err)

	has, err = svc.HasReport(context.Background(), "TXN_1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestBuildNarrativeSections(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	initiated, failed := models.TxnInitiated, models.TxnFailed
	start := now.Add(-time.Hour)
	txn := models.Transaction{
		ID:                      "TXN_1",
		UserID:                  "user_1",
		Amount:                  decimal.NewFromInt(1500),
		Type:                    "transfer",
		RecipientAccountID:      "ACC_9",
		TimestampInitiated:      start,
		IsFloatingCash:          true,
		FloatingDurationMinutes: 45,
	}
	txn.Statuses[0] = &initiated
	txn.StatusTimestamps[0] = &start
	txn.Statuses[1] = &failed

	retry := models.Transaction{ID: "RT1_TXN_1", UserID: "user_1", TimestampInitiated: now}
	retry.Statuses[0] = &failed

	got := BuildNarrative(txn, []models.Transaction{retry}, models.OutcomeEscalation, "automated retries exhausted", now)

	assert.Contains(t, got, "ESCALATION REPORT FOR FAILED TRANSACTION")
	assert.Contains(t, got, "1. REPORT HEADER")
	assert.Contains(t, got, "2. TRANSACTION DETAILS")
	assert.Contains(t, got, "3. TIMELINE")
	assert.Contains(t, got, "4. DISCREPANCY DETAILS")
	assert.Contains(t, got, "5. RESOLUTION ATTEMPTS")
	assert.Contains(t, got, "6. RECOMMENDED ACTION")
	assert.Contains(t, got, "Transaction ID: TXN_1")
	assert.Contains(t, got, "Amount: 1500.00")
	assert.Contains(t, got, "Floating Cash: YES")
	assert.Contains(t, got, "Retry Count: 1")
	assert.Contains(t, got, "RT1_TXN_1")
	assert.Contains(t, got, "Manual follow-up required")
	assert.NotContains(t, got, "Funds credited")
}

func TestBuildNarrativeSuccessTitle(t *testing.T) {
	txn := models.Transaction{ID: "TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100)}
	got := BuildNarrative(txn, nil, models.OutcomeSuccess, "retry completed", time.Now())

	assert.Contains(t, got, "SUCCESS REPORT - TRANSACTION RETRIED")
	assert.Contains(t, got, "No further action required. Funds credited to wallet.")
}

func TestBuildNarrativeRecommendsFraudReview(t *testing.T) {
	txn := models.Transaction{
		ID:                  "TXN_1",
		UserID:              "user_1",
		Amount:              decimal.NewFromInt(100),
		IsFraudulentAttempt: true,
	}
	got := BuildNarrative(txn, nil, models.OutcomeEscalation, "exhausted", time.Now())
	assert.Contains(t, got, "FRAUD ALERT")
}

func TestPriorityLevels(t *testing.T) {
	cases := []struct {
		name       string
		amount     int64
		retryCount int
		want       string
	}{
		{"critical amount", 60000, 0, "CRITICAL"},
		{"high amount", 15000, 0, "HIGH"},
		{"repeated retries", 500, 2, "MEDIUM"},
		{"default", 500, 1, "LOW"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txn := models.Transaction{Amount: decimal.NewFromInt(tc.amount)}
			assert.Equal(t, tc.want, priority(txn, tc.retryCount))
		})
	}
}
