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

func queryFixture() (*memory.Store, *QueryService) {
	store := memory.NewStore()
	return store, NewQueryService(store.Transactions())
}

func TestListForUserLinksRetryLineage(t *testing.T) {
	store, svc := queryFixture()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	initiated, completed := models.TxnInitiated, models.TxnCompleted
	original := models.Transaction{ID: "TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100), TimestampInitiated: now}
	original.Statuses[0] = &initiated
	store.PutTransaction(original)

	retry := models.Transaction{ID: "RT1_TXN_1", UserID: "user_1", Amount: decimal.NewFromInt(100), TimestampInitiated: now.Add(time.Minute)}
	retry.Statuses[0] = &completed
	store.PutTransaction(retry)

	store.PutTransaction(models.Transaction{ID: "TXN_OTHER", UserID: "user_2", TimestampInitiated: now})

	views, err := svc.ListForUser(context.Background(), "user_1", 50)
	require.NoError(t, err)
	require.Len(t, views, 2, "other users' rows never leak in")

	byID := make(map[string]TransactionView, len(views))
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.Equal(t, []string{"RT1_TXN_1"}, byID["TXN_1"].RetryIDs)
	assert.Equal(t, models.TxnInitiated, byID["TXN_1"].EffectiveStatus)
	assert.Empty(t, byID["RT1_TXN_1"].RetryIDs)
	assert.Equal(t, models.TxnCompleted, byID["RT1_TXN_1"].EffectiveStatus)
}

func TestGetForUserIncludesRetries(t *testing.T) {
	store, svc := queryFixture()
	store.PutTransaction(models.Transaction{ID: "TXN_1", UserID: "user_1"})
	store.PutTransaction(models.Transaction{ID: "RT1_TXN_1", UserID: "user_1"})
	store.PutTransaction(models.Transaction{ID: "RT2_TXN_1", UserID: "user_1"})

	view, err := svc.GetForUser(context.Background(), "user_1", "TXN_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"RT1_TXN_1", "RT2_TXN_1"}, view.RetryIDs)
	assert.Equal(t, models.TxnPending, view.EffectiveStatus, "no recorded status defaults to pending")
}

func TestGetForUserWrongUser(t *testing.T) {
	store, svc := queryFixture()
	store.PutTransaction(models.Transaction{ID: "TXN_1", UserID: "user_1"})

	_, err := svc.GetForUser(context.Background(), "user_2", "TXN_1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
