package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

func TestAppendStatusFillsSlotsInOrder(t *testing.T) {
	store := NewStore()
	store.PutTransaction(models.Transaction{ID: "TXN_1", UserID: "user_1"})
	txns := store.Transactions()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, txns.AppendStatus(context.Background(), "TXN_1", models.TxnInitiated, at))
	require.NoError(t, txns.AppendStatus(context.Background(), "TXN_1", models.TxnProcessing, at.Add(time.Minute)))

	got, err := txns.Get(context.Background(), "TXN_1")
	require.NoError(t, err)
	require.NotNil(t, got.Statuses[0])
	assert.Equal(t, models.TxnInitiated, *got.Statuses[0])
	require.NotNil(t, got.Statuses[1])
	assert.Equal(t, models.TxnProcessing, *got.Statuses[1])
	assert.Nil(t, got.Statuses[2])
	require.NotNil(t, got.StatusTimestamps[1])
	assert.Equal(t, at.Add(time.Minute), *got.StatusTimestamps[1])
	assert.Equal(t, models.TxnProcessing, got.EffectiveStatus())
}

func TestAppendStatusRejectsTerminalHistory(t *testing.T) {
	store := NewStore()
	completed := models.TxnCompleted
	txn := models.Transaction{ID: "TXN_1", UserID: "user_1"}
	txn.Statuses[0] = &completed
	store.PutTransaction(txn)

	err := store.Transactions().AppendStatus(context.Background(), "TXN_1", models.TxnProcessing, time.Now())
	assert.ErrorIs(t, err, repo.ErrStatusHistoryFull)
}

func TestAppendStatusRejectsFullHistory(t *testing.T) {
	store := NewStore()
	processing := models.TxnProcessing
	var txn models.Transaction
	txn.ID = "TXN_1"
	for i := 0; i < models.StatusSlots; i++ {
		txn.Statuses[i] = &processing
	}
	store.PutTransaction(txn)

	err := store.Transactions().AppendStatus(context.Background(), "TXN_1", models.TxnProcessing, time.Now())
	assert.ErrorIs(t, err, repo.ErrStatusHistoryFull)
}

func TestAppendStatusUnknownTransaction(t *testing.T) {
	store := NewStore()
	err := store.Transactions().AppendStatus(context.Background(), "TXN_MISSING", models.TxnProcessing, time.Now())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
