package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

// retryCompletionWindow is how long a freshly created retry is expected to
// take to settle.
const retryCompletionWindow = 5 * time.Minute

// RetryService creates derivative retry transactions linked to an original
// by the RT<ordinal>_ id prefix.
type RetryService struct {
	txns       repo.Transactions
	maxRetries int
}

func NewRetryService(t repo.Transactions, maxRetries int) *RetryService {
	return &RetryService{txns: t, maxRetries: maxRetries}
}

func (s *RetryService) MaxRetries() int { return s.maxRetries }

// Generate inserts the retry row for the given ordinal. The caller supplies
// the next unused ordinal; a collision with a concurrent worker surfaces as
// ErrDuplicateRetry, an ordinal past the maximum as ErrRetryLimitExceeded.
func (s *RetryService) Generate(ctx context.Context, original models.Transaction, ordinal int, now time.Time) (models.Transaction, error) {
	if original.IsRetry() {
		return models.Transaction{}, ErrNotOriginal
	}
	if original.IsRetrySuccessful || original.Settled() {
		return models.Transaction{}, ErrAlreadySettled
	}
	if ordinal < 1 || ordinal > s.maxRetries {
		return models.Transaction{}, fmt.Errorf("%w: ordinal %d, max %d", ErrRetryLimitExceeded, ordinal, s.maxRetries)
	}

	initiated := models.TxnInitiated
	expected := now.Add(retryCompletionWindow)
	retry := models.Transaction{
		ID:                     models.RetryID(original.ID, ordinal),
		UserID:                 original.UserID,
		Amount:                 original.Amount,
		Type:                   original.Type,
		RecipientType:          original.RecipientType,
		RecipientAccountID:     original.RecipientAccountID,
		RecipientBankOrEwallet: original.RecipientBankOrEwallet,
		DeviceID:               original.DeviceID,
		LocationCoordinates:    original.LocationCoordinates,
		TimestampInitiated:     now,
		ExpectedCompletionTime: &expected,
	}
	retry.Statuses[0] = &initiated
	retry.StatusTimestamps[0] = &now

	if err := s.txns.CreateRetry(ctx, retry); err != nil {
		if errors.Is(err, repo.ErrDuplicateID) {
			return models.Transaction{}, fmt.Errorf("%w: %s", ErrDuplicateRetry, retry.ID)
		}
		return models.Transaction{}, err
	}
	metrics.RetriesGenerated.Inc()
	return retry, nil
}

// NextOrdinal counts existing retries for the original and returns the next
// unused ordinal.
func (s *RetryService) NextOrdinal(ctx context.Context, originalID string) (int, error) {
	n, err := s.txns.CountRetries(ctx, originalID)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}
