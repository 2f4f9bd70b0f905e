package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/metrics"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

// WalletService performs the idempotent credit of a successful retry into
// the user's wallet. The atomicity lives in the store; this layer validates
// the lineage and records metrics.
type WalletService struct {
	wallets repo.Wallets
}

func NewWalletService(w repo.Wallets) *WalletService { return &WalletService{wallets: w} }

type CreditResult struct {
	Applied    bool            `json:"applied"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

// ApplyRetryCredit credits the retry's amount exactly once. Repeat and
// concurrent calls for the same retry return Applied=false with the current
// balance; only retry transactions are ever credited.
func (s *WalletService) ApplyRetryCredit(ctx context.Context, retryID string) (CreditResult, error) {
	if _, _, ok := models.ParseRetryID(retryID); !ok {
		return CreditResult{}, ErrNotRetry
	}
	applied, balance, err := s.wallets.ApplyRetryCredit(ctx, retryID)
	if err != nil {
		return CreditResult{}, err
	}
	if applied {
		metrics.WalletCreditsApplied.Inc()
	} else {
		metrics.WalletCreditsSkipped.Inc()
	}
	return CreditResult{Applied: applied, NewBalance: balance}, nil
}

func (s *WalletService) Balance(ctx context.Context, userID string) (models.User, error) {
	return s.wallets.Get(ctx, userID)
}
