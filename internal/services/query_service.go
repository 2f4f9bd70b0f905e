package services

import (
	"context"

	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

// TransactionView is a ledger row with its resolved state and, for
// originals, the linked retry lineage.
type TransactionView struct {
	models.Transaction
	EffectiveStatus models.TransactionStatus `json:"effective_status"`
	IsFloating      bool                     `json:"is_floating"`
	RetryIDs        []string                 `json:"retry_ids,omitempty"`
}

// QueryService is the read path: per-user ledger slices with resolved
// status, floating flags and retry lineage. Lookups never cross users.
type QueryService struct {
	txns repo.Transactions
}

func NewQueryService(t repo.Transactions) *QueryService { return &QueryService{txns: t} }

func (s *QueryService) ListForUser(ctx context.Context, userID string, limit int) ([]TransactionView, error) {
	txns, err := s.txns.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	// One pass links retries to originals in the same slice.
	retriesByOriginal := make(map[string][]string)
	for _, t := range txns {
		if orig, _, ok := models.ParseRetryID(t.ID); ok {
			retriesByOriginal[orig] = append(retriesByOriginal[orig], t.ID)
		}
	}

	views := make([]TransactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, TransactionView{
			Transaction:     t,
			EffectiveStatus: t.EffectiveStatus(),
			IsFloating:      t.IsFloating(),
			RetryIDs:        retriesByOriginal[t.ID],
		})
	}
	return views, nil
}

func (s *QueryService) GetForUser(ctx context.Context, userID, id string) (TransactionView, error) {
	t, err := s.txns.GetForUser(ctx, userID, id)
	if err != nil {
		return TransactionView{}, err
	}
	view := TransactionView{
		Transaction:     t,
		EffectiveStatus: t.EffectiveStatus(),
		IsFloating:      t.IsFloating(),
	}
	if !t.IsRetry() {
		retries, err := s.txns.ListRetries(ctx, t.ID)
		if err != nil {
			return TransactionView{}, err
		}
		for _, rt := range retries {
			view.RetryIDs = append(view.RetryIDs, rt.ID)
		}
	}
	return view, nil
}
