// Package memory is an in-process implementation of the repository
// interfaces with the same visible semantics as the postgres store. It
// backs the service tests and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

type Store struct {
	mu    sync.Mutex
	txns  map[string]models.Transaction
	users map[string]models.User
	reps  []models.Report

	// OnCreateRetry mutates a retry before it is stored. Tests use it to
	// simulate settlement rails writing the status slots.
	OnCreateRetry func(*models.Transaction)

	// CreateRetryErr fails the next CreateRetry call with this error, then
	// clears itself. Used to simulate a concurrent worker winning the
	// insert race.
	CreateRetryErr error

	injectErr  error
	injectLeft int
}

func NewStore() *Store {
	return &Store{
		txns:  make(map[string]models.Transaction),
		users: make(map[string]models.User),
	}
}

// InjectErr makes the next n store calls fail with err.
func (s *Store) InjectErr(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectErr = err
	s.injectLeft = n
}

func (s *Store) takeErr() error {
	if s.injectLeft > 0 {
		s.injectLeft--
		return s.injectErr
	}
	return nil
}

// PutTransaction seeds or replaces a ledger row.
func (s *Store) PutTransaction(t models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txns[t.ID] = t
}

// PutUser seeds a wallet row.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Transactions repository.

type Transactions struct{ *Store }

func (s *Store) Transactions() *Transactions { return &Transactions{s} }

func (r *Transactions) Get(_ context.Context, id string) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return models.Transaction{}, err
	}
	t, ok := r.txns[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (r *Transactions) GetForUser(_ context.Context, userID, id string) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return models.Transaction{}, err
	}
	t, ok := r.txns[id]
	if !ok || t.UserID != userID {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (r *Transactions) ListByUser(_ context.Context, userID string, limit int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	var out []models.Transaction
	for _, t := range r.txns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimestampInitiated.After(out[j].TimestampInitiated)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Transactions) ListRetries(_ context.Context, originalID string) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	return r.retriesLocked(originalID), nil
}

func (r *Transactions) retriesLocked(originalID string) []models.Transaction {
	var out []models.Transaction
	ordinals := make(map[string]int)
	for _, t := range r.txns {
		if orig, ordinal, ok := models.ParseRetryID(t.ID); ok && orig == originalID {
			out = append(out, t)
			ordinals[t.ID] = ordinal
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ordinals[out[i].ID] < ordinals[out[j].ID]
	})
	return out
}

func (r *Transactions) CountRetries(_ context.Context, originalID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return 0, err
	}
	return len(r.retriesLocked(originalID)), nil
}

func (r *Transactions) CreateRetry(_ context.Context, t models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	if r.CreateRetryErr != nil {
		err := r.CreateRetryErr
		r.CreateRetryErr = nil
		return err
	}
	if _, exists := r.txns[t.ID]; exists {
		return repo.ErrDuplicateID
	}
	if r.OnCreateRetry != nil {
		r.OnCreateRetry(&t)
	}
	r.txns[t.ID] = t
	return nil
}

func (r *Transactions) AppendStatus(_ context.Context, id string, status models.TransactionStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	t, ok := r.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	if t.Terminal() {
		return repo.ErrStatusHistoryFull
	}
	for i := range t.Statuses {
		if t.Statuses[i] == nil {
			st, ts := status, at
			t.Statuses[i] = &st
			t.StatusTimestamps[i] = &ts
			r.txns[id] = t
			return nil
		}
	}
	return repo.ErrStatusHistoryFull
}

func (r *Transactions) MarkRetryOutcome(_ context.Context, id string, retrySuccessful, escalationNeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	t, ok := r.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	t.IsRetrySuccessful = retrySuccessful
	t.ManualEscalationNeeded = escalationNeeded
	r.txns[id] = t
	return nil
}

func (r *Transactions) FlagFloating(_ context.Context, id string, durationMinutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	t, ok := r.txns[id]
	if !ok {
		return repo.ErrNotFound
	}
	t.IsFloatingCash = true
	t.FloatingDurationMinutes = durationMinutes
	r.txns[id] = t
	return nil
}

func (r *Transactions) ListOverdueFloating(_ context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	var out []models.Transaction
	for _, t := range r.txns {
		if t.IsRetry() || t.IsRetrySuccessful || t.ManualEscalationNeeded {
			continue
		}
		if !t.IsFloating() || t.ExpectedCompletionTime == nil {
			continue
		}
		if t.ExpectedCompletionTime.Before(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpectedCompletionTime.Before(*out[j].ExpectedCompletionTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Wallets repository.

type Wallets struct{ *Store }

func (s *Store) Wallets() *Wallets { return &Wallets{s} }

func (r *Wallets) Get(_ context.Context, userID string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return models.User{}, err
	}
	u, ok := r.users[userID]
	if !ok {
		return models.User{}, repo.ErrNotFound
	}
	return u, nil
}

// ApplyRetryCredit mirrors the postgres unit: the marker check, the balance
// increment and the marker write happen under one lock.
func (r *Wallets) ApplyRetryCredit(_ context.Context, retryID string) (bool, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return false, decimal.Decimal{}, err
	}
	t, ok := r.txns[retryID]
	if !ok {
		return false, decimal.Decimal{}, repo.ErrNotFound
	}
	u, ok := r.users[t.UserID]
	if !ok {
		return false, decimal.Decimal{}, repo.ErrNotFound
	}
	if t.Settled() {
		return false, u.WalletBalance, nil
	}
	u.WalletBalance = u.WalletBalance.Add(t.Amount)
	r.users[u.ID] = u
	done := models.SettlementDone
	t.SettlementMarker = &done
	r.txns[retryID] = t
	return true, u.WalletBalance, nil
}

// Reports repository.

type Reports struct{ *Store }

func (s *Store) Reports() *Reports { return &Reports{s} }

func (r *Reports) Create(_ context.Context, rep models.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return err
	}
	for _, existing := range r.reps {
		if existing.MessageID == rep.MessageID || existing.TransactionID == rep.TransactionID {
			return repo.ErrDuplicateID
		}
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now()
	}
	r.reps = append(r.reps, rep)
	return nil
}

func (r *Reports) ListByTransaction(_ context.Context, transactionID string) ([]models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeErr(); err != nil {
		return nil, err
	}
	var out []models.Report
	for _, rep := range r.reps {
		if rep.TransactionID == transactionID {
			out = append(out, rep)
		}
	}
	return out, nil
}
