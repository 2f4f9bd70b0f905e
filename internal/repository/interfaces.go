package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist in the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when an insert collides with an existing
	// primary key. For retry rows this is the arbitration signal between
	// concurrent workers.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrStoreUnavailable wraps transient store failures (connectivity,
	// timeouts). Callers may retry the operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStatusHistoryFull is returned when all four status slots are
	// occupied or the transaction is already terminal.
	ErrStatusHistoryFull = errors.New("status history full")
)

// Transactions is the ledger store. All per-user reads are scoped to the
// user_id; there is no cross-user visibility on the query surface.
type Transactions interface {
	Get(ctx context.Context, id string) (models.Transaction, error)
	GetForUser(ctx context.Context, userID, id string) (models.Transaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error)

	// ListRetries returns the derivative rows of an original in lineage
	// order, lowest ordinal first.
	ListRetries(ctx context.Context, originalID string) ([]models.Transaction, error)
	CountRetries(ctx context.Context, originalID string) (int, error)

	// CreateRetry inserts a derivative row. A primary-key collision is
	// surfaced as ErrDuplicateID.
	CreateRetry(ctx context.Context, retry models.Transaction) error

	// AppendStatus writes the next free status slot. Fails with
	// ErrStatusHistoryFull once the history is exhausted or terminal.
	AppendStatus(ctx context.Context, id string, status models.TransactionStatus, at time.Time) error

	// MarkRetryOutcome records the lineage outcome on the original row:
	// is_retry_successful and manual_escalation_needed.
	MarkRetryOutcome(ctx context.Context, id string, retrySuccessful, escalationNeeded bool) error

	// FlagFloating persists a discrepancy-check verdict.
	FlagFloating(ctx context.Context, id string, durationMinutes int) error

	// ListOverdueFloating returns floating, non-terminal, non-retry rows
	// whose expected completion time has passed.
	ListOverdueFloating(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
}

// Wallets holds user balances. ApplyRetryCredit is the only mutation path.
type Wallets interface {
	Get(ctx context.Context, userID string) (models.User, error)

	// ApplyRetryCredit credits the retry's amount into its user's wallet
	// and sets the retry's settlement marker to DONE, as one atomic unit.
	// When the marker is already DONE the call is a no-op returning
	// applied=false and the current balance.
	ApplyRetryCredit(ctx context.Context, retryID string) (applied bool, newBalance decimal.Decimal, err error)
}

// Reports is the append-only messages store. Rows are never updated or
// deleted.
type Reports interface {
	Create(ctx context.Context, r models.Report) error
	ListByTransaction(ctx context.Context, transactionID string) ([]models.Report, error)
}
