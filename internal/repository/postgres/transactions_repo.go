package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnColumns = `
  transaction_id, user_id, amount, transaction_type, recipient_type,
  recipient_account_id, recipient_bank_or_ewallet, device_id,
  location_coordinates, timestamp_initiated,
  status_1, status_timestamp_1, status_2, status_timestamp_2,
  status_3, status_timestamp_3, status_4, status_timestamp_4,
  expected_completion_time, network_latency_seconds,
  is_floating_cash, floating_duration_minutes,
  is_fraudulent_attempt, is_cancellation,
  is_retry_successful, manual_escalation_needed, transaction_types`

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Type, &t.RecipientType,
		&t.RecipientAccountID, &t.RecipientBankOrEwallet, &t.DeviceID,
		&t.LocationCoordinates, &t.TimestampInitiated,
		&t.Statuses[0], &t.StatusTimestamps[0], &t.Statuses[1], &t.StatusTimestamps[1],
		&t.Statuses[2], &t.StatusTimestamps[2], &t.Statuses[3], &t.StatusTimestamps[3],
		&t.ExpectedCompletionTime, &t.NetworkLatencySeconds,
		&t.IsFloatingCash, &t.FloatingDurationMinutes,
		&t.IsFraudulentAttempt, &t.IsCancellation,
		&t.IsRetrySuccessful, &t.ManualEscalationNeeded, &t.SettlementMarker,
	)
	return t, err
}

func (r *transactionsRepo) Get(ctx context.Context, id string) (models.Transaction, error) {
	t, err := scanTxn(r.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE transaction_id=$1`, id))
	return t, mapErr(err)
}

func (r *transactionsRepo) GetForUser(ctx context.Context, userID, id string) (models.Transaction, error) {
	t, err := scanTxn(r.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE transaction_id=$1 AND user_id=$2`, id, userID))
	return t, mapErr(err)
}

func (r *transactionsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+` FROM transactions
		  WHERE user_id=$1
		  ORDER BY timestamp_initiated DESC
		  LIMIT $2`, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows)
}

func (r *transactionsRepo) ListRetries(ctx context.Context, originalID string) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+txnColumns+` FROM transactions
		  WHERE transaction_id LIKE 'RT%_' || $1
		  ORDER BY timestamp_initiated, transaction_id`, originalID)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows)
}

func (r *transactionsRepo) CountRetries(ctx context.Context, originalID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE transaction_id LIKE 'RT%_' || $1`,
		originalID).Scan(&n)
	return n, mapErr(err)
}

func (r *transactionsRepo) CreateRetry(ctx context.Context, t models.Transaction) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO transactions (
  transaction_id, user_id, amount, transaction_type, recipient_type,
  recipient_account_id, recipient_bank_or_ewallet, device_id,
  location_coordinates, timestamp_initiated,
  status_1, status_timestamp_1,
  expected_completion_time, network_latency_seconds,
  is_floating_cash, floating_duration_minutes,
  is_fraudulent_attempt, is_cancellation,
  is_retry_successful, manual_escalation_needed, transaction_types
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.UserID, t.Amount, t.Type, t.RecipientType,
		t.RecipientAccountID, t.RecipientBankOrEwallet, t.DeviceID,
		t.LocationCoordinates, t.TimestampInitiated,
		t.Statuses[0], t.StatusTimestamps[0],
		t.ExpectedCompletionTime, t.NetworkLatencySeconds,
		t.IsFloatingCash, t.FloatingDurationMinutes,
		t.IsFraudulentAttempt, t.IsCancellation,
		t.IsRetrySuccessful, t.ManualEscalationNeeded, t.SettlementMarker,
	)
	return mapErr(err)
}

// AppendStatus locks the row, finds the first free slot and writes it.
// Terminal histories and full histories are rejected.
func (r *transactionsRepo) AppendStatus(ctx context.Context, id string, status models.TransactionStatus, at time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current models.Transaction
	err = tx.QueryRow(ctx, `
SELECT status_1, status_2, status_3, status_4 FROM transactions
 WHERE transaction_id=$1 FOR UPDATE`, id).Scan(
		&current.Statuses[0], &current.Statuses[1], &current.Statuses[2], &current.Statuses[3])
	if err != nil {
		return mapErr(err)
	}
	if current.Terminal() {
		return repo.ErrStatusHistoryFull
	}
	slot := 0
	for i, s := range current.Statuses {
		if s == nil {
			slot = i + 1
			break
		}
	}
	if slot == 0 {
		return repo.ErrStatusHistoryFull
	}
	q := fmt.Sprintf(`UPDATE transactions SET status_%d=$2, status_timestamp_%d=$3 WHERE transaction_id=$1`, slot, slot)
	if _, err := tx.Exec(ctx, q, id, status, at); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (r *transactionsRepo) MarkRetryOutcome(ctx context.Context, id string, retrySuccessful, escalationNeeded bool) error {
	ct, err := r.pool.Exec(ctx, `
UPDATE transactions
   SET is_retry_successful=$2, manual_escalation_needed=$3
 WHERE transaction_id=$1`, id, retrySuccessful, escalationNeeded)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *transactionsRepo) FlagFloating(ctx context.Context, id string, durationMinutes int) error {
	ct, err := r.pool.Exec(ctx, `
UPDATE transactions
   SET is_floating_cash=TRUE, floating_duration_minutes=$2
 WHERE transaction_id=$1`, id, durationMinutes)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *transactionsRepo) ListOverdueFloating(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+txnColumns+` FROM transactions
 WHERE is_floating_cash
   AND NOT is_retry_successful
   AND NOT manual_escalation_needed
   AND transaction_id NOT LIKE 'RT%\_%'
   AND expected_completion_time IS NOT NULL
   AND expected_completion_time < $1
   AND COALESCE(status_4, status_3, status_2, status_1, 'pending')
       NOT IN ('completed', 'settled', 'failed')
 ORDER BY expected_completion_time
 LIMIT $2`, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, t)
	}
	return out, mapErr(rows.Err())
}
