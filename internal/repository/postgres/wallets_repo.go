package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
)

type walletsRepo struct{ pool *pgxpool.Pool }

func (r *walletsRepo) Get(ctx context.Context, userID string) (models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, wallet_balance FROM users WHERE user_id=$1`, userID,
	).Scan(&u.ID, &u.WalletBalance)
	return u, mapErr(err)
}

// ApplyRetryCredit runs the credit as one serializable unit. The settlement
// marker is re-checked under a row lock inside the transaction, so a second
// caller always observes either nothing or both writes. A caller that loses
// the serialization race gets ErrStoreUnavailable from mapErr; on the
// retried attempt it sees the DONE marker and returns applied=false.
func (r *walletsRepo) ApplyRetryCredit(ctx context.Context, retryID string) (bool, decimal.Decimal, error) {
	var balance decimal.Decimal

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return false, balance, mapErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		userID string
		amount decimal.Decimal
		marker *string
	)
	err = tx.QueryRow(ctx, `
SELECT user_id, amount, transaction_types FROM transactions
 WHERE transaction_id=$1 FOR UPDATE`, retryID).Scan(&userID, &amount, &marker)
	if err != nil {
		return false, balance, mapErr(err)
	}

	if marker != nil && *marker == models.SettlementDone {
		// Already credited by another caller. Report the current balance.
		err = tx.QueryRow(ctx,
			`SELECT wallet_balance FROM users WHERE user_id=$1`, userID).Scan(&balance)
		if err != nil {
			return false, balance, mapErr(err)
		}
		return false, balance, mapErr(tx.Commit(ctx))
	}

	err = tx.QueryRow(ctx, `
UPDATE users SET wallet_balance = wallet_balance + $2
 WHERE user_id=$1
 RETURNING wallet_balance`, userID, amount).Scan(&balance)
	if err != nil {
		return false, balance, mapErr(err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE transactions SET transaction_types=$2 WHERE transaction_id=$1`,
		retryID, models.SettlementDone); err != nil {
		return false, balance, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, balance, mapErr(err)
	}
	return true, balance, nil
}
