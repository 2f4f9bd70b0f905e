package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trybe-fintech/reconciler-backend/internal/models"
)

type reportsRepo struct{ pool *pgxpool.Pool }

func (r *reportsRepo) Create(ctx context.Context, rep models.Report) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO messages (message_id, transaction_id, user_id, report, outcome)
VALUES ($1,$2,$3,$4,$5)`,
		rep.MessageID, rep.TransactionID, rep.UserID, rep.Report, rep.Outcome)
	return mapErr(err)
}

func (r *reportsRepo) ListByTransaction(ctx context.Context, transactionID string) ([]models.Report, error) {
	rows, err := r.pool.Query(ctx, `
SELECT message_id, transaction_id, user_id, report, outcome, created_at
  FROM messages
 WHERE transaction_id=$1
 ORDER BY created_at`, transactionID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		var rep models.Report
		if err := rows.Scan(&rep.MessageID, &rep.TransactionID, &rep.UserID,
			&rep.Report, &rep.Outcome, &rep.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, rep)
	}
	return out, mapErr(rows.Err())
}
