package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	repo "github.com/trybe-fintech/reconciler-backend/internal/repository"
)

type Repositories struct {
	Transactions repo.Transactions
	Wallets      repo.Wallets
	Reports      repo.Reports
}

func NewRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Transactions: &transactionsRepo{pool},
		Wallets:      &walletsRepo{pool},
		Reports:      &reportsRepo{pool},
	}
}

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// mapErr translates driver errors into the repository taxonomy.
// Serialization failures and deadlocks are safe to retry from the top: the
// losing transaction did not commit anything. Errors the server did not
// report (broken connection, timeout) are assumed transient too.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return repo.ErrDuplicateID
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", repo.ErrStoreUnavailable, pgErr.Message)
		}
		return err
	}
	return fmt.Errorf("%w: %v", repo.ErrStoreUnavailable, err)
}
