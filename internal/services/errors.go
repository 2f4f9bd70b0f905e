package services

import "errors"

var (
	// ErrRetryLimitExceeded means the requested ordinal is past the
	// configured maximum. Fatal for the lineage; forces escalation.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrDuplicateRetry means another worker already created this retry.
	// Recoverable: the losing caller backs off, it is not a hard error.
	ErrDuplicateRetry = errors.New("retry already exists")

	// ErrAlreadySettled means the lineage was resolved and credited
	// before; no further retries may be generated for it.
	ErrAlreadySettled = errors.New("already settled")

	// ErrNotOriginal means a retry id was passed where an original
	// transaction id is required.
	ErrNotOriginal = errors.New("not an original transaction")

	// ErrNotRetry means an id without a retry prefix was passed to an
	// operation that only applies to retry transactions.
	ErrNotRetry = errors.New("not a retry transaction")
)
