package errs

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")

	// domain
	ErrValidation           = errors.New("validation failed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrPaymentNotYetVisible = errors.New("payment not yet visible")

	// transactions
	ErrNoTransaction = errors.New("operation requires a transaction in context")
	ErrRollback      = errors.New("rollback requested")
)
