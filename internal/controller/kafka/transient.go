package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/andreyxaxa/payments-outbox/pkg/types/errs"
	"github.com/jackc/pgx/v5/pgconn"
)

// isTransient reports whether processing may succeed if simply tried again.
// Everything outside this list goes straight to the DLQ.
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, errs.ErrPaymentNotYetVisible),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	if pgconn.Timeout(err) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
