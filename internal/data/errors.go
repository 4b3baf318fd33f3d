// internal/data/errors.go
// All domain-level error values and types returned by the model layer.
// Handlers switch on these to choose the HTTP status and response body.
package data

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrRecordNotFound is returned when a query finds no matching row.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateISBN is returned when a book insert or update collides
	// with the unique index on the isbn column.
	ErrDuplicateISBN = errors.New("a book with this isbn already exists")

	// ErrDuplicateUsername and ErrDuplicateEmail are returned when a user
	// registration collides with an existing account.
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateEmail    = errors.New("email already in use")

	// ErrAlreadyReturned is returned when attempting to return a loan
	// whose return_date is already set. The operation has no effect.
	ErrAlreadyReturned = errors.New("book already returned")

	// ErrDuplicatePendingRequest is returned when a user submits a request
	// for a book they already have a pending request for.
	ErrDuplicatePendingRequest = errors.New("a pending request for this book already exists")

	// ErrRequestNotPending is returned when a decision (or cancellation)
	// targets a request that has already reached a terminal state.
	ErrRequestNotPending = errors.New("request has already been decided")

	// ErrInvalidCopyCounts is returned when a catalog write would leave a
	// book's copy counters outside their CHECK constraint bounds, which can
	// happen when an update races the loan ledger.
	ErrInvalidCopyCounts = errors.New("copy counts are out of bounds")
)

// LoanRefusalReason identifies which borrowing precondition failed.
type LoanRefusalReason string

const (
	NoCopiesAvailable   LoanRefusalReason = "no_copies_available"
	BorrowLimitReached  LoanRefusalReason = "borrow_limit_reached"
	DuplicateActiveLoan LoanRefusalReason = "duplicate_active_loan"
)

// LoanNotAllowedError is returned by LoanStore.Insert when one of the
// borrowing preconditions fails. The Reason field is machine-readable and
// included in the HTTP response body so clients can distinguish cases.
type LoanNotAllowedError struct {
	Reason LoanRefusalReason
}

func (e *LoanNotAllowedError) Error() string {
	switch e.Reason {
	case NoCopiesAvailable:
		return "book not available"
	case BorrowLimitReached:
		return "user has reached maximum allowed loans"
	case DuplicateActiveLoan:
		return "user already has this book on loan"
	default:
		return fmt.Sprintf("loan not allowed: %s", e.Reason)
	}
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation on the named constraint. An empty name matches any constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// isForeignKeyViolation reports whether err is a PostgreSQL foreign-key
// violation, which the model layer translates into ErrRecordNotFound.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// isCheckViolation reports whether err is a PostgreSQL CHECK constraint
// violation (the copy-count bounds on the books table).
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
