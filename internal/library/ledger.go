// Package library contains the loan and request lifecycle engine: the
// loan ledger, which owns all copy accounting, and the request workflow,
// which gates borrow intents behind an admin decision. Both operate on
// the store interfaces from internal/data so the business rules can be
// exercised against the in-memory stores in tests.
package library

import (
	"time"

	"github.com/openshelf/library-api/internal/data"
)

// Config carries the tunable borrowing policy. Both values are wired from
// command-line flags rather than hard-coded so tests and deployments can
// vary them.
type Config struct {
	// MaxActiveLoans is the per-user cap on simultaneously open loans.
	MaxActiveLoans int
	// LoanPeriod is how long a borrower has before a loan goes overdue.
	LoanPeriod time.Duration
}

// DefaultConfig is the standard policy: five open loans per user,
// fourteen-day loan period.
func DefaultConfig() Config {
	return Config{
		MaxActiveLoans: 5,
		LoanPeriod:     14 * 24 * time.Hour,
	}
}

// Ledger creates and closes loans. Every path that hands out or takes
// back a copy of a book funnels through its two mutating methods, which
// delegate to the store's transactional operations so the availability
// decrement/increment is paired exactly once per loan lifetime.
type Ledger struct {
	loans data.LoanStore
	cfg   Config
}

// NewLedger constructs a Ledger over the given loan store.
func NewLedger(loans data.LoanStore, cfg Config) *Ledger {
	return &Ledger{loans: loans, cfg: cfg}
}

// CreateLoan lends a copy of the book to the user. The store enforces the
// three preconditions atomically against concurrent mutation: at least one
// available copy, active-loan count below the configured limit, and no
// existing active loan for the same (user, book) pair. On refusal the
// error is a *data.LoanNotAllowedError carrying the reason.
func (l *Ledger) CreateLoan(userID, bookID int64) (*data.Loan, error) {
	dueDate := time.Now().Add(l.cfg.LoanPeriod)
	return l.loans.Insert(userID, bookID, dueDate, l.cfg.MaxActiveLoans)
}

// ReturnLoan closes an open loan and returns the copy to the catalog.
// Returning an already-closed loan fails with data.ErrAlreadyReturned and
// changes nothing.
func (l *Ledger) ReturnLoan(id int64) (*data.Loan, error) {
	return l.loans.Return(id)
}

// ProfileFor derives a user's borrowing profile from the open-loan set.
func (l *Ledger) ProfileFor(userID int64) (*data.Profile, error) {
	activeCount, err := l.loans.CountActiveForUser(userID)
	if err != nil {
		return nil, err
	}
	hasOverdue, err := l.loans.HasOverdueForUser(userID)
	if err != nil {
		return nil, err
	}
	return &data.Profile{
		ActiveLoansCount: activeCount,
		CanBorrow:        activeCount < l.cfg.MaxActiveLoans,
		HasOverdueBooks:  hasOverdue,
	}, nil
}
