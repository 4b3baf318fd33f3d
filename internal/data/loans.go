// internal/data/loans.go
// Loan record type, read-time status derivation, and the PostgreSQL-backed
// LoanModel. Insert and Return are the only two code paths in the whole
// application that adjust a book's available_copies for loan bookkeeping,
// and each does so inside the same transaction as the loan row write, so
// the decrement-on-create / increment-on-return pairing holds exactly once
// per loan lifetime.
package data

import (
	"database/sql"
	"errors"
	"time"
)

// LoanStatus is a projection computed from return_date and due_date at
// read time. Only return_date is authoritative for whether a loan is
// closed; Overdue is relative to the clock at the moment of observation.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
	LoanOverdue  LoanStatus = "OVERDUE"
)

// Loan represents a single borrowing of a book by a user.
// Username and BookTitle are denormalized from joins for presentation.
type Loan struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	BookID        int64      `json:"book_id"`
	Username      string     `json:"user_name"`
	BookTitle     string     `json:"book_title"`
	LoanDate      time.Time  `json:"loan_date"`
	DueDate       time.Time  `json:"due_date"`
	ReturnDate    *time.Time `json:"return_date"`
	Status        LoanStatus `json:"status"`
	DaysRemaining int        `json:"days_remaining"`
}

// StatusAt derives the loan status relative to the given instant:
// Returned iff return_date is set, otherwise Overdue iff the due date has
// passed, otherwise Active.
func (l *Loan) StatusAt(now time.Time) LoanStatus {
	switch {
	case l.ReturnDate != nil:
		return LoanReturned
	case l.DueDate.Before(now):
		return LoanOverdue
	default:
		return LoanActive
	}
}

// daysRemainingAt returns the whole days left until the due date, floored
// at zero. A returned loan always reports zero.
func (l *Loan) daysRemainingAt(now time.Time) int {
	if l.ReturnDate != nil {
		return 0
	}
	remaining := int(l.DueDate.Sub(now).Hours() / 24)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Derive fills in the Status and DaysRemaining projection fields relative
// to now. Models call this after scanning a row so the stored columns are
// never consulted for either value.
func (l *Loan) Derive(now time.Time) {
	l.Status = l.StatusAt(now)
	l.DaysRemaining = l.daysRemainingAt(now)
}

// LoanStore is the interface the loan ledger uses to persist loans.
// LoanModel is the PostgreSQL implementation; tests use an in-memory one.
type LoanStore interface {
	// Insert creates a loan after atomically checking the three borrowing
	// preconditions. It fails with *LoanNotAllowedError when a precondition
	// does not hold, or ErrRecordNotFound when the user or book is missing.
	Insert(userID, bookID int64, dueDate time.Time, maxActiveLoans int) (*Loan, error)
	// Return closes an open loan and gives the copy back to the catalog.
	// Fails with ErrAlreadyReturned if the loan is already closed.
	Return(id int64) (*Loan, error)
	Get(id int64) (*Loan, error)
	GetAll() ([]*Loan, error)
	GetAllForUser(userID int64, activeOnly bool) ([]*Loan, error)
	CountActiveForUser(userID int64) (int, error)
	HasOverdueForUser(userID int64) (bool, error)
}

// LoanModel wraps a *sql.DB connection pool and provides the transactional
// loan operations described on LoanStore.
type LoanModel struct {
	DB *sql.DB
}

// loanColumns is the SELECT list shared by every loan query.
const loanColumns = `
	l.loan_id, l.user_id, l.book_id, u.username, b.title,
	l.loan_date, l.due_date, l.return_date
	FROM loans l
	INNER JOIN users u ON u.user_id = l.user_id
	INNER JOIN books b ON b.book_id = l.book_id`

// scanLoan scans one joined loan row and derives its projection fields.
func scanLoan(row interface{ Scan(...any) error }) (*Loan, error) {
	var loan Loan
	err := row.Scan(
		&loan.ID,
		&loan.UserID,
		&loan.BookID,
		&loan.Username,
		&loan.BookTitle,
		&loan.LoanDate,
		&loan.DueDate,
		&loan.ReturnDate,
	)
	if err != nil {
		return nil, err
	}
	loan.Derive(time.Now())
	return &loan, nil
}

// Insert creates a new loan inside a single transaction:
//
//  1. Lock the borrower's user row so their active-loan count cannot
//     change underneath the limit check.
//  2. Check the active-loan count against maxActiveLoans.
//  3. Conditionally decrement the book's available_copies; zero rows
//     affected means no copies are available (or the book is gone).
//  4. Insert the loan row; the partial unique index over open loans
//     rejects a duplicate active loan for the same (user, book) pair.
//
// Any failure rolls the whole transaction back, so the decrement never
// survives without its loan row.
func (m LoanModel) Insert(userID, bookID int64, dueDate time.Time, maxActiveLoans int) (*Loan, error) {
	tx, err := m.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var lockedID int64
	err = tx.QueryRow(`SELECT user_id FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var activeCount int
	err = tx.QueryRow(`
		SELECT count(*) FROM loans
		WHERE user_id = $1 AND return_date IS NULL`, userID).Scan(&activeCount)
	if err != nil {
		return nil, err
	}
	if activeCount >= maxActiveLoans {
		return nil, &LoanNotAllowedError{Reason: BorrowLimitReached}
	}

	result, err := tx.Exec(`
		UPDATE books SET available_copies = available_copies - 1
		WHERE book_id = $1 AND available_copies > 0`, bookID)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		var exists bool
		err = tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM books WHERE book_id = $1)`, bookID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrRecordNotFound
		}
		return nil, &LoanNotAllowedError{Reason: NoCopiesAvailable}
	}

	var loanID int64
	err = tx.QueryRow(`
		INSERT INTO loans (user_id, book_id, due_date)
		VALUES ($1, $2, $3)
		RETURNING loan_id`, userID, bookID, dueDate).Scan(&loanID)
	if err != nil {
		if isUniqueViolation(err, "loans_one_active_per_user_book") {
			return nil, &LoanNotAllowedError{Reason: DuplicateActiveLoan}
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return m.Get(loanID)
}

// Return closes the loan with the given id. The conditional UPDATE makes
// the operation race-free: only the first return of a loan sets
// return_date and triggers the paired increment; every later attempt
// fails with ErrAlreadyReturned and changes nothing.
func (m LoanModel) Return(id int64) (*Loan, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	tx, err := m.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var bookID int64
	err = tx.QueryRow(`
		UPDATE loans SET return_date = now()
		WHERE loan_id = $1 AND return_date IS NULL
		RETURNING book_id`, id).Scan(&bookID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(`SELECT EXISTS (SELECT 1 FROM loans WHERE loan_id = $1)`, id).Scan(&exists); err != nil {
				return nil, err
			}
			if !exists {
				return nil, ErrRecordNotFound
			}
			return nil, ErrAlreadyReturned
		}
		return nil, err
	}

	_, err = tx.Exec(`
		UPDATE books SET available_copies = available_copies + 1
		WHERE book_id = $1`, bookID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return m.Get(id)
}

// Get retrieves a single loan by its primary key.
func (m LoanModel) Get(id int64) (*Loan, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT ` + loanColumns + ` WHERE l.loan_id = $1`

	loan, err := scanLoan(m.DB.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return loan, nil
}

// GetAll retrieves every loan, most recent first.
func (m LoanModel) GetAll() ([]*Loan, error) {
	query := `SELECT ` + loanColumns + ` ORDER BY l.loan_date DESC`
	return m.queryLoans(query)
}

// GetAllForUser retrieves a user's loans, most recent first. When
// activeOnly is true, only open loans (return_date IS NULL) are included.
func (m LoanModel) GetAllForUser(userID int64, activeOnly bool) ([]*Loan, error) {
	query := `SELECT ` + loanColumns + ` WHERE l.user_id = $1`
	if activeOnly {
		query += ` AND l.return_date IS NULL`
	}
	query += ` ORDER BY l.loan_date DESC`
	return m.queryLoans(query, userID)
}

// CountActiveForUser returns the number of the user's open loans.
func (m LoanModel) CountActiveForUser(userID int64) (int, error) {
	var count int
	err := m.DB.QueryRow(`
		SELECT count(*) FROM loans
		WHERE user_id = $1 AND return_date IS NULL`, userID).Scan(&count)
	return count, err
}

// HasOverdueForUser reports whether the user holds any open loan whose
// due date has passed.
func (m LoanModel) HasOverdueForUser(userID int64) (bool, error) {
	var overdue bool
	err := m.DB.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE user_id = $1 AND return_date IS NULL AND due_date < now()
		)`, userID).Scan(&overdue)
	return overdue, err
}

// queryLoans runs a multi-row loan query and scans the results.
func (m LoanModel) queryLoans(query string, args ...any) ([]*Loan, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []*Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return loans, nil
}
