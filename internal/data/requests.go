// internal/data/requests.go
// BookRequest record type and the PostgreSQL-backed RequestModel.
// A request never touches available_copies itself; fulfilment goes
// through the loan ledger.
package data

import (
	"database/sql"
	"errors"
	"time"

	"github.com/openshelf/library-api/internal/validator"
)

// RequestStatus enumerates the borrow-request state machine. Pending is
// the only non-terminal state; every transition out of it happens at most
// once and stamps response_date.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// BookRequest represents a user's intent to borrow a book, awaiting an
// admin decision. Username and BookTitle are denormalized for presentation.
type BookRequest struct {
	ID           int64         `json:"id"`
	UserID       int64         `json:"user_id"`
	BookID       int64         `json:"book_id"`
	Username     string        `json:"username"`
	BookTitle    string        `json:"book_title"`
	RequestDate  time.Time     `json:"request_date"`
	Status       RequestStatus `json:"status"`
	Notes        string        `json:"notes,omitempty"`
	ResponseDate *time.Time    `json:"response_date"`
}

// ValidateRequestNotes bounds the free-text notes field.
func ValidateRequestNotes(v *validator.Validator, notes string) {
	v.Check(len(notes) <= 1000, "notes", "must not be more than 1000 characters long")
}

// RequestStore is the interface the request workflow uses to persist
// borrow requests. RequestModel is the PostgreSQL implementation.
type RequestStore interface {
	// Insert creates a new Pending request. Fails with
	// ErrDuplicatePendingRequest if the user already has a pending request
	// for the book, or ErrRecordNotFound if user or book is missing.
	Insert(userID, bookID int64, notes string) (*BookRequest, error)
	// Decide moves a Pending request into the given terminal status and
	// stamps response_date. Fails with ErrRequestNotPending if the request
	// was already decided.
	Decide(id int64, status RequestStatus) (*BookRequest, error)
	Get(id int64) (*BookRequest, error)
	GetAll() ([]*BookRequest, error)
	GetAllForUser(userID int64) ([]*BookRequest, error)
}

// RequestModel wraps a *sql.DB connection pool and provides methods for
// creating and deciding borrow requests.
type RequestModel struct {
	DB *sql.DB
}

const requestColumns = `
	r.request_id, r.user_id, r.book_id, u.username, b.title,
	r.request_date, r.status, r.notes, r.response_date
	FROM book_requests r
	INNER JOIN users u ON u.user_id = r.user_id
	INNER JOIN books b ON b.book_id = r.book_id`

func scanRequest(row interface{ Scan(...any) error }) (*BookRequest, error) {
	var req BookRequest
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.BookID,
		&req.Username,
		&req.BookTitle,
		&req.RequestDate,
		&req.Status,
		&req.Notes,
		&req.ResponseDate,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Insert creates a new Pending request. The partial unique index over
// pending requests enforces the one-pending-per-(user, book) invariant in
// the database, closing the check-then-insert race window.
func (m RequestModel) Insert(userID, bookID int64, notes string) (*BookRequest, error) {
	var id int64
	err := m.DB.QueryRow(`
		INSERT INTO book_requests (user_id, book_id, notes)
		VALUES ($1, $2, $3)
		RETURNING request_id`, userID, bookID, notes).Scan(&id)
	if err != nil {
		switch {
		case isUniqueViolation(err, "requests_one_pending_per_user_book"):
			return nil, ErrDuplicatePendingRequest
		case isForeignKeyViolation(err):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return m.Get(id)
}

// Decide transitions a Pending request to the given terminal status.
// The WHERE clause on status makes the transition happen exactly once;
// a second decision attempt affects zero rows and is rejected.
func (m RequestModel) Decide(id int64, status RequestStatus) (*BookRequest, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	result, err := m.DB.Exec(`
		UPDATE book_requests
		SET status = $1, response_date = now()
		WHERE request_id = $2 AND status = $3`, status, id, RequestPending)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		var exists bool
		if err := m.DB.QueryRow(`SELECT EXISTS (SELECT 1 FROM book_requests WHERE request_id = $1)`, id).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrRecordNotFound
		}
		return nil, ErrRequestNotPending
	}

	return m.Get(id)
}

// Get retrieves a single request by its primary key.
func (m RequestModel) Get(id int64) (*BookRequest, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `SELECT ` + requestColumns + ` WHERE r.request_id = $1`

	req, err := scanRequest(m.DB.QueryRow(query, id))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return req, nil
}

// GetAll retrieves every request, most recent first.
func (m RequestModel) GetAll() ([]*BookRequest, error) {
	query := `SELECT ` + requestColumns + ` ORDER BY r.request_date DESC`
	return m.queryRequests(query)
}

// GetAllForUser retrieves a user's requests, most recent first.
func (m RequestModel) GetAllForUser(userID int64) ([]*BookRequest, error) {
	query := `SELECT ` + requestColumns + ` WHERE r.user_id = $1 ORDER BY r.request_date DESC`
	return m.queryRequests(query, userID)
}

func (m RequestModel) queryRequests(query string, args ...any) ([]*BookRequest, error) {
	rows, err := m.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []*BookRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}
