// internal/data/books.go
// Book record type, catalog validation rules, and the PostgreSQL-backed
// BookModel. The available_copies counter on a book row is only ever
// adjusted here (catalog management) and inside LoanModel's transactional
// create/return operations — never anywhere else.
package data

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/openshelf/library-api/internal/validator"
)

// Book represents a single title in the catalog together with its copy
// accounting. It maps directly to a row in the "books" table.
type Book struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Description     string `json:"description,omitempty"`
	GoogleBookID    string `json:"google_book_id,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// IsAvailable reports whether at least one copy can currently be borrowed.
func (b *Book) IsAvailable() bool {
	return b.AvailableCopies > 0
}

// ValidateBook accumulates field-level validation errors for a book.
// The copy-count bounds here mirror the CHECK constraint on the books
// table, so bad input is rejected before it ever reaches the database.
func ValidateBook(v *validator.Validator, book *Book) {
	v.Check(book.Title != "", "title", "must be provided")
	v.Check(len(book.Title) <= 200, "title", "must not be more than 200 characters long")
	v.Check(book.Author != "", "author", "must be provided")
	v.Check(len(book.Author) <= 200, "author", "must not be more than 200 characters long")
	v.Check(book.ISBN != "", "isbn", "must be provided")
	v.Check(len(book.ISBN) <= 13, "isbn", "must not be more than 13 characters long")
	v.Check(book.TotalCopies >= 0, "total_copies", "must not be negative")
	v.Check(book.AvailableCopies >= 0, "available_copies", "must not be negative")
	v.Check(book.AvailableCopies <= book.TotalCopies, "available_copies", "must not exceed total copies")
}

// BookStore is the interface the rest of the application uses to work
// with the catalog. BookModel is the PostgreSQL implementation; tests use
// an in-memory implementation.
type BookStore interface {
	Insert(book *Book) error
	Get(id int64) (*Book, error)
	GetAll(filters Filters) ([]*Book, Metadata, error)
	// Update persists the descriptive fields and total_copies. The
	// available counter is adjusted by the total_copies delta against the
	// stored row, never written absolutely; the caller's AvailableCopies
	// field is ignored on input and refreshed on return.
	Update(book *Book) error
	Delete(id int64) error
}

// BookModel wraps a *sql.DB connection pool and provides methods for
// creating, reading, updating, and deleting book records.
type BookModel struct {
	DB *sql.DB
}

// Insert adds a new book record to the database. The database-assigned id
// is written back into the book struct. A duplicate isbn is reported as
// ErrDuplicateISBN.
func (m BookModel) Insert(book *Book) error {
	query := `
		INSERT INTO books (title, author, isbn, description, google_book_id, total_copies, available_copies)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING book_id`

	args := []any{
		book.Title,
		book.Author,
		book.ISBN,
		book.Description,
		book.GoogleBookID,
		book.TotalCopies,
		book.AvailableCopies,
	}

	err := m.DB.QueryRow(query, args...).Scan(&book.ID)
	if err != nil {
		if isUniqueViolation(err, "books_isbn_key") {
			return ErrDuplicateISBN
		}
		return err
	}

	return nil
}

// Get retrieves a single book by its primary key.
// Returns ErrRecordNotFound if no book with the given id exists.
func (m BookModel) Get(id int64) (*Book, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT book_id, title, author, isbn, description, google_book_id, total_copies, available_copies
		FROM books
		WHERE book_id = $1`

	var book Book
	err := m.DB.QueryRow(query, id).Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&book.Description,
		&book.GoogleBookID,
		&book.TotalCopies,
		&book.AvailableCopies,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &book, nil
}

// GetAll retrieves a paginated, sorted list of books.
// It uses a COUNT(*) OVER() window function so only one round-trip is
// needed to get both the page and the total record count.
func (m BookModel) GetAll(filters Filters) ([]*Book, Metadata, error) {
	query := fmt.Sprintf(`
		SELECT count(*) OVER(), book_id, title, author, isbn, description, google_book_id, total_copies, available_copies
		FROM books
		ORDER BY %s %s, book_id ASC
		LIMIT $1 OFFSET $2`, filters.sortColumn(), filters.sortDirection())

	rows, err := m.DB.Query(query, filters.limit(), filters.offset())
	if err != nil {
		return nil, Metadata{}, err
	}
	defer rows.Close()

	totalRecords := 0
	books := []*Book{}

	for rows.Next() {
		var book Book
		err := rows.Scan(
			&totalRecords, // COUNT(*) OVER() – same value on every row
			&book.ID,
			&book.Title,
			&book.Author,
			&book.ISBN,
			&book.Description,
			&book.GoogleBookID,
			&book.TotalCopies,
			&book.AvailableCopies,
		)
		if err != nil {
			return nil, Metadata{}, err
		}
		books = append(books, &book)
	}

	if err = rows.Err(); err != nil {
		return nil, Metadata{}, err
	}

	metadata := calculateMetadata(totalRecords, filters.Page, filters.PageSize)
	return books, metadata, nil
}

// Update saves the descriptive fields and total_copies back to the
// database. available_copies is never written absolutely: it is shifted
// by the same delta as total_copies, relative to the live row, so an
// update racing the loan ledger cannot clobber the counter with a stale
// value. The refreshed counter is written back into book. A shrink below
// the number of outstanding copies trips the CHECK constraint and is
// reported as ErrInvalidCopyCounts.
func (m BookModel) Update(book *Book) error {
	// SET expressions see the pre-update row, so total_copies on the
	// right-hand side is the old value.
	query := `
		UPDATE books
		SET title = $1, author = $2, isbn = $3, description = $4,
		    google_book_id = $5,
		    available_copies = available_copies + ($6 - total_copies),
		    total_copies = $6
		WHERE book_id = $7
		RETURNING available_copies`

	args := []any{
		book.Title,
		book.Author,
		book.ISBN,
		book.Description,
		book.GoogleBookID,
		book.TotalCopies,
		book.ID,
	}

	err := m.DB.QueryRow(query, args...).Scan(&book.AvailableCopies)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrRecordNotFound
		case isUniqueViolation(err, "books_isbn_key"):
			return ErrDuplicateISBN
		case isCheckViolation(err):
			return ErrInvalidCopyCounts
		}
		return err
	}

	return nil
}

// Delete removes the book with the given id. Loans and requests that
// reference the book are removed by ON DELETE CASCADE.
// Returns ErrRecordNotFound if no matching record exists.
func (m BookModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	query := `DELETE FROM books WHERE book_id = $1`

	result, err := m.DB.Exec(query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}

	return nil
}
