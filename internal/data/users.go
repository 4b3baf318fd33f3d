// internal/data/users.go
// User account type, bcrypt password handling, and the PostgreSQL-backed
// UserModel. A user's borrowing profile (active loan count, can_borrow,
// has_overdue_books) is derived from the loan ledger, not stored here.
package data

import (
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/openshelf/library-api/internal/validator"
)

// User represents a registered account. IsAdmin is the only permission
// distinction in the system.
type User struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name,omitempty"`
	IsAdmin  bool     `json:"is_admin"`
	Password password `json:"-"`
}

// AnonymousUser represents an unauthenticated request. It is stored in the
// request context by the authenticate middleware when no valid session is
// presented.
var AnonymousUser = &User{}

// IsAnonymous reports whether the user is the unauthenticated sentinel.
func (u *User) IsAnonymous() bool {
	return u == AnonymousUser
}

// password wraps a bcrypt hash alongside the plaintext it was derived
// from (the plaintext is only held transiently during registration).
type password struct {
	plaintext *string
	hash      []byte
}

// Set hashes the plaintext password with bcrypt and stores both values.
func (p *password) Set(plaintextPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintextPassword), 12)
	if err != nil {
		return err
	}
	p.plaintext = &plaintextPassword
	p.hash = hash
	return nil
}

// Matches checks whether the provided plaintext matches the stored hash.
func (p *password) Matches(plaintextPassword string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(p.hash, []byte(plaintextPassword))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}
	return true, nil
}

// ValidateUser accumulates field-level validation errors for a new
// account: username at least 3 characters, valid email, password at
// least 8 characters.
func ValidateUser(v *validator.Validator, user *User) {
	v.Check(user.Username != "", "username", "must be provided")
	v.Check(len(user.Username) >= 3, "username", "must be at least 3 characters long")
	v.Check(len(user.Username) <= 50, "username", "must not be more than 50 characters long")

	v.Check(user.Email != "", "email", "must be provided")
	v.Check(validator.Matches(user.Email, validator.EmailRX), "email", "must be a valid email address")

	if user.Password.plaintext != nil {
		v.Check(*user.Password.plaintext != "", "password", "must be provided")
		v.Check(len(*user.Password.plaintext) >= 8, "password", "must be at least 8 characters long")
		v.Check(len(*user.Password.plaintext) <= 72, "password", "must not be more than 72 characters long")
	}
}

// Profile is the borrowing profile derived from the loan ledger and
// attached to user-facing responses.
type Profile struct {
	ActiveLoansCount int  `json:"active_loans_count"`
	CanBorrow        bool `json:"can_borrow"`
	HasOverdueBooks  bool `json:"has_overdue_books"`
}

// UserStore is the interface the application uses to work with accounts.
type UserStore interface {
	Insert(user *User) error
	Get(id int64) (*User, error)
	GetByUsername(username string) (*User, error)
	GetAll() ([]*User, error)
	Delete(id int64) error
}

// UserModel wraps a *sql.DB connection pool and provides methods for
// account records.
type UserModel struct {
	DB *sql.DB
}

const userColumns = `user_id, username, email, full_name, is_admin, password_hash`

// Insert adds a new account. Duplicate usernames and emails are reported
// as their dedicated sentinel errors so handlers can attach the failure to
// the right field.
func (m UserModel) Insert(user *User) error {
	query := `
		INSERT INTO users (username, email, full_name, is_admin, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING user_id`

	args := []any{user.Username, user.Email, user.FullName, user.IsAdmin, user.Password.hash}

	err := m.DB.QueryRow(query, args...).Scan(&user.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users_username_key"):
			return ErrDuplicateUsername
		case isUniqueViolation(err, "users_email_key"):
			return ErrDuplicateEmail
		default:
			return err
		}
	}
	return nil
}

// Get retrieves an account by its primary key.
func (m UserModel) Get(id int64) (*User, error) {
	if id < 1 {
		return nil, ErrRecordNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return m.getOne(query, id)
}

// GetByUsername retrieves an account by its unique username.
func (m UserModel) GetByUsername(username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return m.getOne(query, username)
}

func (m UserModel) getOne(query string, arg any) (*User, error) {
	var user User
	err := m.DB.QueryRow(query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.IsAdmin,
		&user.Password.hash,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}
	return &user, nil
}

// GetAll retrieves every account, ordered by username.
func (m UserModel) GetAll() ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username ASC`

	rows, err := m.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		var user User
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.FullName,
			&user.IsAdmin,
			&user.Password.hash,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, &user)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Delete removes an account. Loans, requests, and sessions that reference
// it are removed by ON DELETE CASCADE.
func (m UserModel) Delete(id int64) error {
	if id < 1 {
		return ErrRecordNotFound
	}

	result, err := m.DB.Exec(`DELETE FROM users WHERE user_id = $1`, id)
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
