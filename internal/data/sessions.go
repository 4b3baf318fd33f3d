// internal/data/sessions.go
// Opaque session tokens backing the cookie-based authentication layer.
// Tokens are random UUIDs stored server-side with an expiry, so logging
// out or deleting a user immediately invalidates the session.
package data

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is how long a session stays valid after login.
const SessionTTL = 24 * time.Hour

// Session ties an opaque token to a user account.
type Session struct {
	Token   string    `json:"-"`
	UserID  int64     `json:"-"`
	Expiry  time.Time `json:"-"`
	Created time.Time `json:"-"`
}

// SessionStore is the interface the authentication middleware uses.
type SessionStore interface {
	// New creates a session for the user and returns its token.
	New(userID int64) (*Session, error)
	// GetUser resolves a token to the account it belongs to. Expired or
	// unknown tokens fail with ErrRecordNotFound.
	GetUser(token string) (*User, error)
	// Delete removes the session with the given token, if any.
	Delete(token string) error
	// DeleteAllForUser removes every session belonging to the user.
	DeleteAllForUser(userID int64) error
}

// SessionModel wraps a *sql.DB connection pool and provides methods for
// session records.
type SessionModel struct {
	DB *sql.DB
}

// New creates a session with a fresh random token.
func (m SessionModel) New(userID int64) (*Session, error) {
	session := &Session{
		Token:  uuid.NewString(),
		UserID: userID,
		Expiry: time.Now().Add(SessionTTL),
	}

	query := `
		INSERT INTO sessions (token, user_id, expiry)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	err := m.DB.QueryRow(query, session.Token, session.UserID, session.Expiry).Scan(&session.Created)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return session, nil
}

// GetUser resolves a session token to its account, rejecting expired
// tokens at query time. The token column is uuid typed, so a malformed
// cookie value is treated as an unknown session rather than being sent
// to the database, where the failed uuid cast would surface as a plain
// query error.
func (m SessionModel) GetUser(token string) (*User, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrRecordNotFound
	}

	query := `
		SELECT u.user_id, u.username, u.email, u.full_name, u.is_admin, u.password_hash
		FROM sessions s
		INNER JOIN users u ON u.user_id = s.user_id
		WHERE s.token = $1 AND s.expiry > now()`

	var user User
	err := m.DB.QueryRow(query, token).Scan(
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

// Delete removes the session with the given token. Deleting an unknown
// or malformed token is not an error; logout is idempotent.
func (m SessionModel) Delete(token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	_, err := m.DB.Exec(`DELETE FROM sessions WHERE token = $1`, token)
	return err
}

// DeleteAllForUser removes every session belonging to the user.
func (m SessionModel) DeleteAllForUser(userID int64) error {
	_, err := m.DB.Exec(`DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}
