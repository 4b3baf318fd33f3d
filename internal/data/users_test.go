package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/library-api/internal/validator"
)

func TestPasswordSetAndMatches(t *testing.T) {
	var p password
	require.NoError(t, p.Set("correct horse battery"))

	match, err := p.Matches("correct horse battery")
	require.NoError(t, err)
	assert.True(t, match)

	match, err = p.Matches("wrong password")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestValidateUser(t *testing.T) {
	newUser := func(username, email, plaintext string) *User {
		user := &User{Username: username, Email: email}
		require.NoError(t, user.Password.Set(plaintext))
		return user
	}

	t.Run("valid user passes", func(t *testing.T) {
		v := validator.New()
		ValidateUser(v, newUser("alice", "alice@example.com", "longenough"))
		assert.True(t, v.Valid())
	})

	t.Run("short username", func(t *testing.T) {
		v := validator.New()
		ValidateUser(v, newUser("al", "alice@example.com", "longenough"))
		assert.Contains(t, v.Errors, "username")
	})

	t.Run("bad email", func(t *testing.T) {
		v := validator.New()
		ValidateUser(v, newUser("alice", "nope", "longenough"))
		assert.Contains(t, v.Errors, "email")
	})

	t.Run("short password", func(t *testing.T) {
		v := validator.New()
		ValidateUser(v, newUser("alice", "alice@example.com", "short"))
		assert.Contains(t, v.Errors, "password")
	})
}

func TestIsAnonymous(t *testing.T) {
	assert.True(t, AnonymousUser.IsAnonymous())
	assert.False(t, (&User{ID: 1, Username: "alice"}).IsAnonymous())
}
