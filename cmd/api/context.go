// cmd/api/context.go
// Helpers for stashing the authenticated user in the request context.
package main

import (
	"context"
	"net/http"

	"github.com/openshelf/library-api/internal/data"
)

// contextKey is a distinct type so our context keys never collide with
// keys set by other packages.
type contextKey string

const userContextKey = contextKey("user")

// contextSetUser returns a copy of the request with the user added to its
// context. The authenticate middleware calls this for every request.
func (app *applicationDependencies) contextSetUser(r *http.Request, user *data.User) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	return r.WithContext(ctx)
}

// contextGetUser retrieves the user from the request context. It panics if
// the value is missing, which only happens on a programming error (a
// handler registered outside the authenticate middleware).
func (app *applicationDependencies) contextGetUser(r *http.Request) *data.User {
	user, ok := r.Context().Value(userContextKey).(*data.User)
	if !ok {
		panic("missing user value in request context")
	}
	return user
}
