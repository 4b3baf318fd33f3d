// cmd/api/users.go
// HTTP request handlers for accounts and sessions. A successful login or
// registration sets an HttpOnly cookie carrying an opaque server-side
// session token.
package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/openshelf/library-api/internal/data"
	"github.com/openshelf/library-api/internal/validator"
)

// setSessionCookie writes the session cookie on the response.
func (app *applicationDependencies) setSessionCookie(w http.ResponseWriter, session *data.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.Expiry,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie on the response.
func (app *applicationDependencies) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// registerUserHandler handles POST /v1/auth/register.
// A profile exists for every account from the moment it is registered;
// the borrowing profile is derived from the (empty) loan set. The new
// user is logged in immediately.
func (app *applicationDependencies) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		FullName        string `json:"full_name"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user := &data.User{
		Username: input.Username,
		Email:    input.Email,
		FullName: input.FullName,
	}

	err = user.Password.Set(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	v := validator.New()
	data.ValidateUser(v, user)
	v.Check(input.Password == input.ConfirmPassword, "confirm_password", "passwords do not match")
	if !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	err = app.models.Users.Insert(user)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicateUsername):
			v.AddError("username", "username already exists")
			app.failedValidationResponse(w, r, v.Errors)
		case errors.Is(err, data.ErrDuplicateEmail):
			v.AddError("email", "email already in use")
			app.failedValidationResponse(w, r, v.Errors)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	session, err := app.models.Sessions.New(user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	app.setSessionCookie(w, session)

	err = app.writeJSON(w, http.StatusCreated, envelope{"user": user}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// loginHandler handles POST /v1/auth/login.
// Unknown usernames and wrong passwords produce the same 401 so the
// response does not leak which accounts exist.
func (app *applicationDependencies) loginHandler(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user, err := app.models.Users.GetByUsername(input.Username)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.invalidCredentialsResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	match, err := user.Password.Matches(input.Password)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	if !match {
		app.invalidCredentialsResponse(w, r)
		return
	}

	session, err := app.models.Sessions.New(user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
	app.setSessionCookie(w, session)

	profile, err := app.ledger.ProfileFor(user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"user": user, "profile": profile}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// logoutHandler handles POST /v1/auth/logout.
// The server-side session is removed, so the token is dead even if the
// client keeps the cookie.
func (app *applicationDependencies) logoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		if err := app.models.Sessions.Delete(cookie.Value); err != nil {
			app.serverErrorResponse(w, r, err)
			return
		}
	}
	app.clearSessionCookie(w)

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "successfully logged out"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// currentUserHandler handles GET /v1/me.
// The response includes the account, its derived borrowing profile, and
// the user's active loans.
func (app *applicationDependencies) currentUserHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	profile, err := app.ledger.ProfileFor(user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	activeLoans, err := app.models.Loans.GetAllForUser(user.ID, true)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	body := envelope{
		"user":         user,
		"profile":      profile,
		"active_loans": activeLoans,
	}
	err = app.writeJSON(w, http.StatusOK, body, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listUsersHandler handles GET /v1/users (admin only).
func (app *applicationDependencies) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := app.models.Users.GetAll()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"users": users}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// deleteUserHandler handles DELETE /v1/users/:id (admin only).
// The account's loans, requests, and sessions go with it; open loans do
// not put their copies back.
func (app *applicationDependencies) deleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := app.models.Sessions.DeleteAllForUser(id); err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.models.Users.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "user successfully deleted"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listUserLoansHandler handles GET /v1/users/:id/loans.
// A user may view their own loans; admins may view anyone's. Pass
// ?active=true to restrict the list to open loans.
func (app *applicationDependencies) listUserLoansHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if id != user.ID && !user.IsAdmin {
		app.notPermittedResponse(w, r)
		return
	}

	if _, err := app.models.Users.Get(id); err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	activeOnly := app.readString(r.URL.Query(), "active", "false") == "true"

	loans, err := app.models.Loans.GetAllForUser(id, activeOnly)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"loans": loans}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
