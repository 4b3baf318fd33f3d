// cmd/api/routes.go
package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// routes registers all HTTP endpoints and returns the configured router
// wrapped in the recoverPanic, rateLimit, and authenticate middlewares.
//
// Middleware chain (outermost → innermost):
//
//	recoverPanic → rateLimit → authenticate → router
//
// authenticate resolves the session cookie into a user (or the anonymous
// sentinel); requireAuthenticated and requireAdmin guard individual
// handlers.
func (app *applicationDependencies) routes() http.Handler {
	router := httprouter.New()

	// Override the default httprouter error handlers to return JSON responses.
	router.NotFound = http.HandlerFunc(app.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(app.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodGet, "/v1/healthcheck", app.healthcheckHandler)

	// Account and session routes
	router.HandlerFunc(http.MethodPost, "/v1/auth/register", app.registerUserHandler)
	router.HandlerFunc(http.MethodPost, "/v1/auth/login", app.loginHandler)
	router.HandlerFunc(http.MethodPost, "/v1/auth/logout", app.requireAuthenticated(app.logoutHandler))
	// /v1/me rather than /v1/users/me: httprouter cannot mix the static
	// "me" segment with the :id wildcard under /v1/users.
	router.HandlerFunc(http.MethodGet, "/v1/me", app.requireAuthenticated(app.currentUserHandler))
	router.HandlerFunc(http.MethodGet, "/v1/users", app.requireAdmin(app.listUsersHandler))
	router.HandlerFunc(http.MethodDelete, "/v1/users/:id", app.requireAdmin(app.deleteUserHandler))
	router.HandlerFunc(http.MethodGet, "/v1/users/:id/loans", app.requireAuthenticated(app.listUserLoansHandler))

	// Catalog routes: browsing needs a session, mutation needs admin.
	router.HandlerFunc(http.MethodGet, "/v1/books", app.requireAuthenticated(app.listBooksHandler))
	router.HandlerFunc(http.MethodGet, "/v1/books/:id", app.requireAuthenticated(app.showBookHandler))
	router.HandlerFunc(http.MethodPost, "/v1/books", app.requireAdmin(app.createBookHandler))
	router.HandlerFunc(http.MethodPatch, "/v1/books/:id", app.requireAdmin(app.updateBookHandler))
	router.HandlerFunc(http.MethodDelete, "/v1/books/:id", app.requireAdmin(app.deleteBookHandler))

	// Loan ledger routes
	router.HandlerFunc(http.MethodGet, "/v1/loans", app.requireAuthenticated(app.listLoansHandler))
	router.HandlerFunc(http.MethodPost, "/v1/loans", app.requireAuthenticated(app.createLoanHandler))
	router.HandlerFunc(http.MethodPost, "/v1/loans/:id/return_book", app.requireAuthenticated(app.returnLoanHandler))

	// Request workflow routes
	router.HandlerFunc(http.MethodGet, "/v1/book-requests", app.requireAuthenticated(app.listBookRequestsHandler))
	router.HandlerFunc(http.MethodPost, "/v1/book-requests", app.requireAuthenticated(app.createBookRequestHandler))
	router.HandlerFunc(http.MethodPost, "/v1/book-requests/:id/cancel", app.requireAuthenticated(app.cancelBookRequestHandler))
	router.HandlerFunc(http.MethodGet, "/v1/admin/book-requests", app.requireAdmin(app.listAllBookRequestsHandler))
	router.HandlerFunc(http.MethodPut, "/v1/admin/book-requests/:id", app.requireAdmin(app.decideBookRequestHandler))

	// recoverPanic is outermost so it catches panics from the other
	// middlewares and the router alike.
	return app.recoverPanic(app.rateLimit(app.authenticate(router)))
}
