package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/library-api/internal/data"
	"github.com/openshelf/library-api/internal/testutil"
)

// newTestApplication builds the full application over the in-memory
// stores, with the rate limiter disabled so tests can hammer endpoints.
func newTestApplication(t *testing.T) (*applicationDependencies, data.Models) {
	t.Helper()

	var settings serverConfig
	settings.environment = "test"
	settings.loans.maxActive = 5
	settings.loans.periodDays = 14
	settings.limiter.enabled = false

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	models := testutil.NewStore().Models()

	return newApplication(settings, logger, models), models
}

// seedAccount inserts a user directly into the store and opens a session
// for them, returning the cookie to attach to requests.
func seedAccount(t *testing.T, models data.Models, username string, admin bool) (*data.User, *http.Cookie) {
	t.Helper()

	user := &data.User{
		Username: username,
		Email:    username + "@example.com",
		IsAdmin:  admin,
	}
	require.NoError(t, user.Password.Set("pa55word-test"))
	require.NoError(t, models.Users.Insert(user))

	session, err := models.Sessions.New(user.ID)
	require.NoError(t, err)

	return user, &http.Cookie{Name: sessionCookieName, Value: session.Token}
}

func seedCatalogBook(t *testing.T, models data.Models, title string, copies int) *data.Book {
	t.Helper()
	book := &data.Book{
		Title:           title,
		Author:          "Test Author",
		ISBN:            fmt.Sprintf("isbn-%s", title),
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	require.NoError(t, models.Books.Insert(book))
	return book
}

// do runs a request through the full middleware chain and decodes the
// JSON response body into a generic map.
func do(t *testing.T, handler http.Handler, method, path string, body any, cookie *http.Cookie) (int, map[string]any) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		js, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(js)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func TestHealthcheck(t *testing.T) {
	app, _ := newTestApplication(t)

	status, body := do(t, app.routes(), http.MethodGet, "/v1/healthcheck", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "available", body["status"])
}

func TestAuthenticationRequired(t *testing.T) {
	app, _ := newTestApplication(t)
	routes := app.routes()

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/books"},
		{http.MethodGet, "/v1/loans"},
		{http.MethodPost, "/v1/loans"},
		{http.MethodGet, "/v1/book-requests"},
		{http.MethodGet, "/v1/me"},
	}

	for _, p := range paths {
		status, _ := do(t, routes, p.method, p.path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", p.method, p.path)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	app, _ := newTestApplication(t)
	routes := app.routes()

	status, body := do(t, routes, http.MethodPost, "/v1/auth/register", map[string]any{
		"username":         "alice",
		"email":            "alice@example.com",
		"password":         "sw0rdfish!",
		"confirm_password": "sw0rdfish!",
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, false, user["is_admin"])

	// Wrong password is a 401 that does not reveal whether the account exists.
	status, _ = do(t, routes, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = do(t, routes, http.MethodPost, "/v1/auth/login", map[string]any{
		"username": "alice",
		"password": "sw0rdfish!",
	}, nil)
	require.Equal(t, http.StatusOK, status)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, true, profile["can_borrow"])
	assert.Equal(t, float64(0), profile["active_loans_count"])
}

func TestRegisterValidation(t *testing.T) {
	app, _ := newTestApplication(t)
	routes := app.routes()

	status, body := do(t, routes, http.MethodPost, "/v1/auth/register", map[string]any{
		"username":         "al",
		"email":            "not-an-email",
		"password":         "short",
		"confirm_password": "different",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)

	fieldErrors := body["error"].(map[string]any)
	assert.Contains(t, fieldErrors, "username")
	assert.Contains(t, fieldErrors, "email")
	assert.Contains(t, fieldErrors, "password")
	assert.Contains(t, fieldErrors, "confirm_password")
}

func TestCreateBook(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)
	_, memberCookie := seedAccount(t, models, "member", false)

	input := map[string]any{
		"title":        "Dune",
		"author":       "Frank Herbert",
		"isbn":         "9780441172719",
		"total_copies": 4,
	}

	// Non-admins may not create books.
	status, _ := do(t, routes, http.MethodPost, "/v1/books", input, memberCookie)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := do(t, routes, http.MethodPost, "/v1/books", input, adminCookie)
	require.Equal(t, http.StatusCreated, status)
	book := body["book"].(map[string]any)
	assert.Equal(t, float64(4), book["total_copies"])
	assert.Equal(t, float64(4), book["available_copies"])

	// Duplicate isbn conflicts.
	status, _ = do(t, routes, http.MethodPost, "/v1/books", input, adminCookie)
	assert.Equal(t, http.StatusConflict, status)

	// Copy-count invariant enforced on input.
	status, _ = do(t, routes, http.MethodPost, "/v1/books", map[string]any{
		"title":        "Bad",
		"author":       "Bad",
		"isbn":         "123",
		"total_copies": -1,
	}, adminCookie)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestUpdateBookCopyAccounting(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)
	_, aliceCookie := seedAccount(t, models, "alice", false)
	book := seedCatalogBook(t, models, "dune", 3)

	status, _ := do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": book.ID}, aliceCookie)
	require.Equal(t, http.StatusCreated, status)

	path := fmt.Sprintf("/v1/books/%d", book.ID)

	// A title-only edit leaves the counters alone.
	status, body := do(t, routes, http.MethodPatch, path, map[string]any{"title": "Dune (new ed.)"}, adminCookie)
	require.Equal(t, http.StatusOK, status)
	updated := body["book"].(map[string]any)
	assert.Equal(t, float64(3), updated["total_copies"])
	assert.Equal(t, float64(2), updated["available_copies"])

	// Growing the holding puts the new copies on the shelf.
	status, body = do(t, routes, http.MethodPatch, path, map[string]any{"total_copies": 5}, adminCookie)
	require.Equal(t, http.StatusOK, status)
	updated = body["book"].(map[string]any)
	assert.Equal(t, float64(5), updated["total_copies"])
	assert.Equal(t, float64(4), updated["available_copies"])

	// Shrinking down to the outstanding copy empties the shelf.
	status, body = do(t, routes, http.MethodPatch, path, map[string]any{"total_copies": 1}, adminCookie)
	require.Equal(t, http.StatusOK, status)
	updated = body["book"].(map[string]any)
	assert.Equal(t, float64(1), updated["total_copies"])
	assert.Equal(t, float64(0), updated["available_copies"])

	// Shrinking below the outstanding copy is refused.
	status, _ = do(t, routes, http.MethodPatch, path, map[string]any{"total_copies": 0}, adminCookie)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestBookUpdateIgnoresStaleCounter(t *testing.T) {
	models := testutil.NewStore().Models()
	alice := &data.User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, alice.Password.Set("pa55word-test"))
	require.NoError(t, models.Users.Insert(alice))
	book := seedCatalogBook(t, models, "dune", 3)

	// An editor reads the row, then a loan is created underneath them.
	stale := *book
	_, err := models.Loans.Insert(alice.ID, book.ID, time.Now().Add(24*time.Hour), 5)
	require.NoError(t, err)

	// Writing the stale record back must not resurrect the lent copy.
	stale.Title = "Dune (annotated)"
	require.NoError(t, models.Books.Update(&stale))
	assert.Equal(t, 2, stale.AvailableCopies)

	got, err := models.Books.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AvailableCopies)
	assert.Equal(t, "Dune (annotated)", got.Title)
}

func TestBorrowAndReturnFlow(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	alice, aliceCookie := seedAccount(t, models, "alice", false)
	_, bobCookie := seedAccount(t, models, "bob", false)
	book := seedCatalogBook(t, models, "solaris", 1)

	// Alice takes the only copy.
	status, body := do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": book.ID}, aliceCookie)
	require.Equal(t, http.StatusCreated, status)
	loan := body["loan"].(map[string]any)
	assert.Equal(t, "ACTIVE", loan["status"])
	assert.Equal(t, float64(alice.ID), loan["user_id"])
	loanID := int64(loan["id"].(float64))

	got, err := models.Books.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableCopies)

	// Bob is refused with a machine-readable reason.
	status, body = do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": book.ID}, bobCookie)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "no_copies_available", body["reason"])

	// Bob cannot return Alice's loan.
	returnPath := fmt.Sprintf("/v1/loans/%d/return_book", loanID)
	status, _ = do(t, routes, http.MethodPost, returnPath, nil, bobCookie)
	assert.Equal(t, http.StatusForbidden, status)

	// Alice returns it; the copy goes back on the shelf.
	status, body = do(t, routes, http.MethodPost, returnPath, nil, aliceCookie)
	require.Equal(t, http.StatusOK, status)
	loan = body["loan"].(map[string]any)
	assert.Equal(t, "RETURNED", loan["status"])
	assert.NotNil(t, loan["return_date"])

	got, err = models.Books.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)

	// A second return is refused and changes nothing.
	status, _ = do(t, routes, http.MethodPost, returnPath, nil, aliceCookie)
	assert.Equal(t, http.StatusBadRequest, status)

	got, err = models.Books.Get(book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)
}

func TestStaffLendsOnBehalf(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)
	member, memberCookie := seedAccount(t, models, "member", false)
	book := seedCatalogBook(t, models, "dune", 2)

	// An admin can lend directly to another user, bypassing the request
	// workflow.
	status, body := do(t, routes, http.MethodPost, "/v1/loans", map[string]any{
		"book_id": book.ID,
		"user_id": member.ID,
	}, adminCookie)
	require.Equal(t, http.StatusCreated, status)
	loan := body["loan"].(map[string]any)
	assert.Equal(t, float64(member.ID), loan["user_id"])

	// A non-admin supplying user_id still borrows for themselves.
	other, _ := seedAccount(t, models, "other", false)
	status, body = do(t, routes, http.MethodPost, "/v1/loans", map[string]any{
		"book_id": book.ID,
		"user_id": other.ID,
	}, memberCookie)
	require.Equal(t, http.StatusBadRequest, status)
	// member already has the book on loan via the admin.
	assert.Equal(t, "duplicate_active_loan", body["reason"])
}

func TestBookRequestFlow(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)
	alice, aliceCookie := seedAccount(t, models, "alice", false)
	book := seedCatalogBook(t, models, "dune", 1)

	// Submit a request.
	status, body := do(t, routes, http.MethodPost, "/v1/book-requests", map[string]any{
		"book_id": book.ID,
		"notes":   "for a reading group",
	}, aliceCookie)
	require.Equal(t, http.StatusCreated, status)
	request := body["book_request"].(map[string]any)
	assert.Equal(t, "PENDING", request["status"])
	requestID := int64(request["id"].(float64))

	// A second pending request for the same book is refused.
	status, _ = do(t, routes, http.MethodPost, "/v1/book-requests", map[string]any{"book_id": book.ID}, aliceCookie)
	assert.Equal(t, http.StatusBadRequest, status)

	// Non-admins cannot decide.
	decidePath := fmt.Sprintf("/v1/admin/book-requests/%d", requestID)
	status, _ = do(t, routes, http.MethodPut, decidePath, map[string]any{"status": "APPROVED"}, aliceCookie)
	assert.Equal(t, http.StatusForbidden, status)

	// Bad decision values are rejected.
	status, _ = do(t, routes, http.MethodPut, decidePath, map[string]any{"status": "MAYBE"}, adminCookie)
	assert.Equal(t, http.StatusBadRequest, status)

	// Approval creates the loan.
	status, body = do(t, routes, http.MethodPut, decidePath, map[string]any{"status": "APPROVED"}, adminCookie)
	require.Equal(t, http.StatusOK, status)
	request = body["book_request"].(map[string]any)
	assert.Equal(t, "APPROVED", request["status"])
	assert.NotNil(t, request["response_date"])

	loans, err := models.Loans.GetAllForUser(alice.ID, true)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, book.ID, loans[0].BookID)

	// The decision is terminal.
	status, _ = do(t, routes, http.MethodPut, decidePath, map[string]any{"status": "REJECTED"}, adminCookie)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestApproveWithoutCopiesStillApproves(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)
	alice, aliceCookie := seedAccount(t, models, "alice", false)
	_, bobCookie := seedAccount(t, models, "bob", false)
	book := seedCatalogBook(t, models, "scarce", 1)

	// Bob takes the only copy before the admin decides Alice's request.
	status, _ := do(t, routes, http.MethodPost, "/v1/book-requests", map[string]any{"book_id": book.ID}, aliceCookie)
	require.Equal(t, http.StatusCreated, status)
	status, _ = do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": book.ID}, bobCookie)
	require.Equal(t, http.StatusCreated, status)

	requests, err := models.Requests.GetAllForUser(alice.ID)
	require.NoError(t, err)
	require.Len(t, requests, 1)

	// Decoupled approval: the request is approved, no loan exists.
	decidePath := fmt.Sprintf("/v1/admin/book-requests/%d", requests[0].ID)
	status, body := do(t, routes, http.MethodPut, decidePath, map[string]any{"status": "APPROVED"}, adminCookie)
	require.Equal(t, http.StatusOK, status)
	request := body["book_request"].(map[string]any)
	assert.Equal(t, "APPROVED", request["status"])

	loans, err := models.Loans.GetAllForUser(alice.ID, false)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestCancelBookRequest(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, aliceCookie := seedAccount(t, models, "alice", false)
	_, bobCookie := seedAccount(t, models, "bob", false)
	book := seedCatalogBook(t, models, "dune", 1)

	status, body := do(t, routes, http.MethodPost, "/v1/book-requests", map[string]any{"book_id": book.ID}, aliceCookie)
	require.Equal(t, http.StatusCreated, status)
	requestID := int64(body["book_request"].(map[string]any)["id"].(float64))

	cancelPath := fmt.Sprintf("/v1/book-requests/%d/cancel", requestID)

	// Only the requester can cancel.
	status, _ = do(t, routes, http.MethodPost, cancelPath, nil, bobCookie)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = do(t, routes, http.MethodPost, cancelPath, nil, aliceCookie)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CANCELLED", body["book_request"].(map[string]any)["status"])
}

func TestCurrentUserProfile(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, cookie := seedAccount(t, models, "alice", false)
	book := seedCatalogBook(t, models, "dune", 1)

	status, _ := do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": book.ID}, cookie)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, routes, http.MethodGet, "/v1/me", nil, cookie)
	require.Equal(t, http.StatusOK, status)

	profile := body["profile"].(map[string]any)
	assert.Equal(t, float64(1), profile["active_loans_count"])
	assert.Equal(t, true, profile["can_borrow"])
	assert.Equal(t, false, profile["has_overdue_books"])

	activeLoans := body["active_loans"].([]any)
	assert.Len(t, activeLoans, 1)
}

func TestMalformedSessionCookie(t *testing.T) {
	app, _ := newTestApplication(t)
	routes := app.routes()

	// A cookie that was never a session token (stale, hand-edited, or from
	// another app) is treated as unauthenticated, not as a server error.
	garbage := &http.Cookie{Name: sessionCookieName, Value: "definitely-not-a-uuid"}

	status, _ := do(t, routes, http.MethodGet, "/v1/me", nil, garbage)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, routes, http.MethodGet, "/v1/books", nil, garbage)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogoutKillsSession(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, cookie := seedAccount(t, models, "alice", false)

	status, _ := do(t, routes, http.MethodGet, "/v1/me", nil, cookie)
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, routes, http.MethodPost, "/v1/auth/logout", nil, cookie)
	require.Equal(t, http.StatusOK, status)

	// The server-side session is gone; the old cookie no longer works.
	status, _ = do(t, routes, http.MethodGet, "/v1/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestListBooksPagination(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, cookie := seedAccount(t, models, "alice", false)
	for i := 0; i < 5; i++ {
		seedCatalogBook(t, models, fmt.Sprintf("book-%d", i), 1)
	}

	status, body := do(t, routes, http.MethodGet, "/v1/books?page=1&page_size=2", nil, cookie)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["books"].([]any), 2)

	metadata := body["metadata"].(map[string]any)
	assert.Equal(t, float64(5), metadata["total_records"])
	assert.Equal(t, float64(3), metadata["last_page"])

	// Invalid pagination values fail validation.
	status, _ = do(t, routes, http.MethodGet, "/v1/books?page=0", nil, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestNotFoundRoutes(t *testing.T) {
	app, models := newTestApplication(t)
	routes := app.routes()

	_, adminCookie := seedAccount(t, models, "admin", true)

	status, _ := do(t, routes, http.MethodGet, "/v1/books/999", nil, adminCookie)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, routes, http.MethodPost, "/v1/loans", map[string]any{"book_id": 999}, adminCookie)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, routes, http.MethodPut, "/v1/admin/book-requests/999", map[string]any{"status": "APPROVED"}, adminCookie)
	assert.Equal(t, http.StatusNotFound, status)
}
