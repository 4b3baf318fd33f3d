// cmd/api/requests.go
// HTTP request handlers for the borrow-request workflow.
package main

import (
	"errors"
	"net/http"

	"github.com/openshelf/library-api/internal/data"
	"github.com/openshelf/library-api/internal/library"
	"github.com/openshelf/library-api/internal/validator"
)

// createBookRequestHandler handles POST /v1/book-requests.
// A user may have at most one pending request per book.
func (app *applicationDependencies) createBookRequestHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	var input struct {
		BookID int64  `json:"book_id"`
		Notes  string `json:"notes"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	v := validator.New()
	if data.ValidateRequestNotes(v, input.Notes); !v.Valid() {
		app.failedValidationResponse(w, r, v.Errors)
		return
	}

	request, err := app.workflow.Submit(user.ID, input.BookID, input.Notes)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicatePendingRequest):
			app.badRequestResponse(w, r, err)
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"book_request": request}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listBookRequestsHandler handles GET /v1/book-requests and returns the
// authenticated user's own requests.
func (app *applicationDependencies) listBookRequestsHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	requests, err := app.workflow.RequestsForUser(user.ID)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book_requests": requests}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// cancelBookRequestHandler handles POST /v1/book-requests/:id/cancel.
// Only the requesting user may cancel, and only while the request is
// still pending.
func (app *applicationDependencies) cancelBookRequestHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	request, err := app.workflow.Cancel(id, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, library.ErrNotRequestOwner):
			app.notPermittedResponse(w, r)
		case errors.Is(err, data.ErrRequestNotPending):
			app.badRequestResponse(w, r, err)
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book_request": request}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// listAllBookRequestsHandler handles GET /v1/admin/book-requests.
func (app *applicationDependencies) listAllBookRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := app.workflow.AllRequests()
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book_requests": requests}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// decideBookRequestHandler handles PUT /v1/admin/book-requests/:id.
// The body carries {"status": "APPROVED"} or {"status": "REJECTED"}.
// Approval attempts to create the loan through the ledger; in the default
// decoupled mode the request is approved even when fulfilment is refused.
func (app *applicationDependencies) decideBookRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Status data.RequestStatus `json:"status"`
	}

	err = app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	request, err := app.workflow.Decide(id, input.Status)
	if err != nil {
		var notAllowed *data.LoanNotAllowedError
		switch {
		case errors.Is(err, library.ErrInvalidDecision):
			app.badRequestResponse(w, r, err)
		case errors.Is(err, data.ErrRequestNotPending):
			app.badRequestResponse(w, r, err)
		case errors.As(err, &notAllowed):
			// Strict mode: approval is refused because no loan could be
			// created; the request stays pending.
			app.loanNotAllowedResponse(w, r, notAllowed)
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"book_request": request}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
