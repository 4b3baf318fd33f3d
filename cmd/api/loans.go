// cmd/api/loans.go
// HTTP request handlers for the loan ledger. All availability accounting
// happens inside the ledger's create/return operations; these handlers
// only translate between HTTP and the engine.
package main

import (
	"errors"
	"net/http"

	"github.com/openshelf/library-api/internal/data"
)

// listLoansHandler handles GET /v1/loans.
// Admins see every loan; everyone else sees their own. Loan status is
// derived at read time, so an overdue loan shows as OVERDUE here without
// any background job having touched it.
func (app *applicationDependencies) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	var (
		loans []*data.Loan
		err   error
	)
	if user.IsAdmin {
		loans, err = app.models.Loans.GetAll()
	} else {
		loans, err = app.models.Loans.GetAllForUser(user.ID, false)
	}
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"loans": loans}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// createLoanHandler handles POST /v1/loans.
// Staff may lend on behalf of another user by supplying user_id; everyone
// else borrows for themselves. The ledger refuses the loan when no copies
// are available, the borrower is at their loan limit, or the borrower
// already has the book out — each with a machine-readable reason.
func (app *applicationDependencies) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	var input struct {
		BookID int64  `json:"book_id"`
		UserID *int64 `json:"user_id"`
	}

	err := app.readJSON(w, r, &input)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	borrowerID := user.ID
	if input.UserID != nil && user.IsAdmin {
		borrowerID = *input.UserID
	}

	loan, err := app.ledger.CreateLoan(borrowerID, input.BookID)
	if err != nil {
		var notAllowed *data.LoanNotAllowedError
		switch {
		case errors.As(err, &notAllowed):
			app.loanNotAllowedResponse(w, r, notAllowed)
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"loan": loan}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}

// returnLoanHandler handles POST /v1/loans/:id/return_book.
// Users may only return their own loans; admins may return any loan.
// Returning an already-returned loan fails with a 400 and changes nothing.
func (app *applicationDependencies) returnLoanHandler(w http.ResponseWriter, r *http.Request) {
	user := app.contextGetUser(r)

	id, err := app.readIDParam(r)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	// Ownership check before mutation, so a non-owner cannot probe or
	// close someone else's loan.
	loan, err := app.models.Loans.Get(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}
	if loan.UserID != user.ID && !user.IsAdmin {
		app.notPermittedResponse(w, r)
		return
	}

	loan, err = app.ledger.ReturnLoan(id)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrAlreadyReturned):
			app.badRequestResponse(w, r, err)
		case errors.Is(err, data.ErrRecordNotFound):
			app.notFoundResponse(w, r)
		default:
			app.serverErrorResponse(w, r, err)
		}
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"loan": loan}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
	}
}
