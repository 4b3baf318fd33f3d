// internal/library/workflow.go
// The borrow-request workflow: Pending → Approved | Rejected | Cancelled,
// each transition happening exactly once. Approval drives loan creation
// through the ledger; the workflow itself never touches copy counts.
package library

import (
	"errors"
	"log/slog"

	"github.com/openshelf/library-api/internal/data"
)

var (
	// ErrInvalidDecision is returned when a decision is neither an
	// approval nor a rejection.
	ErrInvalidDecision = errors.New("decision must be APPROVED or REJECTED")

	// ErrNotRequestOwner is returned when a user tries to cancel a
	// request submitted by someone else.
	ErrNotRequestOwner = errors.New("request belongs to another user")
)

// LoanCreator is the slice of the ledger the workflow needs to fulfil an
// approved request.
type LoanCreator interface {
	CreateLoan(userID, bookID int64) (*data.Loan, error)
}

// Workflow manages borrow requests from submission to decision.
//
// By default approval and fulfilment are decoupled: an approved request
// stays approved even when no loan could be created because no copies
// remain. Setting ApproveRequiresCopies
// switches to strict mode, where the approval itself fails if the loan
// cannot be created.
type Workflow struct {
	requests data.RequestStore
	ledger   LoanCreator
	logger   *slog.Logger

	// ApproveRequiresCopies couples approval to fulfilment (strict mode).
	ApproveRequiresCopies bool
}

// NewWorkflow constructs a Workflow over the given request store and ledger.
func NewWorkflow(requests data.RequestStore, ledger LoanCreator, logger *slog.Logger) *Workflow {
	return &Workflow{requests: requests, ledger: ledger, logger: logger}
}

// Submit creates a new Pending request for (user, book). The store
// rejects a second pending request for the same pair with
// data.ErrDuplicatePendingRequest.
func (w *Workflow) Submit(userID, bookID int64, notes string) (*data.BookRequest, error) {
	return w.requests.Insert(userID, bookID, notes)
}

// Decide applies an admin decision to a pending request. Deciding a
// request that has already reached a terminal state fails with
// data.ErrRequestNotPending.
//
// On approval in decoupled mode the workflow first marks the request
// Approved and then attempts fulfilment; a business refusal from the
// ledger (no copies, borrow limit, duplicate loan) is logged and the
// request stays Approved with no loan created. In strict mode the loan is
// created first and the request is only marked Approved afterwards.
func (w *Workflow) Decide(id int64, decision data.RequestStatus) (*data.BookRequest, error) {
	if decision != data.RequestApproved && decision != data.RequestRejected {
		return nil, ErrInvalidDecision
	}

	if decision == data.RequestApproved && w.ApproveRequiresCopies {
		return w.approveStrict(id)
	}

	req, err := w.requests.Decide(id, decision)
	if err != nil {
		return nil, err
	}

	if decision == data.RequestApproved {
		_, err := w.ledger.CreateLoan(req.UserID, req.BookID)
		if err != nil {
			var notAllowed *data.LoanNotAllowedError
			if !errors.As(err, &notAllowed) {
				return nil, err
			}
			// Approval and fulfilment are decoupled: the request stays
			// Approved even though no loan was created.
			w.logger.Warn("approved request not fulfilled",
				slog.Int64("request_id", req.ID),
				slog.Int64("book_id", req.BookID),
				slog.String("reason", string(notAllowed.Reason)),
			)
		}
	}

	return req, nil
}

// approveStrict creates the loan before marking the request Approved, so
// a refusal from the ledger surfaces to the admin and the request stays
// Pending.
func (w *Workflow) approveStrict(id int64) (*data.BookRequest, error) {
	req, err := w.requests.Get(id)
	if err != nil {
		return nil, err
	}
	if req.Status != data.RequestPending {
		return nil, data.ErrRequestNotPending
	}

	if _, err := w.ledger.CreateLoan(req.UserID, req.BookID); err != nil {
		return nil, err
	}

	return w.requests.Decide(id, data.RequestApproved)
}

// Cancel lets the requesting user withdraw their own pending request.
func (w *Workflow) Cancel(id, userID int64) (*data.BookRequest, error) {
	req, err := w.requests.Get(id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, ErrNotRequestOwner
	}
	return w.requests.Decide(id, data.RequestCancelled)
}

// RequestsForUser lists the user's own requests, most recent first.
func (w *Workflow) RequestsForUser(userID int64) ([]*data.BookRequest, error) {
	return w.requests.GetAllForUser(userID)
}

// AllRequests lists every request, most recent first. Admin-only at the
// HTTP layer.
func (w *Workflow) AllRequests() ([]*data.BookRequest, error) {
	return w.requests.GetAll()
}
