// Package testutil provides in-memory implementations of the store
// interfaces from internal/data. A single mutex guards each Store, so the
// check-and-mutate sequences are atomic in the same way the SQL
// transactions are, which lets the business-rule and concurrency tests
// run without a database.
package testutil

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openshelf/library-api/internal/data"
)

// Store holds all in-memory state. Use NewStore, then Models to get a
// data.Models value wired to it.
type Store struct {
	mu sync.Mutex

	books    map[int64]*data.Book
	users    map[int64]*data.User
	loans    map[int64]*data.Loan
	requests map[int64]*data.BookRequest
	sessions map[string]*data.Session

	nextBookID    int64
	nextUserID    int64
	nextLoanID    int64
	nextRequestID int64
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		books:    make(map[int64]*data.Book),
		users:    make(map[int64]*data.User),
		loans:    make(map[int64]*data.Loan),
		requests: make(map[int64]*data.BookRequest),
		sessions: make(map[string]*data.Session),
	}
}

// Models returns a data.Models backed by this store.
func (s *Store) Models() data.Models {
	return data.Models{
		Books:    &Books{s: s},
		Users:    &Users{s: s},
		Loans:    &Loans{s: s},
		Requests: &Requests{s: s},
		Sessions: &Sessions{s: s},
	}
}

// ---------------------------------------------------------------- books

// Books implements data.BookStore in memory.
type Books struct{ s *Store }

func (b *Books) Insert(book *data.Book) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	for _, existing := range b.s.books {
		if existing.ISBN == book.ISBN {
			return data.ErrDuplicateISBN
		}
	}
	b.s.nextBookID++
	book.ID = b.s.nextBookID
	stored := *book
	b.s.books[book.ID] = &stored
	return nil
}

func (b *Books) Get(id int64) (*data.Book, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.s.getBook(id)
}

// getBook returns a copy of the book. Callers must hold the lock.
func (s *Store) getBook(id int64) (*data.Book, error) {
	book, ok := s.books[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	out := *book
	return &out, nil
}

func (b *Books) GetAll(filters data.Filters) ([]*data.Book, data.Metadata, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	all := make([]*data.Book, 0, len(b.s.books))
	for _, book := range b.s.books {
		out := *book
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	total := len(all)
	start := (filters.Page - 1) * filters.PageSize
	if start > total {
		start = total
	}
	end := start + filters.PageSize
	if end > total {
		end = total
	}

	metadata := data.Metadata{}
	if total > 0 {
		metadata = data.Metadata{
			CurrentPage:  filters.Page,
			PageSize:     filters.PageSize,
			FirstPage:    1,
			LastPage:     int(math.Ceil(float64(total) / float64(filters.PageSize))),
			TotalRecords: total,
		}
	}
	return all[start:end], metadata, nil
}

func (b *Books) Update(book *data.Book) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	current, ok := b.s.books[book.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	for _, existing := range b.s.books {
		if existing.ID != book.ID && existing.ISBN == book.ISBN {
			return data.ErrDuplicateISBN
		}
	}

	// Same rule as the SQL store: the available counter is shifted by the
	// total_copies delta against the stored row, never taken from the
	// caller, so a stale read cannot clobber loan accounting.
	available := current.AvailableCopies + (book.TotalCopies - current.TotalCopies)
	if book.TotalCopies < 0 || available < 0 || available > book.TotalCopies {
		return data.ErrInvalidCopyCounts
	}
	book.AvailableCopies = available

	stored := *book
	b.s.books[book.ID] = &stored
	return nil
}

func (b *Books) Delete(id int64) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if _, ok := b.s.books[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(b.s.books, id)
	for loanID, loan := range b.s.loans {
		if loan.BookID == id {
			delete(b.s.loans, loanID)
		}
	}
	for reqID, req := range b.s.requests {
		if req.BookID == id {
			delete(b.s.requests, reqID)
		}
	}
	return nil
}

// ---------------------------------------------------------------- users

// Users implements data.UserStore in memory.
type Users struct{ s *Store }

func (u *Users) Insert(user *data.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, existing := range u.s.users {
		if existing.Username == user.Username {
			return data.ErrDuplicateUsername
		}
		if existing.Email == user.Email {
			return data.ErrDuplicateEmail
		}
	}
	u.s.nextUserID++
	user.ID = u.s.nextUserID
	stored := *user
	u.s.users[user.ID] = &stored
	return nil
}

func (u *Users) Get(id int64) (*data.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	out := *user
	return &out, nil
}

func (u *Users) GetByUsername(username string) (*data.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	for _, user := range u.s.users {
		if user.Username == username {
			out := *user
			return &out, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (u *Users) GetAll() ([]*data.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	all := make([]*data.User, 0, len(u.s.users))
	for _, user := range u.s.users {
		out := *user
		all = append(all, &out)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	return all, nil
}

func (u *Users) Delete(id int64) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, ok := u.s.users[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(u.s.users, id)
	for loanID, loan := range u.s.loans {
		if loan.UserID == id {
			delete(u.s.loans, loanID)
		}
	}
	for reqID, req := range u.s.requests {
		if req.UserID == id {
			delete(u.s.requests, reqID)
		}
	}
	for token, session := range u.s.sessions {
		if session.UserID == id {
			delete(u.s.sessions, token)
		}
	}
	return nil
}

// ---------------------------------------------------------------- loans

// Loans implements data.LoanStore in memory. Insert performs the same
// check sequence as the SQL transaction, made atomic by the store mutex:
// borrow-limit check, conditional decrement, open-loan uniqueness.
type Loans struct{ s *Store }

func (l *Loans) Insert(userID, bookID int64, dueDate time.Time, maxActiveLoans int) (*data.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	user, ok := l.s.users[userID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}

	active := 0
	for _, loan := range l.s.loans {
		if loan.UserID == userID && loan.ReturnDate == nil {
			active++
		}
	}
	if active >= maxActiveLoans {
		return nil, &data.LoanNotAllowedError{Reason: data.BorrowLimitReached}
	}

	book, ok := l.s.books[bookID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if book.AvailableCopies < 1 {
		return nil, &data.LoanNotAllowedError{Reason: data.NoCopiesAvailable}
	}

	for _, loan := range l.s.loans {
		if loan.UserID == userID && loan.BookID == bookID && loan.ReturnDate == nil {
			return nil, &data.LoanNotAllowedError{Reason: data.DuplicateActiveLoan}
		}
	}

	book.AvailableCopies--

	l.s.nextLoanID++
	loan := &data.Loan{
		ID:        l.s.nextLoanID,
		UserID:    userID,
		BookID:    bookID,
		Username:  user.Username,
		BookTitle: book.Title,
		LoanDate:  time.Now(),
		DueDate:   dueDate,
	}
	l.s.loans[loan.ID] = loan

	return copyLoan(loan), nil
}

func (l *Loans) Return(id int64) (*data.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	loan, ok := l.s.loans[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if loan.ReturnDate != nil {
		return nil, data.ErrAlreadyReturned
	}

	now := time.Now()
	loan.ReturnDate = &now
	if book, ok := l.s.books[loan.BookID]; ok {
		book.AvailableCopies++
	}

	return copyLoan(loan), nil
}

func (l *Loans) Get(id int64) (*data.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	loan, ok := l.s.loans[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return copyLoan(loan), nil
}

func (l *Loans) GetAll() ([]*data.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.collect(func(*data.Loan) bool { return true }), nil
}

func (l *Loans) GetAllForUser(userID int64, activeOnly bool) ([]*data.Loan, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.collect(func(loan *data.Loan) bool {
		if loan.UserID != userID {
			return false
		}
		return !activeOnly || loan.ReturnDate == nil
	}), nil
}

func (l *Loans) CountActiveForUser(userID int64) (int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	count := 0
	for _, loan := range l.s.loans {
		if loan.UserID == userID && loan.ReturnDate == nil {
			count++
		}
	}
	return count, nil
}

func (l *Loans) HasOverdueForUser(userID int64) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	now := time.Now()
	for _, loan := range l.s.loans {
		if loan.UserID == userID && loan.ReturnDate == nil && loan.DueDate.Before(now) {
			return true, nil
		}
	}
	return false, nil
}

// collect filters loans, most recent first. Callers must hold the lock.
func (l *Loans) collect(keep func(*data.Loan) bool) []*data.Loan {
	out := []*data.Loan{}
	for _, loan := range l.s.loans {
		if keep(loan) {
			out = append(out, copyLoan(loan))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func copyLoan(loan *data.Loan) *data.Loan {
	out := *loan
	if loan.ReturnDate != nil {
		returned := *loan.ReturnDate
		out.ReturnDate = &returned
	}
	out.Derive(time.Now())
	return &out
}

// ------------------------------------------------------------- requests

// Requests implements data.RequestStore in memory.
type Requests struct{ s *Store }

func (r *Requests) Insert(userID, bookID int64, notes string) (*data.BookRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[userID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	book, ok := r.s.books[bookID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}

	for _, req := range r.s.requests {
		if req.UserID == userID && req.BookID == bookID && req.Status == data.RequestPending {
			return nil, data.ErrDuplicatePendingRequest
		}
	}

	r.s.nextRequestID++
	req := &data.BookRequest{
		ID:          r.s.nextRequestID,
		UserID:      userID,
		BookID:      bookID,
		Username:    user.Username,
		BookTitle:   book.Title,
		RequestDate: time.Now(),
		Status:      data.RequestPending,
		Notes:       notes,
	}
	r.s.requests[req.ID] = req

	out := *req
	return &out, nil
}

func (r *Requests) Decide(id int64, status data.RequestStatus) (*data.BookRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	if req.Status != data.RequestPending {
		return nil, data.ErrRequestNotPending
	}

	now := time.Now()
	req.Status = status
	req.ResponseDate = &now

	out := *req
	return &out, nil
}

func (r *Requests) Get(id int64) (*data.BookRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	out := *req
	return &out, nil
}

func (r *Requests) GetAll() ([]*data.BookRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(*data.BookRequest) bool { return true }), nil
}

func (r *Requests) GetAllForUser(userID int64) ([]*data.BookRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.collect(func(req *data.BookRequest) bool { return req.UserID == userID }), nil
}

func (r *Requests) collect(keep func(*data.BookRequest) bool) []*data.BookRequest {
	out := []*data.BookRequest{}
	for _, req := range r.s.requests {
		if keep(req) {
			copied := *req
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// ------------------------------------------------------------- sessions

// Sessions implements data.SessionStore in memory.
type Sessions struct{ s *Store }

func (se *Sessions) New(userID int64) (*data.Session, error) {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()

	if _, ok := se.s.users[userID]; !ok {
		return nil, data.ErrRecordNotFound
	}
	session := &data.Session{
		Token:   uuid.NewString(),
		UserID:  userID,
		Expiry:  time.Now().Add(data.SessionTTL),
		Created: time.Now(),
	}
	se.s.sessions[session.Token] = session

	out := *session
	return &out, nil
}

func (se *Sessions) GetUser(token string) (*data.User, error) {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()

	session, ok := se.s.sessions[token]
	if !ok || session.Expiry.Before(time.Now()) {
		return nil, data.ErrRecordNotFound
	}
	user, ok := se.s.users[session.UserID]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	out := *user
	return &out, nil
}

func (se *Sessions) Delete(token string) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	delete(se.s.sessions, token)
	return nil
}

func (se *Sessions) DeleteAllForUser(userID int64) error {
	se.s.mu.Lock()
	defer se.s.mu.Unlock()
	for token, session := range se.s.sessions {
		if session.UserID == userID {
			delete(se.s.sessions, token)
		}
	}
	return nil
}
