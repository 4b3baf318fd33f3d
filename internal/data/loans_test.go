package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoanStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	returned := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		loan Loan
		want LoanStatus
	}{
		{
			name: "open loan before due date is active",
			loan: Loan{DueDate: now.Add(48 * time.Hour)},
			want: LoanActive,
		},
		{
			name: "open loan past due date is overdue",
			loan: Loan{DueDate: now.Add(-time.Minute)},
			want: LoanOverdue,
		},
		{
			name: "returned loan is returned",
			loan: Loan{DueDate: now.Add(48 * time.Hour), ReturnDate: &returned},
			want: LoanReturned,
		},
		{
			name: "return date wins even when overdue",
			loan: Loan{DueDate: now.Add(-72 * time.Hour), ReturnDate: &returned},
			want: LoanReturned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loan.StatusAt(now))
		})
	}
}

func TestLoanDerive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("days remaining floors at zero", func(t *testing.T) {
		loan := Loan{DueDate: now.Add(-96 * time.Hour)}
		loan.Derive(now)
		assert.Equal(t, LoanOverdue, loan.Status)
		assert.Equal(t, 0, loan.DaysRemaining)
	})

	t.Run("days remaining counts whole days", func(t *testing.T) {
		loan := Loan{DueDate: now.Add(14 * 24 * time.Hour)}
		loan.Derive(now)
		assert.Equal(t, LoanActive, loan.Status)
		assert.Equal(t, 14, loan.DaysRemaining)
	})

	t.Run("returned loan reports zero days", func(t *testing.T) {
		returnDate := now.Add(-time.Hour)
		loan := Loan{DueDate: now.Add(5 * 24 * time.Hour), ReturnDate: &returnDate}
		loan.Derive(now)
		assert.Equal(t, LoanReturned, loan.Status)
		assert.Equal(t, 0, loan.DaysRemaining)
	})
}
