package fee

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

// Receipt statuses
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
)

// Payment methods
const (
	MethodCash         = "cash"
	MethodBankTransfer = "bank_transfer"
	MethodCard         = "card"
	MethodMobileMoney  = "mobile_money"
	MethodCheque       = "cheque"
)

var (
	Statuses       = []string{StatusPending, StatusPaid, StatusCancelled, StatusRefunded}
	PaymentMethods = []string{MethodCash, MethodBankTransfer, MethodCard, MethodMobileMoney, MethodCheque}

	transitions = map[string][]string{
		StatusPending: {StatusPaid, StatusCancelled},
		StatusPaid:    {StatusRefunded},
	}
)

// CanTransition reports whether a receipt may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Receipt struct {
	ID            string    `json:"id"`
	Number        string    `json:"number"`
	BranchID      string    `json:"branch_id"`
	StudentID     string    `json:"student_id"`
	ClassID       string    `json:"class_id"`
	Description   string    `json:"description"`
	Amount        int64     `json:"amount"` // minor units
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	DueDate       time.Time `json:"due_date"` // midnight UTC
	PaidAt        time.Time `json:"paid_at"`  // UTC
	PaymentMethod string    `json:"payment_method"`
	Reference     string    `json:"reference"`
	IssuedBy      string    `json:"issued_by"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// IsOverdue reports whether the receipt is still pending after its due date.
func (r Receipt) IsOverdue(now time.Time) bool {
	return r.Status == StatusPending && !r.DueDate.IsZero() && r.DueDate.Before(core.Day(now))
}

func receiptID(r Receipt) string { return r.ID }

// NewReceipt contains information needed to issue a new Receipt.
type NewReceipt struct {
	BranchID    string    `json:"branch_id" validate:"required,uuid"`
	StudentID   string    `json:"student_id" validate:"required,uuid"`
	ClassID     string    `json:"class_id" validate:"omitempty,uuid"`
	Description string    `json:"description" validate:"required,notblank,max=500"`
	Amount      int64     `json:"amount" validate:"gt=0"`
	Currency    string    `json:"currency" validate:"required,len=3,alpha"`
	DueDate     core.Date `json:"due_date"`
	Notes       string    `json:"notes" validate:"max=1000"`
	IssuedBy    string    `json:"-"`
}

func (nr *NewReceipt) Validate(validate *validator.Validate) error {
	nr.Description = core.CleanString(nr.Description)
	nr.Currency = strings.ToUpper(core.CleanString(nr.Currency))
	nr.Notes = core.CleanString(nr.Notes)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	if nr.DueDate.IsZero() {
		return core.NewValidationError(nil, core.FieldError{Field: "due_date", Error: "this field is required"})
	}
	return nil
}

// UpdateReceipt defines what information may be provided to modify a pending Receipt.
type UpdateReceipt struct {
	Description *string    `json:"description" validate:"omitempty,notblank,max=500"`
	Amount      *int64     `json:"amount" validate:"omitempty,gt=0"`
	DueDate     *core.Date `json:"due_date"`
	Notes       *string    `json:"notes" validate:"omitempty,max=1000"`
}

func (ur *UpdateReceipt) Validate(validate *validator.Validate) error {
	if ur.Description != nil {
		desc := core.CleanString(*ur.Description)
		ur.Description = &desc
	}
	return validate.Struct(ur)
}

type Payment struct {
	Method    string    `json:"method" validate:"required,oneof=cash bank_transfer card mobile_money cheque"`
	Reference string    `json:"reference" validate:"max=255"`
	PaidAt    time.Time `json:"paid_at"` // default: now
}

func (p *Payment) Validate(validate *validator.Validate) error {
	p.Reference = core.CleanString(p.Reference)
	return validate.Struct(p)
}

type Filter struct {
	BranchID  string    `query:"branch_id"`
	StudentID string    `query:"student_id"`
	ClassID   string    `query:"class_id"`
	Statuses  []string  `query:"status"`
	DueFrom   core.Date `query:"due_from"`
	DueTo     core.Date `query:"due_to"`
	Overdue   bool      `query:"overdue"`
}

// Totals are amounts in minor units, per currency.
type Totals struct {
	Currency    string `json:"currency"`
	Collected   int64  `json:"collected"`
	Outstanding int64  `json:"outstanding"` // pending, overdue included
	Overdue     int64  `json:"overdue"`
	Refunded    int64  `json:"refunded"`
}

// Tally sums receipts per currency, sorted by currency.
func Tally(receipts []Receipt, now time.Time) []Totals {
	byCurrency := make(map[string]*Totals)
	currencies := make([]string, 0, 1)
	for _, r := range receipts {
		t, ok := byCurrency[r.Currency]
		if !ok {
			t = &Totals{Currency: r.Currency}
			byCurrency[r.Currency] = t
			currencies = append(currencies, r.Currency)
		}
		switch r.Status {
		case StatusPaid:
			t.Collected += r.Amount
		case StatusPending:
			t.Outstanding += r.Amount
			if r.IsOverdue(now) {
				t.Overdue += r.Amount
			}
		case StatusRefunded:
			t.Refunded += r.Amount
		}
	}

	sort.Strings(currencies)
	totals := make([]Totals, 0, len(currencies))
	for _, c := range currencies {
		totals = append(totals, *byCurrency[c])
	}
	return totals
}
