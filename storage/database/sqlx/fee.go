package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduro/core/fee"
)

const receiptColumns = `id, number, branch_id, student_id, class_id, description, amount, currency, status, due_date,
	paid_at, payment_method, reference, issued_by, notes, created_at, updated_at`

type receiptRow struct {
	ID            string      `db:"id"`
	Number        string      `db:"number"`
	BranchID      string      `db:"branch_id"`
	StudentID     string      `db:"student_id"`
	ClassID       null.String `db:"class_id"`
	Description   string      `db:"description"`
	Amount        int64       `db:"amount"`
	Currency      string      `db:"currency"`
	Status        string      `db:"status"`
	DueDate       time.Time   `db:"due_date"`
	PaidAt        null.Time   `db:"paid_at"`
	PaymentMethod string      `db:"payment_method"`
	Reference     string      `db:"reference"`
	IssuedBy      null.String `db:"issued_by"`
	Notes         string      `db:"notes"`
	CreatedAt     time.Time   `db:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at"`
}

type receiptRepository struct {
	db *sqlx.DB
}

var _ fee.Repository = (*receiptRepository)(nil) // interface compliance check

func NewReceiptRepository(db *sqlx.DB) fee.Repository {
	return &receiptRepository{db: db}
}

func (repo *receiptRepository) boil(r fee.Receipt) receiptRow {
	return receiptRow{
		ID:            r.ID,
		Number:        r.Number,
		BranchID:      r.BranchID,
		StudentID:     r.StudentID,
		ClassID:       null.NewString(r.ClassID, r.ClassID != ""),
		Description:   r.Description,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        r.Status,
		DueDate:       r.DueDate.UTC(),
		PaidAt:        nullTime(r.PaidAt),
		PaymentMethod: r.PaymentMethod,
		Reference:     r.Reference,
		IssuedBy:      null.NewString(r.IssuedBy, r.IssuedBy != ""),
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (repo *receiptRepository) unboil(row receiptRow) fee.Receipt {
	d := row.DueDate
	return fee.Receipt{
		ID:            row.ID,
		Number:        row.Number,
		BranchID:      row.BranchID,
		StudentID:     row.StudentID,
		ClassID:       row.ClassID.String,
		Description:   row.Description,
		Amount:        row.Amount,
		Currency:      row.Currency,
		Status:        row.Status,
		DueDate:       time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC),
		PaidAt:        timeOrZero(row.PaidAt),
		PaymentMethod: row.PaymentMethod,
		Reference:     row.Reference,
		IssuedBy:      row.IssuedBy.String,
		Notes:         row.Notes,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

// trapNoRowsErr maps psql "no rows" err to fee.ErrNotFound
func (repo *receiptRepository) trapNoRowsErr(err error, msg string) error {
	if isNoRows(err) {
		return fee.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *receiptRepository) CreateReceipt(ctx context.Context, r fee.Receipt) (fee.Receipt, error) {
	r.ID = newID()
	row := repo.boil(r)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO receipt (`+receiptColumns+`)
		VALUES (:id, :number, :branch_id, :student_id, :class_id, :description, :amount, :currency, :status, :due_date,
			:paid_at, :payment_method, :reference, :issued_by, :notes, :created_at, :updated_at)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return fee.Receipt{}, fee.ErrDuplicateNumber
		}
		return fee.Receipt{}, errors.Wrap(err, "inserting receipt")
	}
	return repo.unboil(row), nil
}

func (repo *receiptRepository) GetReceipt(ctx context.Context, id string) (fee.Receipt, error) {
	if !isUUID(id) {
		return fee.Receipt{}, fee.ErrNotFound
	}
	var row receiptRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+receiptColumns+` FROM receipt WHERE id = $1`, id); err != nil {
		return fee.Receipt{}, repo.trapNoRowsErr(err, "finding receipt by ID")
	}
	return repo.unboil(row), nil
}

func (repo *receiptRepository) GetReceiptByNumber(ctx context.Context, number string) (fee.Receipt, error) {
	var row receiptRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+receiptColumns+` FROM receipt WHERE number = $1`, number); err != nil {
		return fee.Receipt{}, repo.trapNoRowsErr(err, "finding receipt by number")
	}
	return repo.unboil(row), nil
}

func (repo *receiptRepository) UpdateReceipt(ctx context.Context, r fee.Receipt) (fee.Receipt, error) {
	row := repo.boil(r)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE receipt SET
			class_id = :class_id, description = :description, amount = :amount, currency = :currency,
			status = :status, due_date = :due_date, paid_at = :paid_at, payment_method = :payment_method,
			reference = :reference, notes = :notes, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fee.Receipt{}, errors.Wrap(err, "updating receipt")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fee.Receipt{}, fee.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo *receiptRepository) DeleteReceipt(ctx context.Context, id string) error {
	if !isUUID(id) {
		return fee.ErrNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM receipt WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting receipt")
	}
	if !ok {
		return fee.ErrNotFound
	}
	return nil
}

func (repo *receiptRepository) QueryReceipts(ctx context.Context, filter fee.Filter) ([]fee.Receipt, error) {
	w := new(where)
	if filter.BranchID != "" {
		w.add("branch_id::text = ?", filter.BranchID)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.ClassID != "" {
		w.add("class_id::text = ?", filter.ClassID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status IN (?)", filter.Statuses)
	}
	if !filter.DueFrom.IsZero() {
		w.add("due_date >= ?", filter.DueFrom.String())
	}
	if !filter.DueTo.IsZero() {
		w.add("due_date <= ?", filter.DueTo.String())
	}

	var rows []receiptRow
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+receiptColumns+` FROM receipt`, w, " ORDER BY created_at DESC"); err != nil {
		return nil, errors.Wrap(err, "querying receipts")
	}
	receipts := make([]fee.Receipt, 0, len(rows))
	for _, row := range rows {
		receipts = append(receipts, repo.unboil(row))
	}
	return receipts, nil
}
