package fee

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("receipt not found")
	ErrDuplicateNumber   = errors.New("a receipt with this number already exists")
	ErrInvalidTransition = errors.New("invalid receipt status transition")
	ErrNotEditable       = errors.New("only pending receipts can be edited")
	ErrNotDeletable      = errors.New("only pending or cancelled receipts can be deleted")
	ErrNotAStudent       = errors.New("user is not a student")
)

const (
	cacheName        = "receipts"
	qrSize           = 256
	numberGenRetries = 3
)

// CacheKey is the key of the receipts cached for a branch.
func CacheKey(branchID string) string {
	return "receipts:branch:" + branchID
}

// NewNumber generates a receipt number: RCP-<YYYYMM>-<8 hex>.
func NewNumber() string {
	return fmt.Sprintf(
		"RCP-%s-%s",
		core.NowFunc().Format("200601"),
		strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8]),
	)
}

type (
	Repository interface {
		// CreateReceipt returns ErrDuplicateNumber if the number is taken.
		CreateReceipt(ctx context.Context, r Receipt) (Receipt, error)
		GetReceipt(ctx context.Context, id string) (Receipt, error)
		GetReceiptByNumber(ctx context.Context, number string) (Receipt, error)
		UpdateReceipt(ctx context.Context, r Receipt) (Receipt, error)
		DeleteReceipt(ctx context.Context, id string) error
		// QueryReceipts returns receipts ordered by creation, most recent first.
		QueryReceipts(ctx context.Context, filter Filter) ([]Receipt, error)
	}

	Students interface {
		GetByID(id string) (user.User, error)
	}

	Service interface {
		// List returns the receipts of a branch, served from the cache when live.
		List(ctx context.Context, branchID string) ([]Receipt, error)
		Get(ctx context.Context, id string) (Receipt, error)
		GetByNumber(ctx context.Context, number string) (Receipt, error)
		Query(ctx context.Context, filter Filter) ([]Receipt, error)
		Issue(ctx context.Context, nr NewReceipt) (Receipt, error)
		Update(ctx context.Context, id string, ur UpdateReceipt) (Receipt, error)
		Delete(ctx context.Context, id string) error

		// RecordPayment marks a pending receipt paid & emails it to the student.
		RecordPayment(ctx context.Context, id string, p Payment) (Receipt, error)
		Cancel(ctx context.Context, id string) (Receipt, error)
		Refund(ctx context.Context, id string) (Receipt, error)

		Totals(ctx context.Context, branchID string) ([]Totals, error)
		// Export writes the receipts matching filter as an Excel workbook.
		Export(ctx context.Context, filter Filter, w io.Writer) error
		// QRCode returns the PNG QR code pointing at the public verification page of the receipt.
		QRCode(r Receipt) ([]byte, error)
	}

	service struct {
		repo     Repository
		students Students
		cache    core.Cache
		mailSvc  core.EmailService
		conf     *core.Config
		metrics  core.Metrics
		logger   core.Logger

		sendMail func(r Receipt, student user.User)
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	students Students,
	cache core.Cache,
	mailSvc core.EmailService,
	conf *core.Config,
	metrics core.Metrics,
	logger core.Logger,
) Service {
	svc := newService(repo, students, cache, mailSvc, conf, metrics, logger)
	svc.sendMail = func(r Receipt, student user.User) { go svc.sendReceiptMail(r, student) }
	return svc
}

// NewServiceMock returns a Service that sends receipt mails synchronously.
func NewServiceMock(
	repo Repository,
	students Students,
	cache core.Cache,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
) Service {
	svc := newService(repo, students, cache, mailSvc, conf, nil, logger)
	svc.sendMail = svc.sendReceiptMail
	return svc
}

func newService(
	repo Repository,
	students Students,
	cache core.Cache,
	mailSvc core.EmailService,
	conf *core.Config,
	metrics core.Metrics,
	logger core.Logger,
) *service {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &service{
		repo:     repo,
		students: students,
		cache:    cache,
		mailSvc:  mailSvc,
		conf:     conf,
		metrics:  metrics,
		logger:   logger,
	}
}

func (svc *service) List(ctx context.Context, branchID string) ([]Receipt, error) {
	key := CacheKey(branchID)

	var receipts []Receipt
	found, err := svc.cache.Get(ctx, key, &receipts)
	if err != nil {
		svc.logger.Warn("reading receipts cache", err)
	}
	svc.metrics.CacheLookup(cacheName, found)
	if found {
		return receipts, nil
	}

	receipts, err = svc.repo.QueryReceipts(ctx, Filter{BranchID: branchID})
	if err != nil {
		return nil, errors.Wrap(err, "querying receipts")
	}
	if err = svc.cache.Set(ctx, key, receipts, svc.conf.Cache.ReceiptTTL); err != nil {
		svc.logger.Warn("writing receipts cache", err)
	}
	return receipts, nil
}

func (svc *service) Get(ctx context.Context, id string) (Receipt, error) {
	if id == "" {
		return Receipt{}, ErrNotFound
	}
	return svc.repo.GetReceipt(ctx, id)
}

func (svc *service) GetByNumber(ctx context.Context, number string) (Receipt, error) {
	number = strings.ToUpper(core.CleanString(number))
	if number == "" {
		return Receipt{}, ErrNotFound
	}
	return svc.repo.GetReceiptByNumber(ctx, number)
}

func (svc *service) Query(ctx context.Context, filter Filter) ([]Receipt, error) {
	receipts, err := svc.repo.QueryReceipts(ctx, filter)
	if err != nil || !filter.Overdue {
		return receipts, err
	}

	now := core.NowFunc()
	overdue := make([]Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.IsOverdue(now) {
			overdue = append(overdue, r)
		}
	}
	return overdue, nil
}

func (svc *service) Issue(ctx context.Context, nr NewReceipt) (Receipt, error) {
	student, err := svc.students.GetByID(nr.StudentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Receipt{}, ErrNotAStudent
		}
		return Receipt{}, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent() {
		return Receipt{}, ErrNotAStudent
	}

	now := core.NowFunc()
	r := Receipt{
		BranchID:    nr.BranchID,
		StudentID:   nr.StudentID,
		ClassID:     nr.ClassID,
		Description: nr.Description,
		Amount:      nr.Amount,
		Currency:    nr.Currency,
		Status:      StatusPending,
		DueDate:     core.Day(nr.DueDate.Time),
		IssuedBy:    nr.IssuedBy,
		Notes:       nr.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for i := 0; i < numberGenRetries; i++ {
		r.Number = NewNumber()
		created, err := svc.repo.CreateReceipt(ctx, r)
		if errors.Cause(err) == ErrDuplicateNumber {
			continue
		}
		if err != nil {
			return Receipt{}, errors.Wrap(err, "creating receipt")
		}
		svc.patchCache(ctx, created)
		return created, nil
	}
	return Receipt{}, errors.Wrap(ErrDuplicateNumber, "generating receipt number")
}

func (svc *service) Update(ctx context.Context, id string, ur UpdateReceipt) (Receipt, error) {
	r, err := svc.Get(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if r.Status != StatusPending {
		return Receipt{}, ErrNotEditable
	}
	if ur.Description != nil {
		r.Description = *ur.Description
	}
	if ur.Amount != nil {
		r.Amount = *ur.Amount
	}
	if ur.DueDate != nil && !ur.DueDate.IsZero() {
		r.DueDate = core.Day(ur.DueDate.Time)
	}
	if ur.Notes != nil {
		r.Notes = core.CleanString(*ur.Notes)
	}
	return svc.save(ctx, r)
}

func (svc *service) Delete(ctx context.Context, id string) error {
	r, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Status != StatusPending && r.Status != StatusCancelled {
		return ErrNotDeletable
	}
	if err = svc.repo.DeleteReceipt(ctx, r.ID); err != nil {
		return errors.Wrap(err, "deleting receipt")
	}

	key := CacheKey(r.BranchID)
	if err = core.RemoveFromCachedList(ctx, svc.cache, key, r.ID, receiptID); err != nil {
		svc.dropCache(ctx, key, err)
	}
	return nil
}

func (svc *service) transition(ctx context.Context, id, status string) (Receipt, error) {
	r, err := svc.Get(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if !CanTransition(r.Status, status) {
		return Receipt{}, ErrInvalidTransition
	}
	r.Status = status
	return r, nil
}

func (svc *service) RecordPayment(ctx context.Context, id string, p Payment) (Receipt, error) {
	r, err := svc.transition(ctx, id, StatusPaid)
	if err != nil {
		return Receipt{}, err
	}
	r.PaymentMethod = p.Method
	r.Reference = p.Reference
	r.PaidAt = core.NowFunc()
	if !p.PaidAt.IsZero() {
		r.PaidAt = p.PaidAt.UTC()
	}
	if r, err = svc.save(ctx, r); err != nil {
		return Receipt{}, err
	}

	student, err := svc.students.GetByID(r.StudentID)
	if err != nil {
		svc.logger.Error("finding student of paid receipt", err, map[string]interface{}{"receipt": r.Number})
		return r, nil
	}
	if student.Email != "" {
		svc.sendMail(r, student)
	}
	return r, nil
}

func (svc *service) Cancel(ctx context.Context, id string) (Receipt, error) {
	r, err := svc.transition(ctx, id, StatusCancelled)
	if err != nil {
		return Receipt{}, err
	}
	return svc.save(ctx, r)
}

func (svc *service) Refund(ctx context.Context, id string) (Receipt, error) {
	r, err := svc.transition(ctx, id, StatusRefunded)
	if err != nil {
		return Receipt{}, err
	}
	return svc.save(ctx, r)
}

func (svc *service) save(ctx context.Context, r Receipt) (Receipt, error) {
	r.UpdatedAt = core.NowFunc()
	r, err := svc.repo.UpdateReceipt(ctx, r)
	if err != nil {
		return Receipt{}, errors.Wrap(err, "updating receipt")
	}
	svc.patchCache(ctx, r)
	return r, nil
}

func (svc *service) Totals(ctx context.Context, branchID string) ([]Totals, error) {
	receipts, err := svc.List(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return Tally(receipts, core.NowFunc()), nil
}

func (svc *service) Export(ctx context.Context, filter Filter, w io.Writer) error {
	receipts, err := svc.Query(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "querying receipts")
	}

	f := excelize.NewFile()
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	sheet := "Receipts"
	if err = f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	header := []interface{}{
		"Number", "Branch", "Student", "Class", "Description", "Amount", "Currency",
		"Status", "Due Date", "Paid At", "Method", "Reference",
	}
	if err = f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}

	now := core.NowFunc()
	for i, r := range receipts {
		status := r.Status
		if r.IsOverdue(now) {
			status = "overdue"
		}
		var paidAt string
		if !r.PaidAt.IsZero() {
			paidAt = r.PaidAt.Format("2006-01-02 15:04:05")
		}
		row := []interface{}{
			r.Number, r.BranchID, r.StudentID, r.ClassID, r.Description, FormatAmount(r.Amount), r.Currency,
			status, r.DueDate.Format(core.DateLayout), paidAt, r.PaymentMethod, r.Reference,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err = f.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "writing row %d", i+2)
		}
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

// VerificationURL is the public page confirming a receipt is genuine.
func (svc *service) VerificationURL(r Receipt) string {
	return fmt.Sprintf("%s/receipts/%s/verify", strings.TrimSuffix(svc.conf.FrontendBaseURL, "/"), r.Number)
}

func (svc *service) QRCode(r Receipt) ([]byte, error) {
	png, err := qrcode.Encode(svc.VerificationURL(r), qrcode.Medium, qrSize)
	if err != nil {
		return nil, errors.Wrap(err, "encoding QR code")
	}
	return png, nil
}

func (svc *service) sendReceiptMail(r Receipt, student user.User) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: student.Name, Address: student.Email}},
		Subject:      "Payment Receipt " + r.Number,
		TemplateName: "receipt_paid",
		TemplateData: map[string]string{
			"StudentName": student.Name,
			"Amount":      FormatAmount(r.Amount),
			"Currency":    r.Currency,
			"Description": r.Description,
			"Number":      r.Number,
			"PaidAt":      r.PaidAt.Format("2006-01-02 15:04"),
			"Method":      r.PaymentMethod,
		},
	}
	if png, err := svc.QRCode(r); err == nil {
		if err = msg.Attach(bytes.NewReader(png), r.Number+".png", "image/png"); err != nil {
			svc.logger.Warn("attaching receipt QR code", err)
		}
	}
	svc.mailSvc.SendMessages(msg)
}

// FormatAmount formats minor units with 2 decimals, eg: 150050 -> "1500.50".
func FormatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func (svc *service) patchCache(ctx context.Context, r Receipt) {
	key := CacheKey(r.BranchID)
	if err := core.PatchCachedList(ctx, svc.cache, key, r, receiptID); err != nil {
		svc.dropCache(ctx, key, err)
	}
}

func (svc *service) dropCache(ctx context.Context, key string, cause error) {
	svc.logger.Warn("patching receipts cache", cause, map[string]interface{}{"key": key})
	if err := svc.cache.Delete(ctx, key); err != nil {
		svc.logger.Error("evicting receipts cache", err, map[string]interface{}{"key": key})
	}
}
