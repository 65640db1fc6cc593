package echoapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/fee"
)

type receiptApi struct {
	svc      fee.Service
	access   *access
	validate *validator.Validate
}

func registerReceiptAPI(g *echo.Group, jwt echo.MiddlewareFunc, acc *access, svc fee.Service, validate *validator.Validate) {
	api := receiptApi{svc: svc, access: acc, validate: validate}
	manager := staffMiddleware(isBranchManager)

	rg := g.Group("/receipts")

	// un-authed endpoints
	rg.GET("/verify/:number", api.verify)

	// authed endpoints
	rg.GET("", api.query, jwt)
	rg.POST("", api.issue, jwt, manager)
	rg.GET("/totals", api.totals, jwt, manager)
	rg.GET("/export", api.export, jwt, manager)
	rg.GET("/:id", api.retrieve, jwt)
	rg.GET("/:id/qr", api.qrCode, jwt)
	rg.PUT("/:id", api.update, jwt, manager)
	rg.DELETE("/:id", api.destroy, jwt, manager)
	rg.POST("/:id/payment", api.recordPayment, jwt, manager)
	rg.POST("/:id/cancel", api.cancel, jwt, manager)
	rg.POST("/:id/refund", api.refund, jwt, manager)
}

// scopeReceipts restricts filter to the receipts the user of the claims may see.
// It returns false if the user cannot see any receipt.
func (api *receiptApi) scopeReceipts(ctx context.Context, claims Claims, filter *fee.Filter) (bool, error) {
	switch {
	case claims.IsAdmin:
	case claims.IsBranchManager:
		branchID, err := api.access.managedBranchID(ctx, claims)
		if err != nil || branchID == "" {
			return false, err
		}
		filter.BranchID = branchID
	case claims.IsStudent:
		filter.StudentID = claims.Subject
	default:
		return false, nil
	}
	return true, nil
}

func (api *receiptApi) query(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)

	var filter fee.Filter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to Filter")
	}
	ok, err := api.scopeReceipts(rctx, claims, &filter)
	if err != nil {
		return errors.Wrap(err, "scoping receipts")
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []fee.Receipt{})
	}

	var receipts []fee.Receipt
	if isBranchListing(filter) {
		// the plain listing of a branch is served from the cache
		receipts, err = api.svc.List(rctx, filter.BranchID)
	} else {
		receipts, err = api.svc.Query(rctx, filter)
	}
	if err != nil {
		return errors.Wrap(err, "querying receipts")
	}
	if receipts == nil {
		receipts = []fee.Receipt{}
	}
	return ctx.JSON(http.StatusOK, receipts)
}

func isBranchListing(f fee.Filter) bool {
	return f.BranchID != "" && f.StudentID == "" && f.ClassID == "" && len(f.Statuses) == 0 &&
		f.DueFrom.IsZero() && f.DueTo.IsZero() && !f.Overdue
}

func (api *receiptApi) issue(ctx echo.Context) error {
	var data fee.NewReceipt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReceipt")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	ok, err := api.access.managesBranch(rctx, claims, data.BranchID)
	if err != nil {
		return errors.Wrap(err, "checking branch access")
	}
	if !ok {
		return errHttpForbidden
	}
	data.IssuedBy = claims.Subject

	r, err := api.svc.Issue(rctx, data)
	if err != nil {
		return errors.Wrap(err, "issuing receipt")
	}
	return ctx.JSON(http.StatusCreated, r)
}

// receipt returns the receipt of the "id" param if the user of the claims can see it.
// manage restricts the check to the staff allowed to edit it.
func (api *receiptApi) receipt(ctx echo.Context, manage bool) (fee.Receipt, error) {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	r, err := api.svc.Get(rctx, ctx.Param("id"))
	if err != nil {
		return fee.Receipt{}, err
	}
	if !manage && r.StudentID == claims.Subject {
		return r, nil
	}
	ok, err := api.access.managesBranch(rctx, claims, r.BranchID)
	if err != nil {
		return fee.Receipt{}, errors.Wrap(err, "checking branch access")
	}
	if !ok {
		return fee.Receipt{}, fee.ErrNotFound
	}
	return r, nil
}

func (api *receiptApi) retrieve(ctx echo.Context) error {
	r, err := api.receipt(ctx, false)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *receiptApi) qrCode(ctx echo.Context) error {
	r, err := api.receipt(ctx, false)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	png, err := api.svc.QRCode(r)
	if err != nil {
		return errors.Wrap(err, "generating receipt QR code")
	}
	return ctx.Blob(http.StatusOK, "image/png", png)
}

func (api *receiptApi) update(ctx echo.Context) error {
	r, err := api.receipt(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}

	var data fee.UpdateReceipt
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateReceipt")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err = api.svc.Update(ctx.Request().Context(), r.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating receipt")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *receiptApi) destroy(ctx echo.Context) error {
	r, err := api.receipt(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	if err := api.svc.Delete(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting receipt")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *receiptApi) recordPayment(ctx echo.Context) error {
	r, err := api.receipt(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}

	var data fee.Payment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Payment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err = api.svc.RecordPayment(ctx.Request().Context(), r.ID, data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *receiptApi) cancel(ctx echo.Context) error {
	r, err := api.receipt(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	r, err = api.svc.Cancel(ctx.Request().Context(), r.ID)
	if err != nil {
		return errors.Wrap(err, "cancelling receipt")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *receiptApi) refund(ctx echo.Context) error {
	r, err := api.receipt(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting receipt")
	}
	r, err = api.svc.Refund(ctx.Request().Context(), r.ID)
	if err != nil {
		return errors.Wrap(err, "refunding receipt")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *receiptApi) totals(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	branchID := ctx.QueryParam("branch_id")
	claims := mustClaims(ctx)
	if !claims.IsAdmin {
		id, err := api.access.managedBranchID(rctx, claims)
		if err != nil {
			return errors.Wrap(err, "getting managed branch")
		}
		branchID = id
	}
	if branchID == "" {
		return errHttpNotFound
	}

	totals, err := api.svc.Totals(rctx, branchID)
	if err != nil {
		return errors.Wrap(err, "computing receipt totals")
	}
	return ctx.JSON(http.StatusOK, totals)
}

func (api *receiptApi) export(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	var filter fee.Filter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to Filter")
	}
	ok, err := api.scopeReceipts(rctx, mustClaims(ctx), &filter)
	if err != nil {
		return errors.Wrap(err, "scoping receipts")
	}
	if !ok {
		return errHttpForbidden
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, xlsxContentType)
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="receipts.xlsx"`)
	resp.WriteHeader(http.StatusOK)
	return errors.Wrap(api.svc.Export(rctx, filter, resp), "exporting receipts")
}

// ReceiptVerification is what anyone holding a receipt may learn about it.
type ReceiptVerification struct {
	Number   string    `json:"number"`
	Status   string    `json:"status"`
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	DueDate  time.Time `json:"due_date"`
	PaidAt   time.Time `json:"paid_at"`
}

func (api *receiptApi) verify(ctx echo.Context) error {
	r, err := api.svc.GetByNumber(ctx.Request().Context(), ctx.Param("number"))
	if err != nil {
		return errors.Wrap(err, "getting receipt by number")
	}
	return ctx.JSON(http.StatusOK, ReceiptVerification{
		Number:   r.Number,
		Status:   r.Status,
		Amount:   r.Amount,
		Currency: r.Currency,
		DueDate:  r.DueDate,
		PaidAt:   r.PaidAt,
	})
}
