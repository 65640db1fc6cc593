package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/class"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type attendanceApi struct {
	svc      attendance.Service
	access   *access
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, acc *access, svc attendance.Service, validate *validator.Validate) {
	api := attendanceApi{svc: svc, access: acc, validate: validate}
	staff := staffMiddleware(isClassStaff)

	ag := g.Group("/attendance", jwt)
	ag.GET("", api.query)
	ag.POST("", api.mark, staff)
	ag.POST("/bulk", api.markBulk, staff)
	ag.GET("/summary", api.summary)
	ag.GET("/export", api.export, staff)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update, staff)
	ag.DELETE("/:id", api.destroy, staff)
}

// scopeRecords restricts filter to the records the user of the claims may see.
// It returns false if the user cannot see any record.
func (api *attendanceApi) scopeRecords(ctx context.Context, claims Claims, filter *attendance.Filter) (bool, error) {
	if claims.IsAdmin {
		return true, nil
	}
	if claims.IsStudent && !(claims.IsTeacher || claims.IsCoach || claims.IsBranchManager) {
		filter.StudentID = claims.Subject
		return true, nil
	}

	if filter.ClassID != "" {
		_, err := api.access.viewableClass(ctx, claims, filter.ClassID)
		if errors.Cause(err) == class.ErrNotFound {
			return false, nil
		}
		return err == nil, err
	}

	switch {
	case claims.IsBranchManager:
		branchID, err := api.access.managedBranchID(ctx, claims)
		if err != nil || branchID == "" {
			return false, err
		}
		filter.BranchID = branchID
	case claims.IsTeacher:
		filter.TeacherID = claims.Subject
	default: // coaches go through their classes
		return false, nil
	}
	return true, nil
}

func (api *attendanceApi) bindFilter(ctx echo.Context) (attendance.Filter, bool, error) {
	var filter attendance.Filter
	if err := ctx.Bind(&filter); err != nil {
		return filter, false, errors.Wrap(err, "binding to Filter")
	}
	ok, err := api.scopeRecords(ctx.Request().Context(), mustClaims(ctx), &filter)
	return filter, ok, errors.Wrap(err, "scoping attendance records")
}

func (api *attendanceApi) query(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)

	// the plain listing of a teacher is served from the cache
	if claims.IsTeacher && !(claims.IsAdmin || claims.IsBranchManager) && len(ctx.QueryParams()) == 0 {
		records, err := api.svc.List(rctx, claims.Subject)
		if err != nil {
			return errors.Wrap(err, "listing attendance records")
		}
		if records == nil {
			records = []attendance.Record{}
		}
		return ctx.JSON(http.StatusOK, records)
	}

	filter, ok, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []attendance.Record{})
	}

	records, err := api.svc.Query(rctx, filter)
	if err != nil {
		return errors.Wrap(err, "querying attendance records")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	var data attendance.NewRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	if _, err := api.access.manageableClass(rctx, claims, data.ClassID); err != nil {
		return errors.Wrap(err, "getting class")
	}
	data.MarkedBy = claims.Subject

	rec, err := api.svc.Mark(rctx, data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) markBulk(ctx echo.Context) error {
	var data attendance.BulkMark
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkMark")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	if _, err := api.access.manageableClass(rctx, claims, data.ClassID); err != nil {
		return errors.Wrap(err, "getting class")
	}
	data.MarkedBy = claims.Subject

	records, err := api.svc.MarkBulk(rctx, data)
	if err != nil {
		return errors.Wrap(err, "marking class attendance")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) summary(ctx echo.Context) error {
	filter, ok, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, attendance.Summary{})
	}

	s, err := api.svc.Summary(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "summarizing attendance")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *attendanceApi) export(ctx echo.Context) error {
	filter, ok, err := api.bindFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpForbidden
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, xlsxContentType)
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="attendance.xlsx"`)
	resp.WriteHeader(http.StatusOK)
	return errors.Wrap(api.svc.Export(ctx.Request().Context(), filter, resp), "exporting attendance")
}

// record returns the record of the "id" param if the user of the claims can view it.
// manage tightens the check to the staff allowed to edit it.
func (api *attendanceApi) record(ctx echo.Context, manage bool) (attendance.Record, error) {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	rec, err := api.svc.Get(rctx, ctx.Param("id"))
	if err != nil {
		return attendance.Record{}, err
	}
	if !manage && rec.StudentID == claims.Subject {
		return rec, nil
	}

	if manage {
		_, err = api.access.manageableClass(rctx, claims, rec.ClassID)
	} else {
		_, err = api.access.viewableClass(rctx, claims, rec.ClassID)
		if err == nil && claims.IsStudent && !(claims.IsTeacher || claims.IsCoach || claims.IsBranchManager || claims.IsAdmin) {
			err = attendance.ErrNotFound // classmates do not see each other records
		}
	}
	switch errors.Cause(err) {
	case nil:
		return rec, nil
	case class.ErrNotFound:
		return attendance.Record{}, attendance.ErrNotFound
	default:
		return attendance.Record{}, err
	}
}

func (api *attendanceApi) retrieve(ctx echo.Context) error {
	rec, err := api.record(ctx, false)
	if err != nil {
		return errors.Wrap(err, "getting attendance record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) update(ctx echo.Context) error {
	rec, err := api.record(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting attendance record")
	}

	var data attendance.UpdateRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err = api.svc.Update(ctx.Request().Context(), rec.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating attendance record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *attendanceApi) destroy(ctx echo.Context) error {
	rec, err := api.record(ctx, true)
	if err != nil {
		return errors.Wrap(err, "getting attendance record")
	}
	if err := api.svc.Delete(ctx.Request().Context(), rec.ID); err != nil {
		return errors.Wrap(err, "deleting attendance record")
	}
	return ctx.NoContent(http.StatusNoContent)
}
