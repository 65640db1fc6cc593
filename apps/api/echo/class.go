package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/class"
)

const importFileField = "file"

type classApi struct {
	svc      class.Service
	access   *access
	validate *validator.Validate
}

func registerClassAPI(g *echo.Group, jwt echo.MiddlewareFunc, acc *access, svc class.Service, validate *validator.Validate) {
	api := classApi{svc: svc, access: acc, validate: validate}

	cg := g.Group("/classes", jwt)
	cg.POST("", api.create, staffMiddleware(isBranchManager))
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update, staffMiddleware(isClassStaff))
	cg.DELETE("/:id", api.destroy, staffMiddleware(isBranchManager))

	cg.GET("/:id/enrollments", api.queryEnrollments, staffMiddleware(isClassStaff))
	cg.POST("/:id/enrollments", api.enroll, staffMiddleware(isClassStaff))
	cg.POST("/:id/enrollments/import", api.importEnrollments, staffMiddleware(isClassStaff))

	eg := g.Group("/enrollments", jwt)
	eg.PUT("/:id", api.updateEnrollment, staffMiddleware(isClassStaff))
}

func (api *classApi) create(ctx echo.Context) error {
	var data class.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	ok, err := api.access.managesBranch(rctx, mustClaims(ctx), data.BranchID)
	if err != nil {
		return errors.Wrap(err, "checking branch access")
	}
	if !ok {
		return errHttpForbidden
	}

	cls, err := api.svc.CreateClass(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, cls)
}

func (api *classApi) query(ctx echo.Context) error {
	filter := new(class.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []class.Class{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	rctx := ctx.Request().Context()
	// non admins only see the classes they are involved in
	ok, err := api.access.scopeClasses(rctx, mustClaims(ctx), filter)
	if err != nil {
		return errors.Wrap(err, "scoping classes")
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []class.Class{})
	}

	classes, err := api.svc.QueryClasses(rctx, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []class.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) retrieve(ctx echo.Context) error {
	cls, err := api.access.viewableClass(ctx.Request().Context(), mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	cls, err := api.access.manageableClass(rctx, claims, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}

	var data class.UpdateClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// teachers may not reassign the class staff
	if ok, _ := api.access.managesBranch(rctx, claims, cls.BranchID); !ok && (data.TeacherID != nil || data.CoachID != nil) {
		return errHttpForbidden
	}

	cls, err = api.svc.UpdateClass(rctx, cls.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, cls)
}

func (api *classApi) destroy(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	cls, err := api.svc.GetClass(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}
	ok, err := api.access.managesBranch(rctx, mustClaims(ctx), cls.BranchID)
	if err != nil {
		return errors.Wrap(err, "checking branch access")
	}
	if !ok {
		return errHttpForbidden
	}

	if err := api.svc.DeleteClass(rctx, cls.ID); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) queryEnrollments(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	cls, err := api.access.viewableClass(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}

	var filter class.EnrollmentFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []class.Enrollment{})
	}
	filter.ClassID = cls.ID

	enrs, err := api.svc.QueryEnrollments(rctx, filter)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrs == nil {
		enrs = []class.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrs)
}

func (api *classApi) enroll(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	cls, err := api.access.manageableClass(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}

	var data class.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	enr, err := api.svc.Enroll(rctx, cls.ID, data)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *classApi) importEnrollments(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	cls, err := api.access.manageableClass(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting class")
	}

	fh, err := ctx.FormFile(importFileField)
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: importFileField, Error: "an .xlsx roster is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded roster")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()

	res, err := api.svc.ImportEnrollments(rctx, cls.ID, f)
	if err != nil {
		return errors.Wrap(err, "importing enrollments")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *classApi) updateEnrollment(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	enr, err := api.svc.GetEnrollment(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting enrollment")
	}
	if _, err = api.access.manageableClass(rctx, mustClaims(ctx), enr.ClassID); err != nil {
		return errors.Wrap(err, "getting class")
	}

	var data class.UpdateEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEnrollment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	enr, err = api.svc.SetEnrollmentStatus(rctx, enr.ID, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting enrollment status")
	}
	return ctx.JSON(http.StatusOK, enr)
}
