package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/dashboard"
)

// Dashboard views
const (
	viewStudent = "student"
	viewTeacher = "teacher"
	viewCoach   = "coach"
	viewManager = "manager"
)

type dashboardApi struct {
	svc dashboard.Service
}

func registerDashboardAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc dashboard.Service) {
	api := dashboardApi{svc: svc}

	dg := g.Group("/dashboard", jwt)
	dg.GET("", api.retrieve)
	dg.GET("/:view", api.retrieve)
}

// defaultView picks the most privileged dashboard of the user of the claims, "" if none.
func defaultView(claims Claims) string {
	switch {
	case claims.IsBranchManager:
		return viewManager
	case claims.IsCoach:
		return viewCoach
	case claims.IsTeacher:
		return viewTeacher
	case claims.IsStudent:
		return viewStudent
	default:
		return ""
	}
}

func (api *dashboardApi) retrieve(ctx echo.Context) error {
	claims := mustClaims(ctx)
	view := ctx.Param("view")
	if view == "" {
		view = ctx.QueryParam("view")
	}
	if view == "" {
		view = defaultView(claims)
	}

	rctx := ctx.Request().Context()
	var data interface{}
	var err error
	switch {
	case view == viewStudent && claims.IsStudent:
		data, err = api.svc.Student(rctx, claims.Subject)
	case view == viewTeacher && claims.IsTeacher:
		data, err = api.svc.Teacher(rctx, claims.Subject)
	case view == viewCoach && claims.IsCoach:
		data, err = api.svc.Coach(rctx, claims.Subject)
	case view == viewManager && claims.IsBranchManager:
		data, err = api.svc.BranchManager(rctx, claims.Subject)
	default:
		return errHttpForbidden
	}
	if err != nil {
		return errors.Wrapf(err, "building %s dashboard", view)
	}
	return ctx.JSON(http.StatusOK, echo.Map{"view": view, "dashboard": data})
}
