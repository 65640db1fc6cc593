package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/branch"
)

type branchApi struct {
	svc      branch.Service
	access   *access
	validate *validator.Validate
}

func registerBranchAPI(g *echo.Group, jwt echo.MiddlewareFunc, acc *access, svc branch.Service, validate *validator.Validate) {
	api := branchApi{svc: svc, access: acc, validate: validate}

	bg := g.Group("/branches", jwt)
	bg.POST("", api.create, adminMiddleware())
	bg.GET("", api.query, adminMiddleware())
	bg.GET("/:id", api.retrieve, staffMiddleware(isBranchManager))
	bg.PUT("/:id", api.update, adminMiddleware())
	bg.DELETE("/:id", api.destroy, adminMiddleware())
}

func (api *branchApi) create(ctx echo.Context) error {
	var data branch.NewBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBranch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	b, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating branch")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *branchApi) query(ctx echo.Context) error {
	filter := new(branch.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []branch.Branch{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	branches, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying branches")
	}
	if branches == nil {
		branches = []branch.Branch{}
	}
	return ctx.JSON(http.StatusOK, branches)
}

func (api *branchApi) retrieve(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	ok, err := api.access.managesBranch(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "checking branch access")
	}
	if !ok {
		return errHttpNotFound
	}

	b, err := api.svc.Get(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting branch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *branchApi) update(ctx echo.Context) error {
	var data branch.UpdateBranch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateBranch")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	b, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating branch")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *branchApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting branch")
	}
	return ctx.NoContent(http.StatusNoContent)
}
