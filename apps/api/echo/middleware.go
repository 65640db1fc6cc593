package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && claims.hasAnyRole(roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets through admins and anyone holding one of the staff flags picked by allow.
func staffMiddleware(allow func(Claims) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || allow(claims) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func isStudent(c Claims) bool       { return c.IsStudent }
func isBranchManager(c Claims) bool { return c.IsBranchManager }

func isClassStaff(c Claims) bool {
	return c.IsBranchManager || c.IsTeacher || c.IsCoach
}
