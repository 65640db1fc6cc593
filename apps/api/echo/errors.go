package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/attendance"
	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// domainErrCodes maps the sentinel errors of the core packages to their HTTP status.
var domainErrCodes = map[error]int{
	user.ErrNotFound:            http.StatusNotFound,
	user.ErrUserExists:          http.StatusBadRequest,
	user.ErrEmailExists:         http.StatusBadRequest,
	user.ErrUsernameExists:      http.StatusBadRequest,
	branch.ErrNotFound:          http.StatusNotFound,
	class.ErrNotFound:           http.StatusNotFound,
	class.ErrEnrollmentNotFound: http.StatusNotFound,
	class.ErrClassFull:          http.StatusConflict,
	class.ErrClassInactive:      http.StatusConflict,
	class.ErrAlreadyEnrolled:    http.StatusConflict,
	class.ErrInvalidTransition:  http.StatusConflict,
	class.ErrNotAStudent:        http.StatusBadRequest,
	quiz.ErrNotFound:            http.StatusNotFound,
	quiz.ErrQuestionNotFound:    http.StatusNotFound,
	quiz.ErrAttemptNotFound:     http.StatusNotFound,
	quiz.ErrQuestionOutOfRange:  http.StatusNotFound,
	quiz.ErrQuizLocked:          http.StatusConflict,
	quiz.ErrNotAvailable:        http.StatusConflict,
	quiz.ErrAttemptClosed:       http.StatusConflict,
	quiz.ErrNotEnrolled:         http.StatusForbidden,
	attendance.ErrNotFound:      http.StatusNotFound,
	attendance.ErrNotEnrolled:   http.StatusBadRequest,
	fee.ErrNotFound:             http.StatusNotFound,
	fee.ErrDuplicateNumber:      http.StatusConflict,
	fee.ErrInvalidTransition:    http.StatusConflict,
	fee.ErrNotEditable:          http.StatusConflict,
	fee.ErrNotDeletable:         http.StatusConflict,
	fee.ErrNotAStudent:          http.StatusBadRequest,
}

// domainErrCode looks up the HTTP status of a core sentinel error.
// cause may be of an unhashable type (e.g. a slice of errors), so it is compared to the keys instead of indexing the map.
func domainErrCode(cause error) (int, bool) {
	for sentinel, code := range domainErrCodes {
		if cause == sentinel {
			return code, true
		}
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, trans ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(trans)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if c, ok := domainErrCode(cause); ok {
				code = c
				message = cause.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
