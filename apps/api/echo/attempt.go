package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/quiz"
)

const (
	watchTick         = time.Second
	watchWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type attemptApi struct {
	svc      quiz.AttemptService
	access   *access
	validate *validator.Validate
	logger   core.Logger
}

func registerAttemptAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	wsJWT echo.MiddlewareFunc, // browsers cannot set headers on websocket handshakes
	acc *access,
	svc quiz.AttemptService,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := attemptApi{svc: svc, access: acc, validate: validate, logger: logger}
	student := staffMiddleware(isStudent)

	ag := g.Group("/attempts")
	ag.GET("/:id", api.retrieve, jwt)
	ag.GET("/:id/violations", api.queryViolations, jwt)
	ag.GET("/:id/questions/:index", api.question, jwt, student)
	ag.POST("/:id/answers", api.answer, jwt, student)
	ag.POST("/:id/violations", api.reportViolation, jwt, student)
	ag.POST("/:id/submit", api.submit, jwt, student)
	ag.GET("/:id/state", api.state, jwt, student)
	ag.GET("/:id/watch", api.watch, wsJWT, student)
}

// canReview reports whether the user of the claims may look at the attempt: its student or the class staff.
func (api *attemptApi) canReview(ctx echo.Context, attempt quiz.Attempt) error {
	claims := mustClaims(ctx)
	if attempt.StudentID == claims.Subject {
		return nil
	}
	if _, err := api.access.manageableQuiz(ctx.Request().Context(), claims, attempt.QuizID); err != nil {
		if errors.Cause(err) == errHttpForbidden {
			return quiz.ErrAttemptNotFound
		}
		return err
	}
	return nil
}

func (api *attemptApi) retrieve(ctx echo.Context) error {
	details, err := api.svc.GetAttempt(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting attempt")
	}
	if err := api.canReview(ctx, details.Attempt); err != nil {
		return errors.Wrap(err, "checking attempt access")
	}
	return ctx.JSON(http.StatusOK, details)
}

func (api *attemptApi) queryViolations(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	details, err := api.svc.GetAttempt(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting attempt")
	}
	if err := api.canReview(ctx, details.Attempt); err != nil {
		return errors.Wrap(err, "checking attempt access")
	}

	violations, err := api.svc.ListViolations(rctx, details.Attempt.ID)
	if err != nil {
		return errors.Wrap(err, "listing violations")
	}
	if violations == nil {
		violations = []quiz.Violation{}
	}
	return ctx.JSON(http.StatusOK, violations)
}

func (api *attemptApi) question(ctx echo.Context) error {
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		return quiz.ErrQuestionOutOfRange
	}
	page, err := api.svc.Question(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject, index)
	if err != nil {
		return errors.Wrap(err, "getting attempt question")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *attemptApi) answer(ctx echo.Context) error {
	var data quiz.NewAnswer
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnswer")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	resp, err := api.svc.Answer(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject, data)
	if err != nil {
		return errors.Wrap(err, "answering question")
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *attemptApi) reportViolation(ctx echo.Context) error {
	var data quiz.NewViolation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewViolation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	attempt, err := api.svc.ReportViolation(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject, data)
	if err != nil {
		return errors.Wrap(err, "reporting violation")
	}
	return ctx.JSON(http.StatusOK, attempt)
}

func (api *attemptApi) submit(ctx echo.Context) error {
	attempt, err := api.svc.Submit(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject)
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusOK, attempt)
}

func (api *attemptApi) state(ctx echo.Context) error {
	state, err := api.svc.State(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject)
	if err != nil {
		return errors.Wrap(err, "getting attempt state")
	}
	return ctx.JSON(http.StatusOK, state)
}

// watch streams the AttemptState every second until the attempt closes.
// Violations may be reported over the same connection.
func (api *attemptApi) watch(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	attemptID, studentID := ctx.Param("id"), mustClaims(ctx).Subject

	// fail before upgrading so that the client gets a proper HTTP error
	state, err := api.svc.State(rctx, attemptID, studentID)
	if err != nil {
		return errors.Wrap(err, "getting attempt state")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}
	//goland:noinspection GoUnhandledErrorResult
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var nv quiz.NewViolation
			if err := conn.ReadJSON(&nv); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					api.logger.Warn("reading attempt watch message", err)
				}
				return
			}
			if err := nv.Validate(api.validate); err != nil {
				continue
			}
			if _, err := api.svc.ReportViolation(rctx, attemptID, studentID, nv); err != nil &&
				errors.Cause(err) != quiz.ErrAttemptClosed {
				api.logger.Error("reporting violation", err)
			}
		}
	}()

	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(state); err != nil {
			return nil
		}
		if state.Status != quiz.StatusInProgress {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, state.Status)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
			return nil
		}

		select {
		case <-done:
			return nil
		case <-rctx.Done():
			return nil
		case <-ticker.C:
		}

		if state, err = api.svc.State(rctx, attemptID, studentID); err != nil {
			api.logger.Error("getting attempt state", err)
			return nil
		}
	}
}
