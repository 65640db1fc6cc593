package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/quiz"
)

type quizApi struct {
	svc      quiz.Service
	attempts quiz.AttemptService
	access   *access
	validate *validator.Validate
}

func registerQuizAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	acc *access,
	svc quiz.Service,
	attempts quiz.AttemptService,
	validate *validator.Validate,
) {
	api := quizApi{svc: svc, attempts: attempts, access: acc, validate: validate}
	staff := staffMiddleware(isClassStaff)

	qg := g.Group("/quizzes", jwt)
	qg.POST("", api.create, staff)
	qg.GET("", api.query)
	qg.GET("/:id", api.retrieve)
	qg.PUT("/:id", api.update, staff)
	qg.DELETE("/:id", api.destroy, staff)
	qg.POST("/:id/publish", api.publish, staff)
	qg.POST("/:id/unpublish", api.unpublish, staff)

	qg.GET("/:id/questions", api.queryQuestions, staff)
	qg.POST("/:id/questions", api.addQuestion, staff)
	qg.PUT("/:id/questions/:qid", api.updateQuestion, staff)
	qg.DELETE("/:id/questions/:qid", api.destroyQuestion, staff)

	qg.POST("/:id/attempts", api.startAttempt, staffMiddleware(isStudent))
	qg.GET("/:id/attempts", api.queryAttempts)
}

func (api *quizApi) create(ctx echo.Context) error {
	var data quiz.NewQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	if _, err := api.access.manageableClass(rctx, claims, data.ClassID); err != nil {
		return errors.Wrap(err, "getting class")
	}

	qz, err := api.svc.CreateQuiz(rctx, data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusCreated, qz)
}

func (api *quizApi) query(ctx echo.Context) error {
	filter := new(quiz.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Quiz{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	if !claims.IsAdmin {
		ids, err := api.access.visibleClassIDs(rctx, claims)
		if err != nil {
			return errors.Wrap(err, "getting visible classes")
		}
		if len(ids) == 0 {
			return ctx.JSON(http.StatusOK, []quiz.Quiz{})
		}
		filter.ClassIDs = ids
		if !(claims.IsBranchManager || claims.IsCoach || claims.IsTeacher) {
			published := true
			filter.IsPublished = &published
		}
	}

	quizzes, err := api.svc.QueryQuizzes(rctx, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	if quizzes == nil {
		quizzes = []quiz.Quiz{}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	qz, _, err := api.access.viewableQuiz(ctx.Request().Context(), mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) update(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}

	var data quiz.UpdateQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	qz, err = api.svc.UpdateQuiz(rctx, qz.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) destroy(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	if err := api.svc.DeleteQuiz(rctx, qz.ID); err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) publish(ctx echo.Context) error   { return api.setPublished(ctx, true) }
func (api *quizApi) unpublish(ctx echo.Context) error { return api.setPublished(ctx, false) }

func (api *quizApi) setPublished(ctx echo.Context, published bool) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	qz, err = api.svc.SetPublished(rctx, qz.ID, published)
	if err != nil {
		return errors.Wrap(err, "setting quiz published")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) queryQuestions(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	qns, err := api.svc.ListQuestions(rctx, qz.ID)
	if err != nil {
		return errors.Wrap(err, "listing questions")
	}
	if qns == nil {
		qns = []quiz.Question{}
	}
	return ctx.JSON(http.StatusOK, qns)
}

func (api *quizApi) addQuestion(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}

	var data quiz.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	qn, err := api.svc.AddQuestion(rctx, qz.ID, data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, qn)
}

func (api *quizApi) updateQuestion(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}

	var data quiz.UpdateQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuestion")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	qn, err := api.svc.UpdateQuestion(rctx, qz.ID, ctx.Param("qid"), data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, qn)
}

func (api *quizApi) destroyQuestion(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	qz, err := api.access.manageableQuiz(rctx, mustClaims(ctx), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	if err := api.svc.DeleteQuestion(rctx, qz.ID, ctx.Param("qid")); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) startAttempt(ctx echo.Context) error {
	attempt, err := api.attempts.Start(ctx.Request().Context(), ctx.Param("id"), mustClaims(ctx).Subject)
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	return ctx.JSON(http.StatusCreated, attempt)
}

// queryAttempts lists all the attempts of the quiz to class staff, and their own attempts to students.
func (api *quizApi) queryAttempts(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	claims := mustClaims(ctx)
	qz, canManage, err := api.access.viewableQuiz(rctx, claims, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}

	var filter quiz.AttemptFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []quiz.Attempt{})
	}
	filter.QuizID = qz.ID
	if !canManage {
		filter.StudentID = claims.Subject
	}

	attempts, err := api.attempts.ListAttempts(rctx, filter)
	if err != nil {
		return errors.Wrap(err, "listing attempts")
	}
	if attempts == nil {
		attempts = []quiz.Attempt{}
	}
	return ctx.JSON(http.StatusOK, attempts)
}
