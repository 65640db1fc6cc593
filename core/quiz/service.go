package quiz

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

var (
	// errors
	ErrNotFound           = errors.New("quiz not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrQuizLocked         = errors.New("quiz already has attempts, questions can no longer be added, removed or reordered")
	ErrNotAvailable       = errors.New("quiz is not available")
	ErrNotEnrolled        = errors.New("student is not actively enrolled in the class of this quiz")
	ErrAttemptClosed      = errors.New("attempt is closed")
	ErrQuestionOutOfRange = errors.New("question index out of range")
)

type (
	Repository interface {
		CreateQuiz(ctx context.Context, q Quiz) (Quiz, error)
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		QueryQuizzes(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, q Quiz) (Quiz, error)
		DeleteQuiz(ctx context.Context, id string) error

		CreateQuestion(ctx context.Context, qn Question) (Question, error)
		GetQuestion(ctx context.Context, id string) (Question, error)
		// ListQuestions returns the questions of a quiz ordered by position.
		ListQuestions(ctx context.Context, quizID string) ([]Question, error)
		UpdateQuestions(ctx context.Context, qns ...Question) error
		DeleteQuestion(ctx context.Context, id string) error

		CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
		GetAttempt(ctx context.Context, id string) (Attempt, error)
		// QueryAttempts returns attempts ordered by start time.
		QueryAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
		// UpdateAttempt saves an in-progress attempt, ErrAttemptClosed if it was closed meanwhile.
		UpdateAttempt(ctx context.Context, a Attempt) (Attempt, error)
		// FinalizeAttempt saves the closing state of an in-progress attempt and the graded responses.
		// It returns ErrAttemptClosed if the attempt was already closed.
		FinalizeAttempt(ctx context.Context, a Attempt, graded []Response) (Attempt, error)

		UpsertResponse(ctx context.Context, resp Response) (Response, error)
		ListResponses(ctx context.Context, attemptID string) ([]Response, error)
		CreateViolation(ctx context.Context, v Violation) (Violation, error)
		ListViolations(ctx context.Context, attemptID string) ([]Violation, error)
	}

	// Service manages quizzes & their questions.
	Service interface {
		CreateQuiz(ctx context.Context, nq NewQuiz, createdBy string) (Quiz, error)
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		QueryQuizzes(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error)
		DeleteQuiz(ctx context.Context, id string) error
		SetPublished(ctx context.Context, id string, published bool) (Quiz, error)

		AddQuestion(ctx context.Context, quizID string, nq NewQuestion) (Question, error)
		UpdateQuestion(ctx context.Context, quizID, questionID string, uq UpdateQuestion) (Question, error)
		DeleteQuestion(ctx context.Context, quizID, questionID string) error
		ListQuestions(ctx context.Context, quizID string) ([]Question, error)
	}

	service struct {
		repo Repository
		conf *core.Config
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, conf *core.Config) Service {
	return &service{repo: repo, conf: conf}
}

func (svc *service) CreateQuiz(ctx context.Context, nq NewQuiz, createdBy string) (Quiz, error) {
	maxViolations := svc.conf.Quiz.DefaultMaxViolations
	if nq.MaxViolations != nil {
		maxViolations = *nq.MaxViolations
	}
	now := core.NowFunc()
	return svc.repo.CreateQuiz(ctx, Quiz{
		ClassID:          nq.ClassID,
		Title:            nq.Title,
		Description:      nq.Description,
		TimeLimit:        nq.TimeLimit,
		PassingScore:     nq.PassingScore,
		MaxAttempts:      nq.MaxAttempts,
		MaxViolations:    maxViolations,
		ShuffleQuestions: nq.ShuffleQuestions,
		AvailableFrom:    utcOrZero(nq.AvailableFrom),
		AvailableUntil:   utcOrZero(nq.AvailableUntil),
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

func (svc *service) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	if id == "" {
		return Quiz{}, ErrNotFound
	}
	return svc.repo.GetQuiz(ctx, id)
}

func (svc *service) QueryQuizzes(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Quiz, error) {
	return svc.repo.QueryQuizzes(ctx, filter, ordering)
}

func (svc *service) UpdateQuiz(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error) {
	q, err := svc.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if uq.Title != nil {
		q.Title = *uq.Title
	}
	if uq.Description != nil {
		q.Description = core.CleanString(*uq.Description)
	}
	if uq.TimeLimit != nil {
		q.TimeLimit = *uq.TimeLimit
	}
	if uq.PassingScore != nil {
		q.PassingScore = *uq.PassingScore
	}
	if uq.MaxAttempts != nil {
		q.MaxAttempts = *uq.MaxAttempts
	}
	if uq.MaxViolations != nil {
		q.MaxViolations = *uq.MaxViolations
	}
	if uq.ShuffleQuestions != nil {
		q.ShuffleQuestions = *uq.ShuffleQuestions
	}
	if uq.AvailableFrom != nil {
		q.AvailableFrom = utcOrZero(*uq.AvailableFrom)
	}
	if uq.AvailableUntil != nil {
		q.AvailableUntil = utcOrZero(*uq.AvailableUntil)
	}
	if !q.AvailableFrom.IsZero() && !q.AvailableUntil.IsZero() && q.AvailableUntil.Before(q.AvailableFrom) {
		return Quiz{}, core.NewValidationError(nil, core.FieldError{
			Field: "available_until",
			Error: "available_until must be after available_from",
		})
	}
	q.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateQuiz(ctx, q)
}

func (svc *service) DeleteQuiz(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	return svc.repo.DeleteQuiz(ctx, id)
}

func (svc *service) SetPublished(ctx context.Context, id string, published bool) (Quiz, error) {
	q, err := svc.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if q.IsPublished == published {
		return q, nil
	}
	q.IsPublished = published
	q.UpdatedAt = core.NowFunc()
	return svc.repo.UpdateQuiz(ctx, q)
}

// isLocked reports whether the quiz has attempts.
func (svc *service) isLocked(ctx context.Context, quizID string) (bool, error) {
	attempts, err := svc.repo.QueryAttempts(ctx, AttemptFilter{QuizID: quizID})
	if err != nil {
		return false, errors.Wrap(err, "querying attempts")
	}
	return len(attempts) > 0, nil
}

func (svc *service) AddQuestion(ctx context.Context, quizID string, nq NewQuestion) (Question, error) {
	if _, err := svc.GetQuiz(ctx, quizID); err != nil {
		return Question{}, err
	}
	locked, err := svc.isLocked(ctx, quizID)
	if err != nil {
		return Question{}, err
	}
	if locked {
		return Question{}, ErrQuizLocked
	}

	questions, err := svc.repo.ListQuestions(ctx, quizID)
	if err != nil {
		return Question{}, errors.Wrap(err, "listing questions")
	}

	qn := Question{
		QuizID:         quizID,
		Kind:           nq.Kind,
		Prompt:         nq.Prompt,
		Options:        nq.Options,
		CorrectAnswers: nq.CorrectAnswers,
		Points:         nq.Points,
	}
	if qn.Points == 0 {
		qn.Points = 1
	}
	if qn.Kind == KindTrueFalse {
		qn.Options = []string{"true", "false"}
		qn.CorrectAnswers = []string{core.CleanString(qn.CorrectAnswers[0], true /* lower */)}
	}
	if qn.Options == nil {
		qn.Options = []string{}
	}

	// append, or insert & shift the following questions down
	pos := nq.Position
	if pos <= 0 || pos > len(questions) {
		qn.Position = len(questions) + 1
	} else {
		qn.Position = pos
		shifted := make([]Question, 0, len(questions))
		for _, other := range questions {
			if other.Position >= pos {
				other.Position++
				shifted = append(shifted, other)
			}
		}
		if err = svc.repo.UpdateQuestions(ctx, shifted...); err != nil {
			return Question{}, errors.Wrap(err, "shifting questions")
		}
	}
	return svc.repo.CreateQuestion(ctx, qn)
}

func (svc *service) getQuestion(ctx context.Context, quizID, questionID string) (Question, error) {
	if questionID == "" {
		return Question{}, ErrQuestionNotFound
	}
	qn, err := svc.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return Question{}, err
	}
	if qn.QuizID != quizID {
		return Question{}, ErrQuestionNotFound
	}
	return qn, nil
}

func (svc *service) UpdateQuestion(ctx context.Context, quizID, questionID string, uq UpdateQuestion) (Question, error) {
	qn, err := svc.getQuestion(ctx, quizID, questionID)
	if err != nil {
		return Question{}, err
	}
	if uq.Prompt != nil {
		qn.Prompt = *uq.Prompt
	}
	if uq.Options != nil && qn.Kind != KindTrueFalse {
		qn.Options = uq.Options
	}
	if uq.CorrectAnswers != nil {
		qn.CorrectAnswers = uq.CorrectAnswers
		if qn.Kind == KindTrueFalse {
			qn.CorrectAnswers = []string{core.CleanString(uq.CorrectAnswers[0], true /* lower */)}
		}
	}
	if uq.Points != nil {
		qn.Points = *uq.Points
	}
	if err = validateAnswers(qn.Kind, qn.Options, qn.CorrectAnswers); err != nil {
		return Question{}, err
	}

	toSave := []Question{qn}
	if uq.Position != nil && *uq.Position != qn.Position {
		locked, err := svc.isLocked(ctx, quizID)
		if err != nil {
			return Question{}, err
		}
		if locked {
			return Question{}, ErrQuizLocked
		}
		questions, err := svc.repo.ListQuestions(ctx, quizID)
		if err != nil {
			return Question{}, errors.Wrap(err, "listing questions")
		}
		toSave = reorder(questions, qn, *uq.Position)
		for _, other := range toSave {
			if other.ID == qn.ID {
				qn = other
			}
		}
	}

	if err = svc.repo.UpdateQuestions(ctx, toSave...); err != nil {
		return Question{}, errors.Wrap(err, "updating questions")
	}
	return qn, nil
}

func (svc *service) DeleteQuestion(ctx context.Context, quizID, questionID string) error {
	qn, err := svc.getQuestion(ctx, quizID, questionID)
	if err != nil {
		return err
	}
	locked, err := svc.isLocked(ctx, quizID)
	if err != nil {
		return err
	}
	if locked {
		return ErrQuizLocked
	}
	if err = svc.repo.DeleteQuestion(ctx, qn.ID); err != nil {
		return errors.Wrap(err, "deleting question")
	}

	// close the gap
	questions, err := svc.repo.ListQuestions(ctx, quizID)
	if err != nil {
		return errors.Wrap(err, "listing questions")
	}
	shifted := make([]Question, 0, len(questions))
	for _, other := range questions {
		if other.Position > qn.Position {
			other.Position--
			shifted = append(shifted, other)
		}
	}
	return svc.repo.UpdateQuestions(ctx, shifted...)
}

func (svc *service) ListQuestions(ctx context.Context, quizID string) ([]Question, error) {
	if _, err := svc.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	return svc.repo.ListQuestions(ctx, quizID)
}

// reorder moves qn to position pos (clamped) and renumbers the questions 1..n.
func reorder(questions []Question, qn Question, pos int) []Question {
	others := make([]Question, 0, len(questions))
	for _, other := range questions {
		if other.ID != qn.ID {
			others = append(others, other)
		}
	}
	sort.SliceStable(others, func(i, j int) bool { return others[i].Position < others[j].Position })

	if pos < 1 {
		pos = 1
	}
	if pos > len(others)+1 {
		pos = len(others) + 1
	}
	ordered := make([]Question, 0, len(others)+1)
	ordered = append(ordered, others[:pos-1]...)
	ordered = append(ordered, qn)
	ordered = append(ordered, others[pos-1:]...)
	for i := range ordered {
		ordered[i].Position = i + 1
	}
	return ordered
}

func utcOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
