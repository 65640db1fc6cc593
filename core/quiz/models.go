package quiz

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

// Question kinds
const (
	KindSingleChoice   = "single_choice"
	KindMultipleChoice = "multiple_choice"
	KindTrueFalse      = "true_false"
	KindShortAnswer    = "short_answer"
)

// Attempt statuses
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusTimeout    = "timeout"
)

// Submit reasons
const (
	ReasonManual    = "manual"
	ReasonTimeout   = "timeout"
	ReasonViolation = "violation"
)

// Proctoring violation kinds
const (
	ViolationFullscreenExit    = "fullscreen_exit"
	ViolationVisibilityHidden  = "visibility_hidden"
	ViolationWebcamUnavailable = "webcam_unavailable"
	ViolationCopyPaste         = "copy_paste"
)

var (
	QuestionKinds  = []string{KindSingleChoice, KindMultipleChoice, KindTrueFalse, KindShortAnswer}
	ViolationKinds = []string{ViolationFullscreenExit, ViolationVisibilityHidden, ViolationWebcamUnavailable, ViolationCopyPaste}
)

type Quiz struct {
	ID               string    `json:"id"`
	ClassID          string    `json:"class_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimit        int       `json:"time_limit"`    // minutes, 0: untimed
	PassingScore     float64   `json:"passing_score"` // percent
	MaxAttempts      int       `json:"max_attempts"`  // 0: unlimited
	MaxViolations    int       `json:"max_violations"`
	ShuffleQuestions bool      `json:"shuffle_questions"`
	AvailableFrom    time.Time `json:"available_from"`  // zero: open-ended
	AvailableUntil   time.Time `json:"available_until"` // zero: open-ended
	IsPublished      bool      `json:"is_published"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
}

// TimeLimitDuration returns the time limit of the quiz, 0 if untimed.
func (q Quiz) TimeLimitDuration() time.Duration {
	return time.Duration(q.TimeLimit) * time.Minute
}

type Question struct {
	ID             string   `json:"id"`
	QuizID         string   `json:"quiz_id"`
	Position       int      `json:"position"`
	Kind           string   `json:"kind"`
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options"`
	CorrectAnswers []string `json:"correct_answers"`
	Points         int      `json:"points"`
}

// View strips the answers off a Question.
func (q Question) View() QuestionView {
	opts := q.Options
	if opts == nil {
		opts = []string{}
	}
	return QuestionView{
		ID:       q.ID,
		QuizID:   q.QuizID,
		Position: q.Position,
		Kind:     q.Kind,
		Prompt:   q.Prompt,
		Options:  opts,
		Points:   q.Points,
	}
}

// QuestionView is the Question as shown to students.
type QuestionView struct {
	ID       string   `json:"id"`
	QuizID   string   `json:"quiz_id"`
	Position int      `json:"position"`
	Kind     string   `json:"kind"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Points   int      `json:"points"`
}

type Attempt struct {
	ID           string    `json:"id"`
	QuizID       string    `json:"quiz_id"`
	StudentID    string    `json:"student_id"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`   // UTC
	SubmittedAt  time.Time `json:"submitted_at"` // UTC
	SubmitReason string    `json:"submit_reason"`
	Score        int       `json:"score"`
	MaxScore     int       `json:"max_score"`
	Percentage   float64   `json:"percentage"`
	Passed       bool      `json:"passed"`
	Violations   int       `json:"violations"`
}

func (a Attempt) IsClosed() bool { return a.Status != StatusInProgress }

type Response struct {
	ID            string    `json:"id"`
	AttemptID     string    `json:"attempt_id"`
	QuestionID    string    `json:"question_id"`
	Answer        []string  `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	PointsAwarded int       `json:"points_awarded"`
	AnsweredAt    time.Time `json:"answered_at"` // UTC
}

type Violation struct {
	ID         string    `json:"id"`
	AttemptID  string    `json:"attempt_id"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"` // UTC
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	ClassID          string    `json:"class_id" validate:"required,uuid"`
	Title            string    `json:"title" validate:"required,notblank"`
	Description      string    `json:"description"`
	TimeLimit        int       `json:"time_limit" validate:"min=0"`
	PassingScore     float64   `json:"passing_score" validate:"min=0,max=100"`
	MaxAttempts      int       `json:"max_attempts" validate:"min=0"`
	MaxViolations    *int      `json:"max_violations" validate:"omitempty,min=0"` // nil: default
	ShuffleQuestions bool      `json:"shuffle_questions"`
	AvailableFrom    time.Time `json:"available_from"`
	AvailableUntil   time.Time `json:"available_until"`
}

func (nq *NewQuiz) Validate(validate *validator.Validate) error {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	return validate.Struct(nq)
}

// UpdateQuiz defines what information may be provided to modify an existing Quiz.
type UpdateQuiz struct {
	Title            *string    `json:"title" validate:"omitempty,notblank"`
	Description      *string    `json:"description"`
	TimeLimit        *int       `json:"time_limit" validate:"omitempty,min=0"`
	PassingScore     *float64   `json:"passing_score" validate:"omitempty,min=0,max=100"`
	MaxAttempts      *int       `json:"max_attempts" validate:"omitempty,min=0"`
	MaxViolations    *int       `json:"max_violations" validate:"omitempty,min=0"`
	ShuffleQuestions *bool      `json:"shuffle_questions"`
	AvailableFrom    *time.Time `json:"available_from"`
	AvailableUntil   *time.Time `json:"available_until"`
}

func (uq *UpdateQuiz) Validate(validate *validator.Validate) error {
	if uq.Title != nil {
		title := core.CleanString(*uq.Title)
		uq.Title = &title
	}
	return validate.Struct(uq)
}

// NewQuestion contains information needed to add a Question to a Quiz.
type NewQuestion struct {
	Position       int      `json:"position" validate:"min=0"` // 0: append
	Kind           string   `json:"kind" validate:"required,oneof=single_choice multiple_choice true_false short_answer"`
	Prompt         string   `json:"prompt" validate:"required,notblank"`
	Options        []string `json:"options" validate:"omitempty,dive,notblank"`
	CorrectAnswers []string `json:"correct_answers" validate:"required,min=1,dive,notblank"`
	Points         int      `json:"points" validate:"min=0"` // 0: 1 point
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Prompt = core.CleanString(nq.Prompt)
	nq.Options = cleanStrings(nq.Options)
	nq.CorrectAnswers = cleanStrings(nq.CorrectAnswers)
	return validate.Struct(nq)
}

// UpdateQuestion defines what information may be provided to modify an existing Question.
type UpdateQuestion struct {
	Position       *int     `json:"position" validate:"omitempty,min=1"`
	Prompt         *string  `json:"prompt" validate:"omitempty,notblank"`
	Options        []string `json:"options" validate:"omitempty,dive,notblank"`
	CorrectAnswers []string `json:"correct_answers" validate:"omitempty,min=1,dive,notblank"`
	Points         *int     `json:"points" validate:"omitempty,min=1"`
}

func (uq *UpdateQuestion) Validate(validate *validator.Validate) error {
	if uq.Prompt != nil {
		prompt := core.CleanString(*uq.Prompt)
		uq.Prompt = &prompt
	}
	uq.Options = cleanStrings(uq.Options)
	uq.CorrectAnswers = cleanStrings(uq.CorrectAnswers)
	return validate.Struct(uq)
}

type NewAnswer struct {
	QuestionID string   `json:"question_id" validate:"required"`
	Answer     []string `json:"answer"`
}

func (na NewAnswer) Validate(validate *validator.Validate) error { return validate.Struct(na) }

type NewViolation struct {
	Kind   string `json:"kind" validate:"required,oneof=fullscreen_exit visibility_hidden webcam_unavailable copy_paste"`
	Detail string `json:"detail" validate:"max=500"`
}

func (nv NewViolation) Validate(validate *validator.Validate) error { return validate.Struct(nv) }

type QueryFilter struct {
	ClassID     string   `query:"class_id"`
	ClassIDs    []string `query:"-"`
	IsPublished *bool    `query:"is_published"`
	Search      string   `query:"search"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type AttemptFilter struct {
	QuizID    string   `query:"quiz_id"`
	QuizIDs   []string `query:"-"`
	StudentID string   `query:"student_id"`
	Statuses  []string `query:"status"`
}

// QuestionPage is one question of an attempt, as served to the student taking it.
type QuestionPage struct {
	Index            int          `json:"index"`
	Total            int          `json:"total"`
	Question         QuestionView `json:"question"`
	Answer           []string     `json:"answer"`
	RemainingSeconds int          `json:"remaining_seconds"` // -1: untimed
}

// AttemptDetails is an Attempt with its responses.
// Correct answers are only exposed once the attempt is closed.
type AttemptDetails struct {
	Attempt        Attempt             `json:"attempt"`
	Questions      []QuestionView      `json:"questions"`
	Responses      []Response          `json:"responses"`
	CorrectAnswers map[string][]string `json:"correct_answers,omitempty"` // {question_id: answers}
}

// AttemptState is the live state streamed to the student taking an attempt.
type AttemptState struct {
	Status           string `json:"status"`
	RemainingSeconds int    `json:"remaining_seconds"` // -1: untimed
}

func cleanStrings(vals []string) []string {
	if vals == nil {
		return nil
	}
	cleaned := make([]string, 0, len(vals))
	for _, v := range vals {
		cleaned = append(cleaned, core.CleanString(v))
	}
	return cleaned
}
