package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/quiz"
)

const (
	quizColumns = `id, class_id, title, description, time_limit, passing_score, max_attempts, max_violations,
		shuffle_questions, available_from, available_until, is_published, created_by, created_at, updated_at`
	questionColumns  = `id, quiz_id, position, kind, prompt, options, correct_answers, points`
	attemptColumns   = `id, quiz_id, student_id, status, started_at, submitted_at, submit_reason, score, max_score, percentage, passed, violations`
	responseColumns  = `id, attempt_id, question_id, answer, is_correct, points_awarded, answered_at`
	violationColumns = `id, attempt_id, kind, detail, occurred_at`
)

type (
	quizRow struct {
		ID               string      `db:"id"`
		ClassID          string      `db:"class_id"`
		Title            string      `db:"title"`
		Description      string      `db:"description"`
		TimeLimit        int         `db:"time_limit"`
		PassingScore     float64     `db:"passing_score"`
		MaxAttempts      int         `db:"max_attempts"`
		MaxViolations    int         `db:"max_violations"`
		ShuffleQuestions bool        `db:"shuffle_questions"`
		AvailableFrom    null.Time   `db:"available_from"`
		AvailableUntil   null.Time   `db:"available_until"`
		IsPublished      bool        `db:"is_published"`
		CreatedBy        null.String `db:"created_by"`
		CreatedAt        time.Time   `db:"created_at"`
		UpdatedAt        time.Time   `db:"updated_at"`
	}

	questionRow struct {
		ID             string         `db:"id"`
		QuizID         string         `db:"quiz_id"`
		Position       int            `db:"position"`
		Kind           string         `db:"kind"`
		Prompt         string         `db:"prompt"`
		Options        pq.StringArray `db:"options"`
		CorrectAnswers pq.StringArray `db:"correct_answers"`
		Points         int            `db:"points"`
	}

	attemptRow struct {
		ID           string    `db:"id"`
		QuizID       string    `db:"quiz_id"`
		StudentID    string    `db:"student_id"`
		Status       string    `db:"status"`
		StartedAt    time.Time `db:"started_at"`
		SubmittedAt  null.Time `db:"submitted_at"`
		SubmitReason string    `db:"submit_reason"`
		Score        int       `db:"score"`
		MaxScore     int       `db:"max_score"`
		Percentage   float64   `db:"percentage"`
		Passed       bool      `db:"passed"`
		Violations   int       `db:"violations"`
	}

	responseRow struct {
		ID            string         `db:"id"`
		AttemptID     string         `db:"attempt_id"`
		QuestionID    string         `db:"question_id"`
		Answer        pq.StringArray `db:"answer"`
		IsCorrect     bool           `db:"is_correct"`
		PointsAwarded int            `db:"points_awarded"`
		AnsweredAt    time.Time      `db:"answered_at"`
	}

	violationRow struct {
		ID         string    `db:"id"`
		AttemptID  string    `db:"attempt_id"`
		Kind       string    `db:"kind"`
		Detail     string    `db:"detail"`
		OccurredAt time.Time `db:"occurred_at"`
	}
)

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func timeOrZero(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

type quizRepository struct {
	db *sqlx.DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) boil(q quiz.Quiz) quizRow {
	return quizRow{
		ID:               q.ID,
		ClassID:          q.ClassID,
		Title:            q.Title,
		Description:      q.Description,
		TimeLimit:        q.TimeLimit,
		PassingScore:     q.PassingScore,
		MaxAttempts:      q.MaxAttempts,
		MaxViolations:    q.MaxViolations,
		ShuffleQuestions: q.ShuffleQuestions,
		AvailableFrom:    nullTime(q.AvailableFrom),
		AvailableUntil:   nullTime(q.AvailableUntil),
		IsPublished:      q.IsPublished,
		CreatedBy:        null.NewString(q.CreatedBy, q.CreatedBy != ""),
		CreatedAt:        q.CreatedAt.UTC(),
		UpdatedAt:        q.UpdatedAt.UTC(),
	}
}

func (repo *quizRepository) unboil(row quizRow) quiz.Quiz {
	return quiz.Quiz{
		ID:               row.ID,
		ClassID:          row.ClassID,
		Title:            row.Title,
		Description:      row.Description,
		TimeLimit:        row.TimeLimit,
		PassingScore:     row.PassingScore,
		MaxAttempts:      row.MaxAttempts,
		MaxViolations:    row.MaxViolations,
		ShuffleQuestions: row.ShuffleQuestions,
		AvailableFrom:    timeOrZero(row.AvailableFrom),
		AvailableUntil:   timeOrZero(row.AvailableUntil),
		IsPublished:      row.IsPublished,
		CreatedBy:        row.CreatedBy.String,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func boilQuestion(qn quiz.Question) questionRow {
	return questionRow{
		ID:             qn.ID,
		QuizID:         qn.QuizID,
		Position:       qn.Position,
		Kind:           qn.Kind,
		Prompt:         qn.Prompt,
		Options:        qn.Options,
		CorrectAnswers: qn.CorrectAnswers,
		Points:         qn.Points,
	}
}

func unboilQuestion(row questionRow) quiz.Question {
	return quiz.Question{
		ID:             row.ID,
		QuizID:         row.QuizID,
		Position:       row.Position,
		Kind:           row.Kind,
		Prompt:         row.Prompt,
		Options:        row.Options,
		CorrectAnswers: row.CorrectAnswers,
		Points:         row.Points,
	}
}

func boilAttempt(a quiz.Attempt) attemptRow {
	return attemptRow{
		ID:           a.ID,
		QuizID:       a.QuizID,
		StudentID:    a.StudentID,
		Status:       a.Status,
		StartedAt:    a.StartedAt.UTC(),
		SubmittedAt:  nullTime(a.SubmittedAt),
		SubmitReason: a.SubmitReason,
		Score:        a.Score,
		MaxScore:     a.MaxScore,
		Percentage:   a.Percentage,
		Passed:       a.Passed,
		Violations:   a.Violations,
	}
}

func unboilAttempt(row attemptRow) quiz.Attempt {
	return quiz.Attempt{
		ID:           row.ID,
		QuizID:       row.QuizID,
		StudentID:    row.StudentID,
		Status:       row.Status,
		StartedAt:    row.StartedAt.UTC(),
		SubmittedAt:  timeOrZero(row.SubmittedAt),
		SubmitReason: row.SubmitReason,
		Score:        row.Score,
		MaxScore:     row.MaxScore,
		Percentage:   row.Percentage,
		Passed:       row.Passed,
		Violations:   row.Violations,
	}
}

func unboilResponse(row responseRow) quiz.Response {
	return quiz.Response{
		ID:            row.ID,
		AttemptID:     row.AttemptID,
		QuestionID:    row.QuestionID,
		Answer:        row.Answer,
		IsCorrect:     row.IsCorrect,
		PointsAwarded: row.PointsAwarded,
		AnsweredAt:    row.AnsweredAt.UTC(),
	}
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	q.ID = newID()
	row := repo.boil(q)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO quiz (`+quizColumns+`)
		VALUES (:id, :class_id, :title, :description, :time_limit, :passing_score, :max_attempts, :max_violations,
			:shuffle_questions, :available_from, :available_until, :is_published, :created_by, :created_at, :updated_at)`,
		row)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "inserting quiz")
	}
	return repo.unboil(row), nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	if !isUUID(id) {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	var row quizRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+quizColumns+` FROM quiz WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return quiz.Quiz{}, quiz.ErrNotFound
		}
		return quiz.Quiz{}, errors.Wrap(err, "finding quiz by ID")
	}
	return repo.unboil(row), nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, filter *quiz.QueryFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	w := new(where)
	if filter != nil {
		if filter.ClassID != "" {
			w.add("class_id::text = ?", filter.ClassID)
		}
		if len(filter.ClassIDs) > 0 {
			w.add("class_id::text IN (?)", filter.ClassIDs)
		}
		if filter.IsPublished != nil {
			w.add("is_published = ?", *filter.IsPublished)
		}
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(title ILIKE ? OR description ILIKE ?)", val, val)
		}
	}

	var rows []quizRow
	order := orderBy(ordering, []string{"title", "available_from", "available_until", "created_at"},
		core.DBOrdering{Field: "created_at", Ascending: true})
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+quizColumns+` FROM quiz`, w, order); err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	quizzes := make([]quiz.Quiz, 0, len(rows))
	for _, row := range rows {
		quizzes = append(quizzes, repo.unboil(row))
	}
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	row := repo.boil(q)
	res, err := repo.db.NamedExecContext(ctx, `
		UPDATE quiz SET
			title = :title, description = :description, time_limit = :time_limit, passing_score = :passing_score,
			max_attempts = :max_attempts, max_violations = :max_violations, shuffle_questions = :shuffle_questions,
			available_from = :available_from, available_until = :available_until, is_published = :is_published,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return repo.unboil(row), nil
}

func (repo *quizRepository) DeleteQuiz(ctx context.Context, id string) error {
	if !isUUID(id) {
		return quiz.ErrNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM quiz WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	if !ok {
		return quiz.ErrNotFound
	}
	return nil
}

func (repo *quizRepository) CreateQuestion(ctx context.Context, qn quiz.Question) (quiz.Question, error) {
	qn.ID = newID()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO question (`+questionColumns+`)
		VALUES (:id, :quiz_id, :position, :kind, :prompt, :options, :correct_answers, :points)`, boilQuestion(qn))
	if err != nil {
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	return qn, nil
}

func (repo *quizRepository) GetQuestion(ctx context.Context, id string) (quiz.Question, error) {
	if !isUUID(id) {
		return quiz.Question{}, quiz.ErrQuestionNotFound
	}
	var row questionRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+questionColumns+` FROM question WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return quiz.Question{}, quiz.ErrQuestionNotFound
		}
		return quiz.Question{}, errors.Wrap(err, "finding question by ID")
	}
	return unboilQuestion(row), nil
}

func (repo *quizRepository) ListQuestions(ctx context.Context, quizID string) ([]quiz.Question, error) {
	if !isUUID(quizID) {
		return []quiz.Question{}, nil
	}
	var rows []questionRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+questionColumns+` FROM question WHERE quiz_id = $1 ORDER BY position ASC`, quizID)
	if err != nil {
		return nil, errors.Wrap(err, "listing questions")
	}
	qns := make([]quiz.Question, 0, len(rows))
	for _, row := range rows {
		qns = append(qns, unboilQuestion(row))
	}
	return qns, nil
}

func (repo *quizRepository) UpdateQuestions(ctx context.Context, qns ...quiz.Question) error {
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		for _, qn := range qns {
			res, err := tx.NamedExecContext(ctx, `
				UPDATE question SET
					position = :position, kind = :kind, prompt = :prompt, options = :options,
					correct_answers = :correct_answers, points = :points
				WHERE id = :id`, boilQuestion(qn))
			if err != nil {
				return errors.Wrap(err, "updating question")
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return quiz.ErrQuestionNotFound
			}
		}
		return nil
	})
}

func (repo *quizRepository) DeleteQuestion(ctx context.Context, id string) error {
	if !isUUID(id) {
		return quiz.ErrQuestionNotFound
	}
	ok, err := execAffected(ctx, repo.db, `DELETE FROM question WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting question")
	}
	if !ok {
		return quiz.ErrQuestionNotFound
	}
	return nil
}

func (repo *quizRepository) CreateAttempt(ctx context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	a.ID = newID()
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO attempt (`+attemptColumns+`)
		VALUES (:id, :quiz_id, :student_id, :status, :started_at, :submitted_at, :submit_reason,
			:score, :max_score, :percentage, :passed, :violations)`, boilAttempt(a))
	if err != nil {
		return quiz.Attempt{}, errors.Wrap(err, "inserting attempt")
	}
	return a, nil
}

func (repo *quizRepository) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	if !isUUID(id) {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	var row attemptRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+attemptColumns+` FROM attempt WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return quiz.Attempt{}, quiz.ErrAttemptNotFound
		}
		return quiz.Attempt{}, errors.Wrap(err, "finding attempt by ID")
	}
	return unboilAttempt(row), nil
}

func (repo *quizRepository) QueryAttempts(ctx context.Context, filter quiz.AttemptFilter) ([]quiz.Attempt, error) {
	w := new(where)
	if filter.QuizID != "" {
		w.add("quiz_id::text = ?", filter.QuizID)
	}
	if len(filter.QuizIDs) > 0 {
		w.add("quiz_id::text IN (?)", filter.QuizIDs)
	}
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status IN (?)", filter.Statuses)
	}

	var rows []attemptRow
	if err := selectWhere(ctx, repo.db, &rows, `SELECT `+attemptColumns+` FROM attempt`, w, " ORDER BY started_at ASC"); err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}
	attempts := make([]quiz.Attempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, unboilAttempt(row))
	}
	return attempts, nil
}

// updateOpenAttempt saves a only while the stored attempt is still in progress.
func (repo *quizRepository) updateOpenAttempt(ctx context.Context, exec sqlx.ExtContext, a quiz.Attempt) error {
	query, args, err := sqlx.Named(`
		UPDATE attempt SET
			status = :status, submitted_at = :submitted_at, submit_reason = :submit_reason, score = :score,
			max_score = :max_score, percentage = :percentage, passed = :passed, violations = :violations
		WHERE id = :id AND status = '`+quiz.StatusInProgress+`'`, boilAttempt(a))
	if err != nil {
		return errors.Wrap(err, "binding attempt")
	}
	ok, err := execAffected(ctx, exec, exec.Rebind(query), args...)
	if err != nil {
		return errors.Wrap(err, "updating attempt")
	}
	if ok {
		return nil
	}

	var exists bool
	if err = sqlx.GetContext(ctx, exec, &exists, `SELECT EXISTS (SELECT 1 FROM attempt WHERE id = $1)`, a.ID); err != nil {
		return errors.Wrap(err, "checking attempt")
	}
	if !exists {
		return quiz.ErrAttemptNotFound
	}
	return quiz.ErrAttemptClosed
}

func (repo *quizRepository) UpdateAttempt(ctx context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	if err := repo.updateOpenAttempt(ctx, repo.db, a); err != nil {
		return quiz.Attempt{}, err
	}
	return a, nil
}

func (repo *quizRepository) FinalizeAttempt(ctx context.Context, a quiz.Attempt, graded []quiz.Response) (quiz.Attempt, error) {
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := repo.updateOpenAttempt(ctx, tx, a); err != nil {
			return err
		}
		for _, resp := range graded {
			_, err := tx.ExecContext(ctx,
				`UPDATE response SET is_correct = $2, points_awarded = $3 WHERE id = $1`,
				resp.ID, resp.IsCorrect, resp.PointsAwarded)
			if err != nil {
				return errors.Wrap(err, "grading response")
			}
		}
		return nil
	})
	if err != nil {
		return quiz.Attempt{}, err
	}
	return a, nil
}

func (repo *quizRepository) UpsertResponse(ctx context.Context, resp quiz.Response) (quiz.Response, error) {
	row := responseRow{
		ID:            newID(),
		AttemptID:     resp.AttemptID,
		QuestionID:    resp.QuestionID,
		Answer:        resp.Answer,
		IsCorrect:     resp.IsCorrect,
		PointsAwarded: resp.PointsAwarded,
		AnsweredAt:    resp.AnsweredAt.UTC(),
	}
	query, args, err := repo.db.BindNamed(`
		INSERT INTO response (`+responseColumns+`)
		VALUES (:id, :attempt_id, :question_id, :answer, :is_correct, :points_awarded, :answered_at)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			answer = EXCLUDED.answer, is_correct = EXCLUDED.is_correct,
			points_awarded = EXCLUDED.points_awarded, answered_at = EXCLUDED.answered_at
		RETURNING id`, row)
	if err != nil {
		return quiz.Response{}, errors.Wrap(err, "binding response")
	}
	if err = repo.db.GetContext(ctx, &row.ID, query, args...); err != nil {
		return quiz.Response{}, errors.Wrap(err, "upserting response")
	}
	return unboilResponse(row), nil
}

func (repo *quizRepository) ListResponses(ctx context.Context, attemptID string) ([]quiz.Response, error) {
	if !isUUID(attemptID) {
		return []quiz.Response{}, nil
	}
	var rows []responseRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+responseColumns+` FROM response WHERE attempt_id = $1 ORDER BY answered_at ASC`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "listing responses")
	}
	resps := make([]quiz.Response, 0, len(rows))
	for _, row := range rows {
		resps = append(resps, unboilResponse(row))
	}
	return resps, nil
}

func (repo *quizRepository) CreateViolation(ctx context.Context, v quiz.Violation) (quiz.Violation, error) {
	v.ID = newID()
	_, err := repo.db.ExecContext(ctx, `INSERT INTO violation (`+violationColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.AttemptID, v.Kind, v.Detail, v.OccurredAt.UTC())
	if err != nil {
		return quiz.Violation{}, errors.Wrap(err, "inserting violation")
	}
	return v, nil
}

func (repo *quizRepository) ListViolations(ctx context.Context, attemptID string) ([]quiz.Violation, error) {
	if !isUUID(attemptID) {
		return []quiz.Violation{}, nil
	}
	var rows []violationRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+violationColumns+` FROM violation WHERE attempt_id = $1 ORDER BY occurred_at ASC`, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "listing violations")
	}
	vs := make([]quiz.Violation, 0, len(rows))
	for _, row := range rows {
		vs = append(vs, quiz.Violation{
			ID:         row.ID,
			AttemptID:  row.AttemptID,
			Kind:       row.Kind,
			Detail:     row.Detail,
			OccurredAt: row.OccurredAt.UTC(),
		})
	}
	return vs, nil
}
