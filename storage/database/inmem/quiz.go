package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/eduro/core"
	"github.com/trezcool/eduro/core/quiz"
)

type quizRepository struct {
	quizzes    *table[quiz.Quiz]
	questions  *table[quiz.Question]
	attempts   *table[quiz.Attempt]
	responses  *table[quiz.Response]
	violations *table[quiz.Violation]
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{
		quizzes:    db.quiz,
		questions:  db.question,
		attempts:   db.attempt,
		responses:  db.response,
		violations: db.violation,
	}
}

var quizOrderings = map[string]comparator[quiz.Quiz]{
	"title":           func(a, b quiz.Quiz) int { return strings.Compare(a.Title, b.Title) },
	"available_from":  func(a, b quiz.Quiz) int { return a.AvailableFrom.Compare(b.AvailableFrom) },
	"available_until": func(a, b quiz.Quiz) int { return a.AvailableUntil.Compare(b.AvailableUntil) },
	"created_at":      func(a, b quiz.Quiz) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

func (repo *quizRepository) CreateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	q.ID = newID()
	repo.quizzes.rows[q.ID] = q
	return q, nil
}

func (repo *quizRepository) GetQuiz(_ context.Context, id string) (quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	if q, ok := repo.quizzes.rows[id]; ok {
		return q, nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) QueryQuizzes(_ context.Context, filter *quiz.QueryFilter, ordering []core.DBOrdering) ([]quiz.Quiz, error) {
	repo.quizzes.RLock()
	defer repo.quizzes.RUnlock()

	quizzes := repo.quizzes.filter(func(q quiz.Quiz) bool {
		if filter == nil {
			return true
		}
		if filter.ClassID != "" && q.ClassID != filter.ClassID {
			return false
		}
		if len(filter.ClassIDs) > 0 && !containsStr(filter.ClassIDs, q.ClassID) {
			return false
		}
		if filter.IsPublished != nil && q.IsPublished != *filter.IsPublished {
			return false
		}
		if filter.Search != "" && !matches(filter.Search, q.Title, q.Description) {
			return false
		}
		return true
	})
	sortRows(quizzes, ordering, quizOrderings, core.DBOrdering{Field: "created_at", Ascending: true})
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(_ context.Context, q quiz.Quiz) (quiz.Quiz, error) {
	repo.quizzes.Lock()
	defer repo.quizzes.Unlock()

	if _, ok := repo.quizzes.rows[q.ID]; !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	repo.quizzes.rows[q.ID] = q
	return q, nil
}

func (repo *quizRepository) DeleteQuiz(_ context.Context, id string) error {
	repo.quizzes.Lock()
	if _, ok := repo.quizzes.rows[id]; !ok {
		repo.quizzes.Unlock()
		return quiz.ErrNotFound
	}
	delete(repo.quizzes.rows, id)
	repo.quizzes.Unlock()

	// ON DELETE CASCADE
	repo.questions.Lock()
	for qnID, qn := range repo.questions.rows {
		if qn.QuizID == id {
			delete(repo.questions.rows, qnID)
		}
	}
	repo.questions.Unlock()

	repo.attempts.Lock()
	defer repo.attempts.Unlock()
	for aID, a := range repo.attempts.rows {
		if a.QuizID == id {
			delete(repo.attempts.rows, aID)
		}
	}
	return nil
}

func (repo *quizRepository) CreateQuestion(_ context.Context, qn quiz.Question) (quiz.Question, error) {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	qn.ID = newID()
	repo.questions.rows[qn.ID] = qn
	return qn, nil
}

func (repo *quizRepository) GetQuestion(_ context.Context, id string) (quiz.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	if qn, ok := repo.questions.rows[id]; ok {
		return qn, nil
	}
	return quiz.Question{}, quiz.ErrQuestionNotFound
}

func (repo *quizRepository) ListQuestions(_ context.Context, quizID string) ([]quiz.Question, error) {
	repo.questions.RLock()
	defer repo.questions.RUnlock()

	qns := repo.questions.filter(func(qn quiz.Question) bool { return qn.QuizID == quizID })
	sortRows(qns, nil, map[string]comparator[quiz.Question]{
		"position": func(a, b quiz.Question) int { return a.Position - b.Position },
	}, core.DBOrdering{Field: "position", Ascending: true})
	return qns, nil
}

func (repo *quizRepository) UpdateQuestions(_ context.Context, qns ...quiz.Question) error {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	for _, qn := range qns {
		if _, ok := repo.questions.rows[qn.ID]; !ok {
			return quiz.ErrQuestionNotFound
		}
	}
	for _, qn := range qns {
		repo.questions.rows[qn.ID] = qn
	}
	return nil
}

func (repo *quizRepository) DeleteQuestion(_ context.Context, id string) error {
	repo.questions.Lock()
	defer repo.questions.Unlock()

	if _, ok := repo.questions.rows[id]; !ok {
		return quiz.ErrQuestionNotFound
	}
	delete(repo.questions.rows, id)
	return nil
}

func (repo *quizRepository) CreateAttempt(_ context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	a.ID = newID()
	repo.attempts.rows[a.ID] = a
	return a, nil
}

func (repo *quizRepository) GetAttempt(_ context.Context, id string) (quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	if a, ok := repo.attempts.rows[id]; ok {
		return a, nil
	}
	return quiz.Attempt{}, quiz.ErrAttemptNotFound
}

func (repo *quizRepository) QueryAttempts(_ context.Context, filter quiz.AttemptFilter) ([]quiz.Attempt, error) {
	repo.attempts.RLock()
	defer repo.attempts.RUnlock()

	attempts := repo.attempts.filter(func(a quiz.Attempt) bool {
		if filter.QuizID != "" && a.QuizID != filter.QuizID {
			return false
		}
		if len(filter.QuizIDs) > 0 && !containsStr(filter.QuizIDs, a.QuizID) {
			return false
		}
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			return false
		}
		if len(filter.Statuses) > 0 && !containsStr(filter.Statuses, a.Status) {
			return false
		}
		return true
	})
	sortRows(attempts, nil, map[string]comparator[quiz.Attempt]{
		"started_at": func(a, b quiz.Attempt) int { return a.StartedAt.Compare(b.StartedAt) },
	}, core.DBOrdering{Field: "started_at", Ascending: true})
	return attempts, nil
}

func (repo *quizRepository) UpdateAttempt(_ context.Context, a quiz.Attempt) (quiz.Attempt, error) {
	repo.attempts.Lock()
	defer repo.attempts.Unlock()

	orig, ok := repo.attempts.rows[a.ID]
	if !ok {
		return quiz.Attempt{}, quiz.ErrAttemptNotFound
	}
	if orig.IsClosed() {
		return quiz.Attempt{}, quiz.ErrAttemptClosed
	}
	repo.attempts.rows[a.ID] = a
	return a, nil
}

func (repo *quizRepository) FinalizeAttempt(ctx context.Context, a quiz.Attempt, graded []quiz.Response) (quiz.Attempt, error) {
	a, err := repo.UpdateAttempt(ctx, a)
	if err != nil {
		return quiz.Attempt{}, err
	}

	repo.responses.Lock()
	defer repo.responses.Unlock()
	for _, resp := range graded {
		if _, ok := repo.responses.rows[resp.ID]; ok {
			repo.responses.rows[resp.ID] = resp
		}
	}
	return a, nil
}

func (repo *quizRepository) UpsertResponse(_ context.Context, resp quiz.Response) (quiz.Response, error) {
	repo.responses.Lock()
	defer repo.responses.Unlock()

	for id, existing := range repo.responses.rows {
		if existing.AttemptID == resp.AttemptID && existing.QuestionID == resp.QuestionID {
			resp.ID = id
			repo.responses.rows[id] = resp
			return resp, nil
		}
	}
	resp.ID = newID()
	repo.responses.rows[resp.ID] = resp
	return resp, nil
}

func (repo *quizRepository) ListResponses(_ context.Context, attemptID string) ([]quiz.Response, error) {
	repo.responses.RLock()
	defer repo.responses.RUnlock()

	resps := repo.responses.filter(func(resp quiz.Response) bool { return resp.AttemptID == attemptID })
	sortRows(resps, nil, map[string]comparator[quiz.Response]{
		"answered_at": func(a, b quiz.Response) int { return a.AnsweredAt.Compare(b.AnsweredAt) },
	}, core.DBOrdering{Field: "answered_at", Ascending: true})
	return resps, nil
}

func (repo *quizRepository) CreateViolation(_ context.Context, v quiz.Violation) (quiz.Violation, error) {
	repo.violations.Lock()
	defer repo.violations.Unlock()

	v.ID = newID()
	repo.violations.rows[v.ID] = v
	return v, nil
}

func (repo *quizRepository) ListViolations(_ context.Context, attemptID string) ([]quiz.Violation, error) {
	repo.violations.RLock()
	defer repo.violations.RUnlock()

	vs := repo.violations.filter(func(v quiz.Violation) bool { return v.AttemptID == attemptID })
	sortRows(vs, nil, map[string]comparator[quiz.Violation]{
		"occurred_at": func(a, b quiz.Violation) int { return a.OccurredAt.Compare(b.OccurredAt) },
	}, core.DBOrdering{Field: "occurred_at", Ascending: true})
	return vs, nil
}
