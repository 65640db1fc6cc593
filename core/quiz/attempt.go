package quiz

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

type (
	// Enrollments tells whether a student may take the quizzes of a class.
	Enrollments interface {
		IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
	}

	// AttemptService runs the quiz attempts of students.
	// Every student-facing method takes the studentID of the caller: attempts of other students are not found.
	AttemptService interface {
		Start(ctx context.Context, quizID, studentID string) (Attempt, error)
		Question(ctx context.Context, attemptID, studentID string, index int) (QuestionPage, error)
		Answer(ctx context.Context, attemptID, studentID string, na NewAnswer) (Response, error)
		ReportViolation(ctx context.Context, attemptID, studentID string, nv NewViolation) (Attempt, error)
		Submit(ctx context.Context, attemptID, studentID string) (Attempt, error)
		// State returns the live state of the attempt, finalizing it if it timed out.
		State(ctx context.Context, attemptID, studentID string) (AttemptState, error)

		// ExpireOverdue finalizes every in-progress attempt past its deadline, returning how many were closed.
		ExpireOverdue(ctx context.Context) (int, error)

		GetAttempt(ctx context.Context, attemptID string) (AttemptDetails, error)
		ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error)
		ListViolations(ctx context.Context, attemptID string) ([]Violation, error)
	}

	attemptService struct {
		repo        Repository
		enrollments Enrollments
		metrics     core.Metrics
		logger      core.Logger

		// serializes the read-modify-write cycles of each attempt (by id),
		// and the starts of each student on each quiz (by quiz/student)
		locks keyedMutex
	}
)

var _ AttemptService = (*attemptService)(nil)

func NewAttemptService(repo Repository, enrollments Enrollments, metrics core.Metrics, logger core.Logger) AttemptService {
	if metrics == nil {
		metrics = core.NopMetrics{}
	}
	return &attemptService{repo: repo, enrollments: enrollments, metrics: metrics, logger: logger}
}

func (svc *attemptService) Start(ctx context.Context, quizID, studentID string) (Attempt, error) {
	if quizID == "" {
		return Attempt{}, ErrNotFound
	}
	defer svc.locks.Lock("start:" + quizID + "/" + studentID)()
	q, err := svc.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return Attempt{}, err
	}

	attempts, err := svc.repo.QueryAttempts(ctx, AttemptFilter{QuizID: q.ID, StudentID: studentID})
	if err != nil {
		return Attempt{}, errors.Wrap(err, "querying attempts")
	}

	now := core.NowFunc()
	for _, a := range attempts {
		if a.Status != StatusInProgress {
			continue
		}
		if !IsExpired(a, q, now) {
			return a, nil // resume
		}
		if _, err = svc.expire(ctx, a.ID, q); err != nil {
			return Attempt{}, err
		}
	}

	if av := GetAvailability(q, now, len(attempts)); av != AvailabilityOpen {
		return Attempt{}, errors.Wrap(ErrNotAvailable, string(av))
	}

	enrolled, err := svc.enrollments.IsEnrolled(ctx, q.ClassID, studentID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Attempt{}, ErrNotEnrolled
	}

	return svc.repo.CreateAttempt(ctx, Attempt{
		QuizID:    q.ID,
		StudentID: studentID,
		Status:    StatusInProgress,
		StartedAt: now,
	})
}

// load returns the attempt of the student & its quiz.
func (svc *attemptService) load(ctx context.Context, attemptID, studentID string) (Attempt, Quiz, error) {
	if attemptID == "" {
		return Attempt{}, Quiz{}, ErrAttemptNotFound
	}
	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, Quiz{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, Quiz{}, ErrAttemptNotFound
	}
	q, err := svc.repo.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return Attempt{}, Quiz{}, errors.Wrap(err, "finding quiz")
	}
	return a, q, nil
}

// loadOpen is load for operations that need the attempt to be in progress.
// An attempt found past its deadline is finalized and reported closed.
func (svc *attemptService) loadOpen(ctx context.Context, attemptID, studentID string) (Attempt, Quiz, error) {
	a, q, err := svc.load(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, Quiz{}, err
	}
	if a.IsClosed() {
		return Attempt{}, Quiz{}, ErrAttemptClosed
	}
	if IsExpired(a, q, core.NowFunc()) {
		if _, err = svc.finalize(ctx, a, q, StatusTimeout, ReasonTimeout); err != nil {
			return Attempt{}, Quiz{}, err
		}
		return Attempt{}, Quiz{}, ErrAttemptClosed
	}
	return a, q, nil
}

func (svc *attemptService) Question(ctx context.Context, attemptID, studentID string, index int) (QuestionPage, error) {
	defer svc.locks.Lock(attemptID)()

	a, q, err := svc.loadOpen(ctx, attemptID, studentID)
	if err != nil {
		return QuestionPage{}, err
	}

	questions, err := svc.repo.ListQuestions(ctx, q.ID)
	if err != nil {
		return QuestionPage{}, errors.Wrap(err, "listing questions")
	}
	if index < 0 || index >= len(questions) {
		return QuestionPage{}, ErrQuestionOutOfRange
	}
	qn := attemptOrder(a, q, questions)[index]

	page := QuestionPage{
		Index:            index,
		Total:            len(questions),
		Question:         qn.View(),
		Answer:           []string{},
		RemainingSeconds: remainingSeconds(a, q, core.NowFunc()),
	}

	responses, err := svc.repo.ListResponses(ctx, a.ID)
	if err != nil {
		return QuestionPage{}, errors.Wrap(err, "listing responses")
	}
	for _, resp := range responses {
		if resp.QuestionID == qn.ID {
			page.Answer = resp.Answer
			break
		}
	}
	return page, nil
}

func (svc *attemptService) Answer(ctx context.Context, attemptID, studentID string, na NewAnswer) (Response, error) {
	defer svc.locks.Lock(attemptID)()

	a, q, err := svc.loadOpen(ctx, attemptID, studentID)
	if err != nil {
		return Response{}, err
	}

	qn, err := svc.repo.GetQuestion(ctx, na.QuestionID)
	if err != nil {
		return Response{}, err
	}
	if qn.QuizID != q.ID {
		return Response{}, ErrQuestionNotFound
	}

	answer := nonBlank(na.Answer)
	return svc.repo.UpsertResponse(ctx, Response{
		AttemptID:  a.ID,
		QuestionID: qn.ID,
		Answer:     answer,
		AnsweredAt: core.NowFunc(),
	})
}

func (svc *attemptService) ReportViolation(ctx context.Context, attemptID, studentID string, nv NewViolation) (Attempt, error) {
	defer svc.locks.Lock(attemptID)()

	a, q, err := svc.loadOpen(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, err
	}

	if _, err = svc.repo.CreateViolation(ctx, Violation{
		AttemptID:  a.ID,
		Kind:       nv.Kind,
		Detail:     core.CleanString(nv.Detail),
		OccurredAt: core.NowFunc(),
	}); err != nil {
		return Attempt{}, errors.Wrap(err, "recording violation")
	}

	a.Violations++
	if q.MaxViolations > 0 && a.Violations >= q.MaxViolations {
		return svc.finalize(ctx, a, q, StatusCompleted, ReasonViolation)
	}
	a, err = svc.repo.UpdateAttempt(ctx, a)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "updating attempt")
	}
	return a, nil
}

func (svc *attemptService) Submit(ctx context.Context, attemptID, studentID string) (Attempt, error) {
	defer svc.locks.Lock(attemptID)()

	a, q, err := svc.load(ctx, attemptID, studentID)
	if err != nil {
		return Attempt{}, err
	}
	if a.IsClosed() {
		return Attempt{}, ErrAttemptClosed
	}
	if IsExpired(a, q, core.NowFunc()) {
		return svc.finalize(ctx, a, q, StatusTimeout, ReasonTimeout)
	}
	return svc.finalize(ctx, a, q, StatusCompleted, ReasonManual)
}

func (svc *attemptService) State(ctx context.Context, attemptID, studentID string) (AttemptState, error) {
	defer svc.locks.Lock(attemptID)()

	a, q, err := svc.load(ctx, attemptID, studentID)
	if err != nil {
		return AttemptState{}, err
	}
	now := core.NowFunc()
	if !a.IsClosed() && IsExpired(a, q, now) {
		if a, err = svc.finalize(ctx, a, q, StatusTimeout, ReasonTimeout); err != nil {
			return AttemptState{}, err
		}
	}
	if a.IsClosed() {
		return AttemptState{Status: a.Status, RemainingSeconds: 0}, nil
	}
	return AttemptState{Status: a.Status, RemainingSeconds: remainingSeconds(a, q, now)}, nil
}

func (svc *attemptService) ExpireOverdue(ctx context.Context) (int, error) {
	attempts, err := svc.repo.QueryAttempts(ctx, AttemptFilter{Statuses: []string{StatusInProgress}})
	if err != nil {
		return 0, errors.Wrap(err, "querying attempts")
	}

	var count int
	now := core.NowFunc()
	quizzes := make(map[string]Quiz)
	for _, a := range attempts {
		q, ok := quizzes[a.QuizID]
		if !ok {
			if q, err = svc.repo.GetQuiz(ctx, a.QuizID); err != nil {
				return count, errors.Wrap(err, "finding quiz")
			}
			quizzes[q.ID] = q
		}
		if !IsExpired(a, q, now) {
			continue
		}
		expired, err := svc.expire(ctx, a.ID, q)
		if err != nil {
			return count, err
		}
		if expired {
			count++
		}
	}
	return count, nil
}

// expire finalizes the attempt as timed out, under its lock, reporting false if it was already closed.
// The attempt is reloaded first: it may have changed since it was listed.
func (svc *attemptService) expire(ctx context.Context, attemptID string, q Quiz) (bool, error) {
	defer svc.locks.Lock(attemptID)()

	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return false, errors.Wrap(err, "finding attempt")
	}
	if a.IsClosed() {
		return false, nil
	}
	if _, err = svc.finalize(ctx, a, q, StatusTimeout, ReasonTimeout); err != nil {
		return false, err
	}
	return true, nil
}

// finalize grades the attempt & closes it. Already closed attempts are returned as they are.
func (svc *attemptService) finalize(ctx context.Context, a Attempt, q Quiz, status, reason string) (Attempt, error) {
	if a.IsClosed() {
		return a, nil
	}

	questions, err := svc.repo.ListQuestions(ctx, q.ID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "listing questions")
	}
	responses, err := svc.repo.ListResponses(ctx, a.ID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "listing responses")
	}

	byID := make(map[string]Question, len(questions))
	for _, qn := range questions {
		byID[qn.ID] = qn
	}
	graded := make([]Response, 0, len(responses))
	for _, resp := range responses {
		if qn, ok := byID[resp.QuestionID]; ok {
			resp.IsCorrect, resp.PointsAwarded = GradeAnswer(qn, resp.Answer)
		}
		graded = append(graded, resp)
	}

	res := Score(q, questions, responses)
	a.Status = status
	a.SubmitReason = reason
	a.Score = res.Score
	a.MaxScore = res.MaxScore
	a.Percentage = res.Percentage
	a.Passed = res.Passed
	a.SubmittedAt = core.NowFunc()
	if deadline, ok := Deadline(a, q); ok && status == StatusTimeout && deadline.Before(a.SubmittedAt) {
		a.SubmittedAt = deadline
	}

	finalized, err := svc.repo.FinalizeAttempt(ctx, a, graded)
	if err != nil {
		if errors.Cause(err) == ErrAttemptClosed {
			// closed concurrently (eg: by another instance's sweeper)
			return svc.repo.GetAttempt(ctx, a.ID)
		}
		return Attempt{}, errors.Wrap(err, "finalizing attempt")
	}
	svc.metrics.AttemptFinalized(reason)
	return finalized, nil
}

func (svc *attemptService) GetAttempt(ctx context.Context, attemptID string) (AttemptDetails, error) {
	if attemptID == "" {
		return AttemptDetails{}, ErrAttemptNotFound
	}
	a, err := svc.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return AttemptDetails{}, err
	}
	q, err := svc.repo.GetQuiz(ctx, a.QuizID)
	if err != nil {
		return AttemptDetails{}, errors.Wrap(err, "finding quiz")
	}
	questions, err := svc.repo.ListQuestions(ctx, a.QuizID)
	if err != nil {
		return AttemptDetails{}, errors.Wrap(err, "listing questions")
	}
	responses, err := svc.repo.ListResponses(ctx, a.ID)
	if err != nil {
		return AttemptDetails{}, errors.Wrap(err, "listing responses")
	}

	details := AttemptDetails{
		Attempt:   a,
		Questions: make([]QuestionView, 0, len(questions)),
		Responses: responses,
	}
	ordered := attemptOrder(a, q, questions)
	for _, qn := range ordered {
		details.Questions = append(details.Questions, qn.View())
	}
	if a.IsClosed() {
		details.CorrectAnswers = make(map[string][]string, len(questions))
		for _, qn := range questions {
			details.CorrectAnswers[qn.ID] = qn.CorrectAnswers
		}
	} else {
		// not graded yet
		for i := range details.Responses {
			details.Responses[i].IsCorrect = false
			details.Responses[i].PointsAwarded = 0
		}
	}
	return details, nil
}

func (svc *attemptService) ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, error) {
	return svc.repo.QueryAttempts(ctx, filter)
}

func (svc *attemptService) ListViolations(ctx context.Context, attemptID string) ([]Violation, error) {
	return svc.repo.ListViolations(ctx, attemptID)
}

// attemptOrder returns the questions in the order the attempt shows them.
// Shuffled quizzes get a stable order per attempt.
func attemptOrder(a Attempt, q Quiz, questions []Question) []Question {
	ordered := make([]Question, len(questions))
	copy(ordered, questions)
	if !q.ShuffleQuestions || len(ordered) < 2 {
		return ordered
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.ID))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))
	rnd.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	return ordered
}

// Sweeper periodically times out the attempts whose deadline passed while nobody was looking.
type Sweeper struct {
	svc      AttemptService
	interval time.Duration
	logger   core.Logger
}

func NewSweeper(svc AttemptService, interval time.Duration, logger core.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.svc.ExpireOverdue(ctx)
			if err != nil {
				s.logger.Error("expiring overdue attempts", err)
				continue
			}
			if n > 0 {
				s.logger.Info("expired overdue attempts", map[string]interface{}{"count": n})
			}
		}
	}
}
