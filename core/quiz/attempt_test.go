package quiz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduro/core/quiz"
	logsvc "github.com/trezcool/eduro/services/logger"
	inmemdb "github.com/trezcool/eduro/storage/database/inmem"
	"github.com/trezcool/eduro/tests"
)

type enrollmentsMock map[string]bool // {classID/studentID: enrolled}

func (m enrollmentsMock) IsEnrolled(_ context.Context, classID, studentID string) (bool, error) {
	return m[classID+"/"+studentID], nil
}

type metricsMock struct {
	mu        sync.Mutex
	finalized []string
}

func (m *metricsMock) AttemptFinalized(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, reason)
}

func (m *metricsMock) CacheLookup(string, bool) {}

type attemptEnv struct {
	repo    quiz.Repository
	svc     quiz.AttemptService
	metrics *metricsMock
	advance func(d time.Duration)
}

func setupAttempts(t *testing.T) *attemptEnv {
	t.Helper()
	repo := inmemdb.NewQuizRepository(inmemdb.Open())
	metrics := new(metricsMock)
	enrollments := enrollmentsMock{"c1/alice": true, "c1/bob": true}
	return &attemptEnv{
		repo:    repo,
		svc:     quiz.NewAttemptService(repo, enrollments, metrics, logsvc.NopLogger{}),
		metrics: metrics,
		advance: clock(t, time.Date(2026, time.October, 5, 9, 0, 0, 0, time.UTC)),
	}
}

func (env *attemptEnv) quiz(t *testing.T, qz quiz.Quiz) (quiz.Quiz, []quiz.Question) {
	t.Helper()
	qz.ClassID = "c1"
	qz.IsPublished = true
	tf := quiz.Question{
		Kind:           quiz.KindTrueFalse,
		Prompt:         "The earth is flat",
		Options:        []string{"true", "false"},
		CorrectAnswers: []string{"false"},
		Points:         2,
	}
	return testutil.CreateQuiz(t, env.repo, qz, testutil.SingleChoice("2 + 2?", "4", "5"), tf)
}

func TestAttemptService_Start(t *testing.T) {
	ctx := context.Background()
	env := setupAttempts(t)
	qz, _ := env.quiz(t, quiz.Quiz{Title: "Week 1", MaxAttempts: 1})

	t.Run("quiz not found", func(t *testing.T) {
		_, err := env.svc.Start(ctx, "nope", "alice")
		assert.Equal(t, quiz.ErrNotFound, errors.Cause(err))
	})
	t.Run("unpublished", func(t *testing.T) {
		draft, _ := testutil.CreateQuiz(t, env.repo, quiz.Quiz{ClassID: "c1", Title: "Draft"})
		_, err := env.svc.Start(ctx, draft.ID, "alice")
		assert.Equal(t, quiz.ErrNotAvailable, errors.Cause(err))
	})
	t.Run("not yet open", func(t *testing.T) {
		later, _ := env.quiz(t, quiz.Quiz{Title: "Later", AvailableFrom: time.Date(2026, time.October, 6, 0, 0, 0, 0, time.UTC)})
		_, err := env.svc.Start(ctx, later.ID, "alice")
		assert.Equal(t, quiz.ErrNotAvailable, errors.Cause(err))
	})
	t.Run("not enrolled", func(t *testing.T) {
		_, err := env.svc.Start(ctx, qz.ID, "carol")
		assert.Equal(t, quiz.ErrNotEnrolled, err)
	})

	a, err := env.svc.Start(ctx, qz.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusInProgress, a.Status)
	assert.Equal(t, "alice", a.StudentID)

	t.Run("resume", func(t *testing.T) {
		resumed, err := env.svc.Start(ctx, qz.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, a.ID, resumed.ID)
	})
	t.Run("attempts exhausted", func(t *testing.T) {
		_, err := env.svc.Submit(ctx, a.ID, "alice")
		require.NoError(t, err)
		_, err = env.svc.Start(ctx, qz.ID, "alice")
		assert.Equal(t, quiz.ErrNotAvailable, errors.Cause(err))
	})
}

func TestAttemptService_answerAndSubmit(t *testing.T) {
	ctx := context.Background()
	env := setupAttempts(t)
	qz, qns := env.quiz(t, quiz.Quiz{Title: "Week 1", PassingScore: 50})
	a, err := env.svc.Start(ctx, qz.ID, "alice")
	require.NoError(t, err)

	page, err := env.svc.Question(ctx, a.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, -1, page.RemainingSeconds)
	assert.Empty(t, page.Answer)

	_, err = env.svc.Question(ctx, a.ID, "alice", 2)
	assert.Equal(t, quiz.ErrQuestionOutOfRange, err)
	_, err = env.svc.Question(ctx, a.ID, "bob", 0)
	assert.Equal(t, quiz.ErrAttemptNotFound, err)

	_, err = env.svc.Answer(ctx, a.ID, "alice", quiz.NewAnswer{QuestionID: qns[0].ID, Answer: []string{"5"}})
	require.NoError(t, err)
	// answers are replaced
	_, err = env.svc.Answer(ctx, a.ID, "alice", quiz.NewAnswer{QuestionID: qns[0].ID, Answer: []string{"4"}})
	require.NoError(t, err)
	page, err = env.svc.Question(ctx, a.ID, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, page.Answer)

	details, err := env.svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, details.CorrectAnswers)
	require.Len(t, details.Responses, 1)
	assert.False(t, details.Responses[0].IsCorrect)

	done, err := env.svc.Submit(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusCompleted, done.Status)
	assert.Equal(t, quiz.ReasonManual, done.SubmitReason)
	assert.Equal(t, 1, done.Score)
	assert.Equal(t, 3, done.MaxScore)
	assert.False(t, done.Passed)
	assert.Equal(t, []string{quiz.ReasonManual}, env.metrics.finalized)

	_, err = env.svc.Submit(ctx, a.ID, "alice")
	assert.Equal(t, quiz.ErrAttemptClosed, err)
	_, err = env.svc.Answer(ctx, a.ID, "alice", quiz.NewAnswer{QuestionID: qns[1].ID, Answer: []string{"false"}})
	assert.Equal(t, quiz.ErrAttemptClosed, err)

	details, err = env.svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, details.CorrectAnswers[qns[0].ID])
	require.Len(t, details.Responses, 1)
	assert.True(t, details.Responses[0].IsCorrect)
	assert.Equal(t, 1, details.Responses[0].PointsAwarded)
}

func TestAttemptService_timeout(t *testing.T) {
	ctx := context.Background()
	env := setupAttempts(t)
	qz, qns := env.quiz(t, quiz.Quiz{Title: "Timed", TimeLimit: 10})
	a, err := env.svc.Start(ctx, qz.ID, "alice")
	require.NoError(t, err)

	env.advance(4 * time.Minute)
	state, err := env.svc.State(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quiz.AttemptState{Status: quiz.StatusInProgress, RemainingSeconds: 360}, state)

	_, err = env.svc.Answer(ctx, a.ID, "alice", quiz.NewAnswer{QuestionID: qns[1].ID, Answer: []string{"false"}})
	require.NoError(t, err)

	env.advance(10 * time.Minute)
	_, err = env.svc.Answer(ctx, a.ID, "alice", quiz.NewAnswer{QuestionID: qns[0].ID, Answer: []string{"4"}})
	assert.Equal(t, quiz.ErrAttemptClosed, err)

	details, err := env.svc.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	closed := details.Attempt
	assert.Equal(t, quiz.StatusTimeout, closed.Status)
	assert.Equal(t, quiz.ReasonTimeout, closed.SubmitReason)
	assert.True(t, closed.SubmittedAt.Equal(a.StartedAt.Add(10*time.Minute)))
	assert.Equal(t, 2, closed.Score) // answered before the deadline

	state, err = env.svc.State(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, quiz.AttemptState{Status: quiz.StatusTimeout}, state)
}

func TestAttemptService_ReportViolation(t *testing.T) {
	ctx := context.Background()
	env := setupAttempts(t)
	qz, _ := env.quiz(t, quiz.Quiz{Title: "Proctored", MaxViolations: 2})
	a, err := env.svc.Start(ctx, qz.ID, "bob")
	require.NoError(t, err)

	nv := quiz.NewViolation{Kind: quiz.ViolationVisibilityHidden, Detail: "  tab switched "}
	a, err = env.svc.ReportViolation(ctx, a.ID, "bob", nv)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusInProgress, a.Status)
	assert.Equal(t, 1, a.Violations)

	a, err = env.svc.ReportViolation(ctx, a.ID, "bob", nv)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusCompleted, a.Status)
	assert.Equal(t, quiz.ReasonViolation, a.SubmitReason)
	assert.Equal(t, 2, a.Violations)

	_, err = env.svc.ReportViolation(ctx, a.ID, "bob", nv)
	assert.Equal(t, quiz.ErrAttemptClosed, err)

	vs, err := env.svc.ListViolations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, vs, 2)
	assert.Equal(t, "tab switched", vs[0].Detail)
	assert.Equal(t, []string{quiz.ReasonViolation}, env.metrics.finalized)

	t.Run("unproctored", func(t *testing.T) {
		free, _ := env.quiz(t, quiz.Quiz{Title: "Free"})
		a, err := env.svc.Start(ctx, free.ID, "bob")
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			a, err = env.svc.ReportViolation(ctx, a.ID, "bob", nv)
			require.NoError(t, err)
		}
		assert.Equal(t, quiz.StatusInProgress, a.Status)
	})
}

// stallingRepo blocks reads of one attempt until released.
type stallingRepo struct {
	quiz.Repository
	attemptID string
	entered   chan struct{}
	release   chan struct{}
}

func (r *stallingRepo) GetAttempt(ctx context.Context, id string) (quiz.Attempt, error) {
	if id == r.attemptID {
		r.entered <- struct{}{}
		<-r.release
	}
	return r.Repository.GetAttempt(ctx, id)
}

func TestAttemptService_locking(t *testing.T) {
	ctx := context.Background()

	t.Run("violations of an attempt are all counted", func(t *testing.T) {
		env := setupAttempts(t)
		qz, _ := env.quiz(t, quiz.Quiz{Title: "Free"})
		a, err := env.svc.Start(ctx, qz.ID, "bob")
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.ReportViolation(ctx, a.ID, "bob", quiz.NewViolation{Kind: quiz.ViolationVisibilityHidden})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		a, err = env.repo.GetAttempt(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, n, a.Violations)
	})
	t.Run("attempts do not wait for each other", func(t *testing.T) {
		env := setupAttempts(t)
		qz, _ := env.quiz(t, quiz.Quiz{Title: "Week 1"})
		alices, err := env.svc.Start(ctx, qz.ID, "alice")
		require.NoError(t, err)
		bobs, err := env.svc.Start(ctx, qz.ID, "bob")
		require.NoError(t, err)

		repo := &stallingRepo{
			Repository: env.repo,
			attemptID:  alices.ID,
			entered:    make(chan struct{}),
			release:    make(chan struct{}),
		}
		svc := quiz.NewAttemptService(repo, enrollmentsMock{}, env.metrics, logsvc.NopLogger{})

		stalled := make(chan error, 1)
		go func() {
			_, err := svc.State(ctx, alices.ID, "alice")
			stalled <- err
		}()
		<-repo.entered

		done := make(chan error, 1)
		go func() {
			_, err := svc.State(ctx, bobs.ID, "bob")
			done <- err
		}()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("State() of bob waited for alice's attempt")
		}

		close(repo.release)
		assert.NoError(t, <-stalled)
	})
}

func TestAttemptService_ExpireOverdue(t *testing.T) {
	ctx := context.Background()
	env := setupAttempts(t)
	timed, _ := env.quiz(t, quiz.Quiz{Title: "Timed", TimeLimit: 30})
	untimed, _ := env.quiz(t, quiz.Quiz{Title: "Untimed"})

	for _, qz := range []quiz.Quiz{timed, untimed} {
		for _, student := range []string{"alice", "bob"} {
			_, err := env.svc.Start(ctx, qz.ID, student)
			require.NoError(t, err)
		}
	}

	n, err := env.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.advance(time.Hour)
	n, err = env.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = env.svc.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	open, err := env.svc.ListAttempts(ctx, quiz.AttemptFilter{Statuses: []string{quiz.StatusInProgress}})
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, a := range open {
		assert.Equal(t, untimed.ID, a.QuizID)
	}
}

func TestSweeper_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		quiz.NewSweeper(nil, time.Hour, logsvc.NopLogger{}).Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return on cancelled context")
	}
}
