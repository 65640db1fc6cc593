package quiz

import (
	"math"
	"strings"
	"time"
)

// Availability states of a quiz for a given student.
const (
	AvailabilityUnpublished Availability = "unpublished"
	AvailabilityUpcoming    Availability = "upcoming"
	AvailabilityClosed      Availability = "closed"
	AvailabilityExhausted   Availability = "exhausted"
	AvailabilityOpen        Availability = "open"
)

type Availability string

// Result is the grading outcome of an attempt.
type Result struct {
	Score      int     `json:"score"`
	MaxScore   int     `json:"max_score"`
	Percentage float64 `json:"percentage"`
	Passed     bool    `json:"passed"`
}

// GetAvailability tells whether a student who already used `attemptsUsed` attempts may start the quiz at `now`.
func GetAvailability(q Quiz, now time.Time, attemptsUsed int) Availability {
	switch {
	case !q.IsPublished:
		return AvailabilityUnpublished
	case !q.AvailableFrom.IsZero() && now.Before(q.AvailableFrom):
		return AvailabilityUpcoming
	case !q.AvailableUntil.IsZero() && now.After(q.AvailableUntil):
		return AvailabilityClosed
	case q.MaxAttempts > 0 && attemptsUsed >= q.MaxAttempts:
		return AvailabilityExhausted
	default:
		return AvailabilityOpen
	}
}

// Deadline returns when the attempt times out. ok is false for untimed quizzes.
func Deadline(a Attempt, q Quiz) (deadline time.Time, ok bool) {
	if q.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return a.StartedAt.Add(q.TimeLimitDuration()), true
}

// Remaining returns the time left on the attempt, never negative. Untimed quizzes have no remaining time.
func Remaining(a Attempt, q Quiz, now time.Time) time.Duration {
	deadline, ok := Deadline(a, q)
	if !ok {
		return 0
	}
	if left := deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// IsExpired reports whether a timed attempt reached its deadline.
func IsExpired(a Attempt, q Quiz, now time.Time) bool {
	deadline, ok := Deadline(a, q)
	return ok && !now.Before(deadline)
}

// remainingSeconds is Remaining rounded up to the second, -1 if untimed.
func remainingSeconds(a Attempt, q Quiz, now time.Time) int {
	if _, ok := Deadline(a, q); !ok {
		return -1
	}
	return int(math.Ceil(Remaining(a, q, now).Seconds()))
}

// GradeAnswer grades an answer to a question. Points are all or nothing.
func GradeAnswer(qn Question, answer []string) (correct bool, points int) {
	answer = nonBlank(answer)
	if len(answer) == 0 || len(qn.CorrectAnswers) == 0 {
		return false, 0
	}

	switch qn.Kind {
	case KindSingleChoice:
		correct = len(answer) == 1 && answer[0] == strings.TrimSpace(qn.CorrectAnswers[0])
	case KindTrueFalse:
		correct = len(answer) == 1 && strings.EqualFold(answer[0], strings.TrimSpace(qn.CorrectAnswers[0]))
	case KindMultipleChoice:
		correct = sameSet(answer, nonBlank(qn.CorrectAnswers))
	case KindShortAnswer:
		if len(answer) == 1 {
			given := normalizeShort(answer[0])
			for _, accepted := range qn.CorrectAnswers {
				if given == normalizeShort(accepted) {
					correct = true
					break
				}
			}
		}
	}

	if correct {
		return true, qn.Points
	}
	return false, 0
}

// Score grades all responses of an attempt against the quiz questions.
// Unanswered questions are worth 0 points.
func Score(q Quiz, questions []Question, responses []Response) Result {
	answers := make(map[string][]string, len(responses))
	for _, resp := range responses {
		answers[resp.QuestionID] = resp.Answer
	}

	var res Result
	for _, qn := range questions {
		res.MaxScore += qn.Points
		if ans, ok := answers[qn.ID]; ok {
			_, pts := GradeAnswer(qn, ans)
			res.Score += pts
		}
	}

	if res.MaxScore > 0 {
		res.Percentage = math.Round(float64(res.Score)/float64(res.MaxScore)*100*100) / 100
	}
	res.Passed = res.Percentage >= q.PassingScore
	return res
}

func nonBlank(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeShort(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func sameSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for v := range setA {
		if _, ok := setB[v]; !ok {
			return false
		}
	}
	return true
}
