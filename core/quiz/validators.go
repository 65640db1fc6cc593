package quiz

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/eduro/core"
)

var (
	choiceOptionsTag  = "choiceopts"
	choiceOptionsText = "choice questions need at least 2 options"

	singleAnswerTag  = "singleanswer"
	singleAnswerText = "exactly one correct answer is required"

	answersInOptionsTag  = "answersinopts"
	answersInOptionsText = "correct answers must be among the options"

	trueFalseTag  = "truefalse"
	trueFalseText = "correct answer must be true or false"

	untilAfterFromTag  = "untilafterfrom"
	untilAfterFromText = "available_until must be after available_from"

	answerTexts = map[string]string{
		choiceOptionsTag:    choiceOptionsText,
		singleAnswerTag:     singleAnswerText,
		answersInOptionsTag: answersInOptionsText,
		trueFalseTag:        trueFalseText,
	}
)

// InitValidators registers the quiz validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(quizStructValidation, NewQuiz{})
	core.RegisterCustomTranslation(validate, translator, untilAfterFromTag, untilAfterFromText)

	validate.RegisterStructValidation(questionStructValidation, NewQuestion{})
	for tag, text := range answerTexts {
		core.RegisterCustomTranslation(validate, translator, tag, text)
	}
}

func quizStructValidation(sl validator.StructLevel) {
	nq := sl.Current().Interface().(NewQuiz)
	if !nq.AvailableFrom.IsZero() && !nq.AvailableUntil.IsZero() && nq.AvailableUntil.Before(nq.AvailableFrom) {
		sl.ReportError(nq.AvailableUntil, "available_until", "AvailableUntil", untilAfterFromTag, "")
	}
}

func questionStructValidation(sl validator.StructLevel) {
	nq := sl.Current().Interface().(NewQuestion)
	if len(nq.CorrectAnswers) == 0 {
		return // reported by `required`
	}
	switch tag := answersProblem(nq.Kind, nq.Options, nq.CorrectAnswers); tag {
	case "":
	case choiceOptionsTag:
		sl.ReportError(nq.Options, "options", "Options", tag, "")
	default:
		sl.ReportError(nq.CorrectAnswers, "correct_answers", "CorrectAnswers", tag, "")
	}
}

// validateAnswers checks the answers of an existing question after an update.
func validateAnswers(kind string, options, answers []string) error {
	tag := answersProblem(kind, options, answers)
	if tag == "" {
		return nil
	}
	field := "correct_answers"
	if tag == choiceOptionsTag {
		field = "options"
	}
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: answerTexts[tag]})
}

// answersProblem returns the tag of the first rule broken by the options & correct answers of a question.
func answersProblem(kind string, options, answers []string) string {
	switch kind {
	case KindSingleChoice, KindMultipleChoice:
		if len(options) < 2 {
			return choiceOptionsTag
		}
		if kind == KindSingleChoice && len(answers) != 1 {
			return singleAnswerTag
		}
		opts := make(map[string]struct{}, len(options))
		for _, opt := range options {
			opts[strings.TrimSpace(opt)] = struct{}{}
		}
		for _, ans := range answers {
			if _, ok := opts[strings.TrimSpace(ans)]; !ok {
				return answersInOptionsTag
			}
		}
	case KindTrueFalse:
		if len(answers) != 1 {
			return singleAnswerTag
		}
		if ans := strings.ToLower(strings.TrimSpace(answers[0])); ans != "true" && ans != "false" {
			return trueFalseTag
		}
	}
	return ""
}
