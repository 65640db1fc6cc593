package echoapi

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/quiz"
)

// access answers the object level permission questions of the handlers.
type access struct {
	branches branch.Service
	classes  class.Service
	quizzes  quiz.Service
}

func (a *access) managesBranch(ctx context.Context, claims Claims, branchID string) (bool, error) {
	if claims.IsAdmin {
		return true, nil
	}
	if !claims.IsBranchManager {
		return false, nil
	}
	b, err := a.branches.Get(ctx, branchID)
	if err != nil {
		if errors.Cause(err) == branch.ErrNotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "getting branch")
	}
	return b.ManagerID == claims.Subject, nil
}

// managedBranchID returns the ID of the branch managed by the user of the claims, "" if none.
func (a *access) managedBranchID(ctx context.Context, claims Claims) (string, error) {
	if !claims.IsBranchManager {
		return "", nil
	}
	b, err := a.branches.ManagedBy(ctx, claims.Subject)
	if err != nil {
		if errors.Cause(err) == branch.ErrNotFound {
			return "", nil
		}
		return "", errors.Wrap(err, "getting managed branch")
	}
	return b.ID, nil
}

// canManageClass: admins, the manager of the class branch and the class teacher.
func (a *access) canManageClass(ctx context.Context, claims Claims, cls class.Class) (bool, error) {
	if claims.IsAdmin || (claims.IsTeacher && cls.TeacherID == claims.Subject) {
		return true, nil
	}
	return a.managesBranch(ctx, claims, cls.BranchID)
}

// canViewClass: whoever can manage the class, its coach and its enrolled students.
func (a *access) canViewClass(ctx context.Context, claims Claims, cls class.Class) (bool, error) {
	ok, err := a.canManageClass(ctx, claims, cls)
	if err != nil || ok {
		return ok, err
	}
	if claims.IsCoach && cls.CoachID == claims.Subject {
		return true, nil
	}
	if claims.IsStudent {
		enrolled, err := a.classes.IsEnrolled(ctx, cls.ID, claims.Subject)
		return enrolled, errors.Wrap(err, "checking enrollment")
	}
	return false, nil
}

func (a *access) manageableClass(ctx context.Context, claims Claims, classID string) (class.Class, error) {
	cls, err := a.classes.GetClass(ctx, classID)
	if err != nil {
		return class.Class{}, err
	}
	ok, err := a.canManageClass(ctx, claims, cls)
	if err != nil {
		return class.Class{}, err
	}
	if !ok {
		return class.Class{}, errHttpForbidden
	}
	return cls, nil
}

func (a *access) viewableClass(ctx context.Context, claims Claims, classID string) (class.Class, error) {
	cls, err := a.classes.GetClass(ctx, classID)
	if err != nil {
		return class.Class{}, err
	}
	ok, err := a.canViewClass(ctx, claims, cls)
	if err != nil {
		return class.Class{}, err
	}
	if !ok {
		// do not leak the existence of the class
		return class.Class{}, class.ErrNotFound
	}
	return cls, nil
}

// manageableQuiz returns the quiz if the user of the claims can manage its class.
func (a *access) manageableQuiz(ctx context.Context, claims Claims, quizID string) (quiz.Quiz, error) {
	qz, err := a.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return quiz.Quiz{}, err
	}
	if _, err = a.manageableClass(ctx, claims, qz.ClassID); err != nil {
		return quiz.Quiz{}, err
	}
	return qz, nil
}

// viewableQuiz returns the quiz if the user of the claims can view its class.
// Students only see published quizzes.
func (a *access) viewableQuiz(ctx context.Context, claims Claims, quizID string) (quiz.Quiz, bool, error) {
	qz, err := a.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return quiz.Quiz{}, false, err
	}
	cls, err := a.classes.GetClass(ctx, qz.ClassID)
	if err != nil {
		return quiz.Quiz{}, false, err
	}
	canManage, err := a.canManageClass(ctx, claims, cls)
	if err != nil {
		return quiz.Quiz{}, false, err
	}
	if canManage {
		return qz, true, nil
	}
	canView, err := a.canViewClass(ctx, claims, cls)
	if err != nil {
		return quiz.Quiz{}, false, err
	}
	if !canView || !qz.IsPublished {
		return quiz.Quiz{}, false, quiz.ErrNotFound
	}
	return qz, false, nil
}

// scopeClasses restricts filter to the classes the user of the claims is involved in.
// It returns false if the user cannot see any class.
func (a *access) scopeClasses(ctx context.Context, claims Claims, filter *class.QueryFilter) (bool, error) {
	switch {
	case claims.IsAdmin:
	case claims.IsBranchManager:
		branchID, err := a.managedBranchID(ctx, claims)
		if err != nil || branchID == "" {
			return false, err
		}
		filter.BranchID = branchID
	case claims.IsCoach:
		filter.CoachID = claims.Subject
	case claims.IsTeacher:
		filter.TeacherID = claims.Subject
	case claims.IsStudent:
		filter.StudentID = claims.Subject
	default:
		return false, nil
	}
	return true, nil
}

// visibleClassIDs returns the IDs of the classes the user of the claims is involved in.
func (a *access) visibleClassIDs(ctx context.Context, claims Claims) ([]string, error) {
	filter := new(class.QueryFilter)
	ok, err := a.scopeClasses(ctx, claims, filter)
	if err != nil || !ok {
		return nil, err
	}
	classes, err := a.classes.QueryClasses(ctx, filter, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	ids := make([]string, 0, len(classes))
	for _, cls := range classes {
		ids = append(ids, cls.ID)
	}
	return ids, nil
}
