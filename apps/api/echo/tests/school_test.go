package tests

import (
	"testing"

	"github.com/trezcool/eduro/core/branch"
	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/user"
	"github.com/trezcool/eduro/tests"
)

// school is a branch with a class of two active students, and its staff.
type school struct {
	admin, manager, teacher, coach user.User
	alice, bob, carol              user.User // carol is not enrolled
	branch                         branch.Branch
	class                          class.Class
}

func newSchool(t *testing.T, env *testEnv) school {
	t.Helper()
	var s school
	s.admin = testutil.CreateUser(t, env.usrRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	s.manager = testutil.CreateUser(t, env.usrRepo, "Manager", "manager", "manager@test.cd", "", []string{user.RoleBranchManager}, true)
	s.teacher = testutil.CreateUser(t, env.usrRepo, "Teacher", "teacher", "teacher@test.cd", "", []string{user.RoleTeacher}, true)
	s.coach = testutil.CreateUser(t, env.usrRepo, "Coach", "coach", "coach@test.cd", "", []string{user.RoleCoach}, true)
	s.alice = testutil.CreateUser(t, env.usrRepo, "Alice", "alice", "alice@test.cd", "", []string{user.RoleStudent}, true)
	s.bob = testutil.CreateUser(t, env.usrRepo, "Bob", "bob", "bob@test.cd", "", []string{user.RoleStudent}, true)
	s.carol = testutil.CreateUser(t, env.usrRepo, "Carol", "carol", "carol@test.cd", "", []string{user.RoleStudent}, true)

	s.branch = testutil.CreateBranch(t, env.brRepo, "Downtown", s.manager.ID)
	s.class = testutil.CreateClass(t, env.clsRepo, s.branch.ID, s.teacher.ID, s.coach.ID, "Algebra", 3)
	testutil.Enroll(t, env.clsRepo, s.class.ID, s.alice.ID, class.EnrollmentActive)
	testutil.Enroll(t, env.clsRepo, s.class.ID, s.bob.ID, class.EnrollmentActive)
	return s
}
